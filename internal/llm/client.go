package llm

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("analyst.llm")

// Completer turns a structured prompt into its parsed output fields.
type Completer interface {
	Complete(ctx context.Context, p Prompt) (Completion, error)
}

// Generator is a raw text-in, text-out model backend.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Client renders prompts for a Generator and parses its replies.
type Client struct {
	gen     Generator
	timeout time.Duration
	log     *zap.Logger
}

var _ Completer = (*Client)(nil)

func NewClient(gen Generator, timeout time.Duration, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{gen: gen, timeout: timeout, log: log.Named("llm")}
}

func (c *Client) Complete(ctx context.Context, p Prompt) (Completion, error) {
	ctx, span := tracer.Start(ctx, "llm.Complete",
		trace.WithAttributes(attribute.String("llm.prompt", p.Name)),
	)
	defer span.End()

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	reply, err := c.gen.Generate(ctx, p.Render())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Completion{}, fmt.Errorf("%s completion: %w", p.Name, err)
	}
	c.log.Debug("completion received",
		zap.String("prompt", p.Name),
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("reply_len", len(reply)),
	)

	out, err := p.Parse(reply)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return out, fmt.Errorf("%s completion: %w", p.Name, err)
	}
	return out, nil
}
