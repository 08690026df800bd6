// Package batch answers a JSONL file of questions and writes one JSONL
// output record per accepted line.
package batch

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mpataki/analyst/internal/models"
)

// maxLine bounds a single input line.
const maxLine = 1 << 20

// Answerer turns one request into its output record. *orchestrator.Orchestrator
// satisfies it.
type Answerer interface {
	Answer(ctx context.Context, req models.Request) models.Output
}

type Runner struct {
	answerer    Answerer
	concurrency int
	validate    *validator.Validate
	log         *zap.Logger
}

func NewRunner(a Answerer, concurrency int, log *zap.Logger) *Runner {
	if concurrency < 1 {
		concurrency = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{
		answerer:    a,
		concurrency: concurrency,
		validate:    validator.New(),
		log:         log.Named("batch"),
	}
}

// Summary reports what a batch did.
type Summary struct {
	Processed int
	Skipped   int
}

// Read parses JSONL requests. Blank lines are ignored; malformed, invalid or
// oversized lines are skipped with a warning. A request without an id gets
// its line number.
func (r *Runner) Read(in io.Reader) ([]models.Request, int, error) {
	br := bufio.NewReaderSize(in, 64*1024)

	var reqs []models.Request
	skipped := 0
	lineNum := 0
	for {
		raw, oversized, err := readLine(br)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, skipped, fmt.Errorf("failed to read batch: %w", err)
		}
		lineNum++
		if oversized {
			r.log.Warn("skipping oversized line", zap.Int("line", lineNum), zap.Int("max_bytes", maxLine))
			skipped++
			continue
		}
		line := strings.TrimSpace(string(raw))
		if line == "" {
			continue
		}

		var req models.Request
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			r.log.Warn("skipping malformed line", zap.Int("line", lineNum), zap.Error(err))
			skipped++
			continue
		}
		if err := r.validate.Struct(req); err != nil {
			r.log.Warn("skipping invalid request", zap.Int("line", lineNum), zap.Error(err))
			skipped++
			continue
		}
		if req.ID == "" {
			req.ID = strconv.Itoa(lineNum)
		}
		reqs = append(reqs, req)
	}
	return reqs, skipped, nil
}

// readLine returns the next line without its terminator. A line longer than
// maxLine is consumed but not kept, and oversized is set. io.EOF is returned
// only when no bytes remain.
func readLine(br *bufio.Reader) (line []byte, oversized bool, err error) {
	for {
		frag, isPrefix, err := br.ReadLine()
		if err != nil {
			if err == io.EOF && (len(line) > 0 || oversized) {
				return line, oversized, nil
			}
			return nil, false, err
		}
		if !oversized {
			if len(line)+len(frag) > maxLine {
				oversized = true
				line = nil
			} else {
				line = append(line, frag...)
			}
		}
		if !isPrefix {
			return line, oversized, nil
		}
	}
}

// Answer processes requests with at most concurrency in flight. Outputs keep
// input order.
func (r *Runner) Answer(ctx context.Context, reqs []models.Request) ([]models.Output, error) {
	outputs := make([]models.Output, len(reqs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, req := range reqs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			r.log.Info("processing question", zap.String("id", req.ID))
			outputs[i] = r.answerer.Answer(ctx, req)
			r.log.Info("completed question",
				zap.String("id", req.ID),
				zap.Float64("confidence", outputs[i].Confidence),
			)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outputs, nil
}

// Run reads every request from in, answers them and writes the outputs to
// out as JSONL.
func (r *Runner) Run(ctx context.Context, in io.Reader, out io.Writer) (Summary, error) {
	reqs, skipped, err := r.Read(in)
	if err != nil {
		return Summary{Skipped: skipped}, err
	}

	outputs, err := r.Answer(ctx, reqs)
	if err != nil {
		return Summary{Skipped: skipped}, err
	}

	if err := Write(out, outputs); err != nil {
		return Summary{Skipped: skipped}, err
	}
	return Summary{Processed: len(outputs), Skipped: skipped}, nil
}

// Write encodes one output per line.
func Write(w io.Writer, outputs []models.Output) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	for _, o := range outputs {
		if err := enc.Encode(o); err != nil {
			return fmt.Errorf("failed to write output %s: %w", o.ID, err)
		}
	}
	return bw.Flush()
}
