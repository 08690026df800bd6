// Package llmtest provides a scripted llm.Completer for tests.
package llmtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/mpataki/analyst/internal/llm"
)

// Reply is one scripted answer. When Err is set it is returned instead of
// parsing Text.
type Reply struct {
	Text string
	Err  error
}

// Fake answers prompts by name from per-prompt queues. The last reply of a
// queue is repeated once the queue is drained.
type Fake struct {
	mu      sync.Mutex
	replies map[string][]Reply
	calls   []llm.Prompt
}

func New() *Fake {
	return &Fake{replies: make(map[string][]Reply)}
}

// On queues text replies for the named prompt.
func (f *Fake) On(name string, texts ...string) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range texts {
		f.replies[name] = append(f.replies[name], Reply{Text: t})
	}
	return f
}

// Fail queues an error reply for the named prompt.
func (f *Fake) Fail(name string, err error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[name] = append(f.replies[name], Reply{Err: err})
	return f
}

func (f *Fake) Complete(_ context.Context, p llm.Prompt) (llm.Completion, error) {
	f.mu.Lock()
	f.calls = append(f.calls, p)
	queue := f.replies[p.Name]
	var r Reply
	switch {
	case len(queue) == 0:
		f.mu.Unlock()
		return llm.Completion{}, fmt.Errorf("no scripted reply for %q", p.Name)
	case len(queue) == 1:
		r = queue[0]
	default:
		r = queue[0]
		f.replies[p.Name] = queue[1:]
	}
	f.mu.Unlock()

	if r.Err != nil {
		return llm.Completion{}, r.Err
	}
	return p.Parse(r.Text)
}

// Calls returns the prompts received so far, optionally filtered by name.
func (f *Fake) Calls(name string) []llm.Prompt {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []llm.Prompt
	for _, p := range f.calls {
		if name == "" || p.Name == name {
			out = append(out, p)
		}
	}
	return out
}

// Input returns the value of the named input field of p.
func Input(p llm.Prompt, field string) string {
	for _, f := range p.Inputs {
		if f.Name == field {
			return f.Value
		}
	}
	return ""
}
