package llm

import (
	"context"
	"sync"
)

// Fake is a scripted adapter for tests and offline runs. Responses are
// returned in order; once the script runs out the last response
// repeats. Every request is recorded.
type Fake struct {
	mu        sync.Mutex
	responses []string
	next      int
	err       error
	requests  []Request
}

// NewFake builds a fake that plays back responses in order. With no
// responses it completes to an empty string.
func NewFake(responses ...string) *Fake {
	return &Fake{responses: responses}
}

// FailWith makes every subsequent Complete return err.
func (f *Fake) FailWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// Requests returns a copy of every request seen so far.
func (f *Fake) Requests() []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Request, len(f.requests))
	copy(out, f.requests)
	return out
}

func (f *Fake) Complete(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, req)
	if f.err != nil {
		return "", f.err
	}
	if len(f.responses) == 0 {
		return "", nil
	}
	resp := f.responses[f.next]
	if f.next < len(f.responses)-1 {
		f.next++
	}
	return resp, nil
}

func (f *Fake) Name() string { return "fake" }

var _ Adapter = (*Fake)(nil)
