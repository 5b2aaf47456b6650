package llm

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"triage_server/pkg/retry"
)

type fakeResponse struct {
	text string
	err  error
}

// fakeCompleter replays responses in order; the last one repeats.
type fakeCompleter struct {
	mu        sync.Mutex
	responses []fakeResponse
	calls     int
	prompts   []string
	models    []string
}

func (f *fakeCompleter) Complete(_ context.Context, model, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	f.prompts = append(f.prompts, prompt)
	f.models = append(f.models, model)
	if len(f.responses) == 0 {
		return "", nil
	}
	idx := f.calls - 1
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	r := f.responses[idx]
	return r.text, r.err
}

func replying(texts ...string) *fakeCompleter {
	f := &fakeCompleter{}
	for _, t := range texts {
		f.responses = append(f.responses, fakeResponse{text: t})
	}
	return f
}

func failing(err error) *fakeCompleter {
	return &fakeCompleter{responses: []fakeResponse{{err: err}}}
}

func testCaller() *Caller {
	return NewCaller(retry.Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Multiplier:  2,
		Wait:        func(context.Context, time.Duration) error { return nil },
	}, zerolog.Nop())
}
