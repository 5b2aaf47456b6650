package triage

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"triage_server/core/domain"
	"triage_server/core/port/out"
)

type sentReply struct {
	msg  *domain.EmailMessage
	body string
}

type fakeMailbox struct {
	mu       sync.Mutex
	unread   []domain.MessageRef
	messages map[string]*domain.EmailMessage

	listErr error
	getErr  error
	sendErr error
	markErr error

	listCalls int
	getCalls  int
	sent      []sentReply
	marked    []string
}

func (f *fakeMailbox) ListUnread(context.Context) ([]domain.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	return f.unread, f.listErr
}

func (f *fakeMailbox) Get(_ context.Context, id string) (*domain.EmailMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if f.getErr != nil {
		return nil, f.getErr
	}
	msg, ok := f.messages[id]
	if !ok {
		return nil, errors.New("unknown message " + id)
	}
	return msg, nil
}

func (f *fakeMailbox) SendReply(ctx context.Context, msg *domain.EmailMessage, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, sentReply{msg: msg, body: body})
	return nil
}

func (f *fakeMailbox) MarkRead(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.markErr != nil {
		return f.markErr
	}
	f.marked = append(f.marked, id)
	return nil
}

type fakeSearcher struct {
	items  []domain.CatalogItem
	calls  int
	params domain.SearchParameters
}

func (f *fakeSearcher) Search(_ context.Context, params domain.SearchParameters) []domain.CatalogItem {
	f.calls++
	f.params = params
	return f.items
}

type fakeNotifier struct {
	err  error
	sent []*domain.Escalation
}

func (f *fakeNotifier) Notify(ctx context.Context, e *domain.Escalation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, e)
	return nil
}

type fakeLocker struct {
	held     map[string]bool
	err      error
	released []string
}

func (f *fakeLocker) TryLock(_ context.Context, id string, _ time.Duration) (out.Unlock, bool, error) {
	if f.err != nil {
		return nil, false, f.err
	}
	if f.held[id] {
		return nil, false, nil
	}
	return func(context.Context) error {
		f.released = append(f.released, id)
		return nil
	}, true, nil
}

// scriptedModel answers each prompt kind with a fixed output and counts calls.
type scriptedModel struct {
	mu sync.Mutex

	classify string
	params   string
	judge    string
	reply    string
	errs     map[string]error

	// block makes calls of these kinds wait for ctx to end.
	block map[string]bool
	// before runs ahead of answering a call.
	before func(kind string)

	calls map[string]int
}

const (
	kindClassify = "classify"
	kindParams   = "params"
	kindJudge    = "judge"
	kindReply    = "reply"
)

func promptKind(prompt string) string {
	switch {
	case strings.Contains(prompt, "return *only* one label"):
		return kindClassify
	case strings.Contains(prompt, "eBay search parameter JSON object"):
		return kindParams
	case strings.Contains(prompt, "Judgement:"):
		return kindJudge
	case strings.Contains(prompt, "Reply body:"):
		return kindReply
	}
	return "unknown"
}

func (s *scriptedModel) Complete(ctx context.Context, _ string, prompt string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kind := promptKind(prompt)
	if s.calls == nil {
		s.calls = make(map[string]int)
	}
	s.calls[kind]++

	if s.block[kind] {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if s.before != nil {
		s.before(kind)
	}

	if err := s.errs[kind]; err != nil {
		return "", err
	}
	switch kind {
	case kindClassify:
		return s.classify, nil
	case kindParams:
		return s.params, nil
	case kindJudge:
		return s.judge, nil
	case kindReply:
		return s.reply, nil
	}
	return "", errors.New("unexpected prompt")
}

func (s *scriptedModel) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		n += c
	}
	return n
}

func (s *scriptedModel) count(kind string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[kind]
}
