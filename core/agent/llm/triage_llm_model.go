package llm

import (
	"context"
	"errors"
	"strings"

	"triage_server/pkg/apperr"
)

// ErrModelUnavailable is returned for calls on a model that failed to initialize.
var ErrModelUnavailable = errors.New("model not initialized")

// Model is a handle to one named model on a completer. A handle whose
// initialization failed stays usable as a value but every call fails fast.
type Model struct {
	name      string
	completer Completer
	initErr   error
}

// NewModel binds name to completer. An empty name or nil completer yields
// an uninitialized handle.
func NewModel(name string, completer Completer) *Model {
	m := &Model{name: strings.TrimSpace(name), completer: completer}
	switch {
	case completer == nil:
		m.initErr = errors.New("no completion client")
	case m.name == "":
		m.initErr = errors.New("empty model name")
	}
	return m
}

// UnavailableModel returns a handle that records why initialization failed.
func UnavailableModel(name string, err error) *Model {
	if err == nil {
		err = ErrModelUnavailable
	}
	return &Model{name: name, initErr: err}
}

func (m *Model) Name() string {
	if m == nil {
		return ""
	}
	return m.name
}

// Err returns the initialization error, or nil when the model is usable.
func (m *Model) Err() error {
	if m == nil {
		return ErrModelUnavailable
	}
	if m.initErr != nil {
		return apperr.Wrap(m.initErr, apperr.CodeModelUnavailable, "model "+m.name+" unavailable")
	}
	return nil
}

func (m *Model) complete(ctx context.Context, prompt string) (string, error) {
	if err := m.Err(); err != nil {
		return "", err
	}
	return m.completer.Complete(ctx, m.name, prompt)
}
