package core

import (
	"context"
	"errors"
	"sync"
)

var errBrokenPipe = errors.New("broken pipe")

// recorder is a Sender that keeps every envelope it was handed.
type recorder struct {
	mu   sync.Mutex
	got  []any
	fail bool
}

func (r *recorder) Send(_ context.Context, v any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errBrokenPipe
	}
	r.got = append(r.got, v)
	return nil
}

func (r *recorder) envelopes() []Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Envelope, 0, len(r.got))
	for _, v := range r.got {
		if env, ok := v.(Envelope); ok {
			out = append(out, env)
		}
	}
	return out
}

func newTestConnection(aid, name string) (*Connection, *recorder) {
	rec := &recorder{}
	return NewConnection("conn-"+aid, aid, name, rec), rec
}
