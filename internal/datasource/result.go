package datasource

import (
	"context"
	"errors"
	"fmt"

	"ktail/internal/config"
)

type KeyKind int

const (
	// External keys are opaque to the host and handed back unchanged.
	External KeyKind = iota
	// Internal keys are host-interpreted values; they are never resumption
	// tokens.
	Internal
)

func (k KeyKind) String() string {
	switch k {
	case External:
		return "external"
	case Internal:
		return "internal"
	default:
		return fmt.Sprintf("KeyKind(%d)", int(k))
	}
}

// Key carries a resumption token between fetches.
type Key struct {
	Kind  KeyKind
	Value []byte
}

// ErrNoToken is reported by Result.Token when a fetch ended without error but
// produced no token.
var ErrNoToken = errors.New("datasource: no resumption token")

// Result is a running fetch. Data is closed when the read ends; at most one
// Key follows on Tokens, after which Tokens is closed.
type Result struct {
	Format config.Format
	Stages []string
	Data   <-chan []byte

	tokens chan Key
	done   chan struct{}
	err    error
}

func newResult(format config.Format, stages []string, data <-chan []byte) *Result {
	return &Result{
		Format: format,
		Stages: stages,
		Data:   data,
		tokens: make(chan Key, 1),
		done:   make(chan struct{}),
	}
}

func (r *Result) finish(err error) {
	r.err = err
	close(r.done)
}

func (r *Result) Tokens() <-chan Key { return r.tokens }

// Done is closed once the fetch is finalized.
func (r *Result) Done() <-chan struct{} { return r.done }

// Err waits for finalization and reports why no token was produced, if any.
func (r *Result) Err() error {
	<-r.done
	return r.err
}

// Token waits for the resumption token.
func (r *Result) Token(ctx context.Context) (Key, error) {
	select {
	case k, ok := <-r.tokens:
		if ok {
			return k, nil
		}
		if err := r.Err(); err != nil {
			return Key{}, err
		}
		return Key{}, ErrNoToken
	case <-ctx.Done():
		return Key{}, ctx.Err()
	}
}
