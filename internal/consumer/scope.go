package consumer

import (
	"fmt"
	"log/slog"

	"go.uber.org/multierr"
)

// releaseStack unwinds acquired resources in reverse acquisition order.
type releaseStack struct {
	names []string
	fns   []func() error
}

func (s *releaseStack) push(name string, fn func() error) {
	s.names = append(s.names, name)
	s.fns = append(s.fns, fn)
}

// unwind releases everything and empties the stack. Every failure is logged;
// the combined error is returned for callers that care.
func (s *releaseStack) unwind(log *slog.Logger) error {
	var err error
	for i := len(s.fns) - 1; i >= 0; i-- {
		if rerr := s.fns[i](); rerr != nil {
			log.Warn("release failed", "resource", s.names[i], "err", rerr)
			err = multierr.Append(err, fmt.Errorf("release %s: %w", s.names[i], rerr))
		}
	}
	s.names, s.fns = nil, nil
	return err
}
