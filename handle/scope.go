package handle

import (
	"sync"

	"go.uber.org/multierr"

	"github.com/wippyai/js-bridge/errors"
)

// Scope collects releasable references and releases all of them on Close,
// giving callers a deferred release on every exit path:
//
//	s := handle.NewScope()
//	defer s.Close()
//	s.Add(proxy)
type Scope struct {
	items  []Releaser
	mu     sync.Mutex
	closed bool
}

// NewScope creates an empty scope.
func NewScope() *Scope {
	return &Scope{}
}

type tableHandle struct {
	t *Table
	h Handle
}

func (th tableHandle) Release() error { return th.t.Release(th.h) }

// Add registers r for release. Adding to a closed scope releases r at once.
func (s *Scope) Add(r Releaser) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return r.Release()
	}
	s.items = append(s.items, r)
	s.mu.Unlock()
	return nil
}

// Track registers a raw handle of t for release.
func (s *Scope) Track(t *Table, h Handle) error {
	return s.Add(tableHandle{t: t, h: h})
}

// Len returns the number of tracked references.
func (s *Scope) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Close releases every tracked reference in reverse order. References
// already released elsewhere are skipped; other failures are combined.
func (s *Scope) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	items := s.items
	s.items = nil
	s.mu.Unlock()

	var err error
	for i := len(items) - 1; i >= 0; i-- {
		if rerr := items[i].Release(); rerr != nil && !errors.IsKind(rerr, errors.KindStaleHandle) {
			err = multierr.Append(err, rerr)
		}
	}
	return err
}
