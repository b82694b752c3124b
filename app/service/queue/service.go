package queue

import (
	"context"
	"errors"
	"sync"

	"github.com/samber/do"
)

var ErrClosed = errors.New("queue is shut down")

var _ do.Shutdownable = (*Service)(nil)

// Service serializes work per key: at most one holder per conversation id at a time.
// Distinct keys never block each other.
type Service struct {
	mu     sync.Mutex
	lanes  map[string]*lane
	closed bool
}

type lane struct {
	slot chan struct{}
	refs int
}

func New(_ *do.Injector) (*Service, error) {
	return NewService(), nil
}

func NewService() *Service {
	return &Service{
		lanes: make(map[string]*lane),
	}
}

// Acquire blocks until the lane for key is free or ctx is done.
// The returned release func is idempotent.
func (s *Service) Acquire(ctx context.Context, key string) (func(), error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}

	l, ok := s.lanes[key]
	if !ok {
		l = &lane{slot: make(chan struct{}, 1)}
		s.lanes[key] = l
	}
	l.refs++
	s.mu.Unlock()

	select {
	case l.slot <- struct{}{}:
	case <-ctx.Done():
		s.drop(key, l)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.slot
			s.drop(key, l)
		})
	}, nil
}

func (s *Service) drop(key string, l *lane) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l.refs--
	if l.refs == 0 {
		delete(s.lanes, key)
	}
}

// Len returns the number of keys currently held or waited on.
func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.lanes)
}

func (s *Service) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true

	return nil
}
