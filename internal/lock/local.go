package lock

import (
	"context"
	"sync"
)

// LocalLocker serializes callers inside one process with a keyed mutex.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[string]*slot)}
}

func (l *LocalLocker) Lock(ctx context.Context, key string) (Unlock, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}

	l.mu.Lock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-s.ch
				l.drop(key, s)
			})
		}, nil
	case <-ctx.Done():
		l.drop(key, s)
		return nil, ErrAcquireTimeout
	}
}

func (l *LocalLocker) drop(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

func (l *LocalLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
