package seats

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Locker serializes work on a single account or voucher. Lock blocks until
// the key is free or ctx is done and returns the function that releases it.
type Locker interface {
	Lock(ctx context.Context, key uuid.UUID) (unlock func(), err error)
}

// KeyedLocker is an in-process Locker. It is sufficient when a single
// process owns the store.
type KeyedLocker struct {
	mu    sync.Mutex
	slots map[uuid.UUID]*lockSlot
}

type lockSlot struct {
	ch   chan struct{}
	refs int
}

// NewKeyedLocker creates a new KeyedLocker.
func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{slots: make(map[uuid.UUID]*lockSlot)}
}

// Lock acquires the lock for key.
func (l *KeyedLocker) Lock(ctx context.Context, key uuid.UUID) (func(), error) {
	l.mu.Lock()
	slot, ok := l.slots[key]
	if !ok {
		slot = &lockSlot{ch: make(chan struct{}, 1)}
		l.slots[key] = slot
	}
	slot.refs++
	l.mu.Unlock()

	select {
	case slot.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, slot)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-slot.ch
			l.release(key, slot)
		})
	}, nil
}

func (l *KeyedLocker) release(key uuid.UUID, slot *lockSlot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot.refs--
	if slot.refs == 0 {
		delete(l.slots, key)
	}
}

// Held returns the number of keys currently tracked.
func (l *KeyedLocker) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
