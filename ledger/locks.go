/*
locks.go - Per-user mutual exclusion with a bounded wait

PURPOSE:
  Read-then-append sequences (redeem, refund, accrue, sweep) need
  exclusive access to a user's ledger tail. Two concurrent redemptions
  by the same user must not both observe a stale "sufficient" balance.

  The unit of exclusion is the user. Operations on different users run
  fully in parallel; operations on the same user queue behind a per-user
  lock. Acquisition is capped by a timeout: on expiry the caller gets
  ErrBusy with no side effect, instead of hanging.

IMPLEMENTATION:
  One buffered channel of capacity 1 per user, created lazily and
  reference-counted so idle users don't accumulate channels forever.
*/
package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Locks provides per-user exclusive locks with a bounded acquisition wait.
type Locks struct {
	timeout time.Duration

	mu    sync.Mutex
	users map[UserID]*userLock
}

type userLock struct {
	ch   chan struct{}
	refs int
}

// NewLocks creates a lock set. timeout caps how long Acquire waits
// before failing with ErrBusy.
func NewLocks(timeout time.Duration) *Locks {
	return &Locks{
		timeout: timeout,
		users:   make(map[UserID]*userLock),
	}
}

// Acquire takes the user's lock, waiting at most the configured timeout.
// The returned release function must be called exactly once.
func (l *Locks) Acquire(ctx context.Context, userID UserID) (release func(), err error) {
	l.mu.Lock()
	ul, ok := l.users[userID]
	if !ok {
		ul = &userLock{ch: make(chan struct{}, 1)}
		l.users[userID] = ul
	}
	ul.refs++
	l.mu.Unlock()

	timer := time.NewTimer(l.timeout)
	defer timer.Stop()

	select {
	case ul.ch <- struct{}{}:
		return func() {
			<-ul.ch
			l.put(userID, ul)
		}, nil
	case <-timer.C:
		l.put(userID, ul)
		return nil, fmt.Errorf("%w: user %s", ErrBusy, userID)
	case <-ctx.Done():
		l.put(userID, ul)
		return nil, ctx.Err()
	}
}

func (l *Locks) put(userID UserID, ul *userLock) {
	l.mu.Lock()
	ul.refs--
	if ul.refs == 0 {
		delete(l.users, userID)
	}
	l.mu.Unlock()
}
