package core

import (
	"sync"

	"github.com/cuemby/driftbox/pkg/dkey"
)

// acctLockKey names one (account, collection) serialization domain.
type acctLockKey struct {
	acct dkey.AccountId
	coll dkey.Collection
}

// acctLocks is a keyed lock map (a sync.Map of *sync.Mutex, one named
// singleton per key) serializing every mutation within one (account,
// collection) pair: change-id allocation, thread-merge
// baselines, and ORM diff reads all need a stable view of "the current
// state" across the read-diff-write sequence of one write.
type acctLocks struct {
	m sync.Map // acctLockKey -> *sync.Mutex
}

func newAcctLocks() *acctLocks {
	return &acctLocks{}
}

func (l *acctLocks) lockFor(acct dkey.AccountId, coll dkey.Collection) *sync.Mutex {
	key := acctLockKey{acct, coll}
	v, _ := l.m.LoadOrStore(key, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// WithLock runs fn while holding the named lock for (acct, coll),
// serializing it against every other writer to that same pair.
func (l *acctLocks) WithLock(acct dkey.AccountId, coll dkey.Collection, fn func() error) error {
	mu := l.lockFor(acct, coll)
	mu.Lock()
	defer mu.Unlock()
	return fn()
}
