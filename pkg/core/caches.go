package core

import (
	"sync"

	"github.com/cuemby/driftbox/pkg/dkey"
	"github.com/cuemby/driftbox/pkg/orm"
)

// ormKey addresses one cached ORM payload.
type ormKey struct {
	acct dkey.AccountId
	coll dkey.Collection
	doc  dkey.DocumentId
}

// ormCache caches (account,doc) -> *orm.Object, invalidated on the
// writer's path. A plain mutex-guarded map is enough: the cache is
// invalidated synchronously on every write under the
// per-(account,collection) named lock, so there is never a stale read
// racing a concurrent write to the same entry.
type ormCache struct {
	mu sync.RWMutex
	m  map[ormKey]*orm.Object
}

func newORMCache() *ormCache {
	return &ormCache{m: make(map[ormKey]*orm.Object)}
}

func (c *ormCache) get(acct dkey.AccountId, coll dkey.Collection, doc dkey.DocumentId) (*orm.Object, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	o, ok := c.m[ormKey{acct, coll, doc}]
	return o, ok
}

func (c *ormCache) put(acct dkey.AccountId, coll dkey.Collection, doc dkey.DocumentId, o *orm.Object) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[ormKey{acct, coll, doc}] = o
}

func (c *ormCache) invalidate(acct dkey.AccountId, coll dkey.Collection, doc dkey.DocumentId) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, ormKey{acct, coll, doc})
}

// termIdCache assigns a stable integer id to a word the first time it
// is seen, guarded by a per-word lock so two concurrent first writers
// of the same new term never mint two different ids for it.
type termIdCache struct {
	mu    sync.Mutex
	ids   map[string]uint64
	locks map[string]*sync.Mutex
	next  uint64
}

func newTermIdCache() *termIdCache {
	return &termIdCache{
		ids:   make(map[string]uint64),
		locks: make(map[string]*sync.Mutex),
		next:  1,
	}
}

func (c *termIdCache) wordLock(word string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[word]
	if !ok {
		l = &sync.Mutex{}
		c.locks[word] = l
	}
	return l
}

// Resolve implements docstore.TermIdResolver: look up word's id under
// its own lock, assigning a fresh one on first sight.
func (c *termIdCache) Resolve(word string) (uint64, error) {
	l := c.wordLock(word)
	l.Lock()
	defer l.Unlock()

	c.mu.Lock()
	if id, ok := c.ids[word]; ok {
		c.mu.Unlock()
		return id, nil
	}
	c.mu.Unlock()

	c.mu.Lock()
	id := c.next
	c.next++
	c.ids[word] = id
	c.mu.Unlock()
	return id, nil
}

// RecipientType classifies an email address for ingestion fan-out.
type RecipientType int

const (
	RecipientNone RecipientType = iota
	RecipientIndividual
	RecipientList
)

// recipientCache caches email -> RecipientType lookups pkg/ingest
// performs against pkg/principal on every delivery, invalidated
// whenever a Principal document is created, updated, or deleted.
type recipientCache struct {
	mu sync.RWMutex
	m  map[string]RecipientType
}

func newRecipientCache() *recipientCache {
	return &recipientCache{m: make(map[string]RecipientType)}
}

func (c *recipientCache) get(email string) (RecipientType, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.m[email]
	return t, ok
}

func (c *recipientCache) put(email string, t RecipientType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[email] = t
}

func (c *recipientCache) invalidate(email string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, email)
}
