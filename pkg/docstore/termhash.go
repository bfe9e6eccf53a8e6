package docstore

// TermIdResolver assigns a small stable integer id to a word, backed by
// pkg/core's shared term-id cache (word -> term-id) with a per-word
// lock so concurrent first writers never mint two ids for the same
// word. docstore only depends on the resolver function, not the cache
// that implements it.
type TermIdResolver func(word string) (uint64, error)
