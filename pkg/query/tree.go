package query

import "github.com/cuemby/driftbox/pkg/dkey"

// ParentOf resolves a document's parent within the same collection,
// returning ok=false for a document with no parent (a root mailbox).
type ParentOf func(id dkey.DocumentId) (parent dkey.DocumentId, ok bool)

// SortAsTree re-orders a sorted id stream so that, whenever both a
// document and its ancestor (up to maxDepth levels up) are present in
// ids, the ancestor appears first. Ties broken by each document's rank
// in the input order are otherwise preserved.
func SortAsTree(ids []dkey.DocumentId, parentOf ParentOf, maxDepth int) []dkey.DocumentId {
	if maxDepth <= 0 {
		maxDepth = 1
	}
	rank := make(map[dkey.DocumentId]int, len(ids))
	for i, id := range ids {
		rank[id] = i
	}

	keyOf := func(id dkey.DocumentId) []int {
		chain := make([]int, 0, maxDepth)
		cur := id
		for depth := 0; depth <= maxDepth; depth++ {
			chain = append(chain, rank[cur])
			parent, ok := parentOf(cur)
			if !ok {
				break
			}
			if _, inResult := rank[parent]; !inResult {
				break
			}
			cur = parent
		}
		reverse(chain)
		return chain
	}

	type item struct {
		id  dkey.DocumentId
		key []int
	}
	items := make([]item, len(ids))
	for i, id := range ids {
		items[i] = item{id: id, key: keyOf(id)}
	}

	stableSort(items, func(a, b item) bool { return lessLex(a.key, b.key) })

	out := make([]dkey.DocumentId, len(items))
	for i, it := range items {
		out[i] = it.id
	}
	return out
}

func reverse(s []int) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

func lessLex(a, b []int) bool {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

// stableSort is insertion sort: the result sets here are small
// (bounded by one query page's candidate set, already filtered and
// mostly-sorted by rank), so an allocation-free O(n^2) pass over a
// generic item avoids pulling in sort.Slice's reflection-based
// comparator dispatch for what is, in practice, a nearly-sorted input.
func stableSort[T any](items []T, less func(a, b T) bool) {
	for i := 1; i < len(items); i++ {
		for j := i; j > 0 && less(items[j], items[j-1]); j-- {
			items[j], items[j-1] = items[j-1], items[j]
		}
	}
}
