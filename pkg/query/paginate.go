package query

import (
	"errors"

	"github.com/cuemby/driftbox/pkg/dkey"
)

// ErrAnchorNotFound is returned by Paginate when an anchor id isn't
// present in the sorted id stream.
var ErrAnchorNotFound = errors.New("query: anchor not found")

// Page describes one page request over a sorted id stream: either
// plain position-based paging (Position, negative for "from the end"),
// or anchor-relative paging (Anchor + AnchorOffset).
type Page struct {
	Position     int64
	Limit        int
	Anchor       *dkey.DocumentId
	AnchorOffset int64
}

// Paginate slices ids according to p, returning the page and the
// resolved zero-based start position (for the response's `position`
// field).
func Paginate(ids []dkey.DocumentId, p Page) ([]dkey.DocumentId, int, error) {
	total := len(ids)
	start := 0

	switch {
	case p.Anchor != nil:
		idx := -1
		for i, id := range ids {
			if id == *p.Anchor {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, 0, ErrAnchorNotFound
		}
		start = idx + int(p.AnchorOffset)
	case p.Position < 0:
		start = total + int(p.Position)
	default:
		start = int(p.Position)
	}

	if start < 0 {
		start = 0
	}
	if start > total {
		start = total
	}

	end := total
	if p.Limit > 0 && start+p.Limit < total {
		end = start + p.Limit
	}
	return ids[start:end], start, nil
}
