// Package docstore turns the property-level mutations pkg/orm computes
// into the concrete key-value deltas a document write commits: stored
// values, sortable index entries, full-text term deltas, tag deltas,
// and blob links, plus the per-account document-ids bitmap update.
// Change-log and Raft-log entries are appended by the caller into the
// same kv.Batch this package returns, so the whole write still commits
// in one kv.Store.Apply call.
package docstore

import (
	"github.com/cuemby/driftbox/pkg/bitmap"
	"github.com/cuemby/driftbox/pkg/dkey"
	"github.com/cuemby/driftbox/pkg/kv"
	"github.com/cuemby/driftbox/pkg/textindex"
)

// DocOp distinguishes a document insert (which sets the document's bit
// in the per-collection used-ids bitmap) from an update (which does
// not). Deletion is handled entirely by pkg/tombstone.
type DocOp int

const (
	DocInsert DocOp = iota
	DocUpdate
)

// BlobRef is one blob reference a document carries, linked under the
// Blobs family for the lifetime of the owning document.
type BlobRef struct {
	Hash     dkey.BlobHash
	Size     uint64
	SubIndex *uint32
}

// BuildBatch assembles the kv ops for one document write: field
// mutations (stored values, sortable indexes, full-text terms, tags),
// blob links, and the document-ids bitmap update for inserts.
func BuildBatch(
	acct dkey.AccountId,
	coll dkey.Collection,
	doc dkey.DocumentId,
	mutations []FieldMutation,
	blobRefs []BlobRef,
	op DocOp,
	resolve TermIdResolver,
	tok textindex.Tokenizer,
	stem textindex.Stemmer,
) (*kv.Batch, error) {
	b := &kv.Batch{}

	positions := make(map[dkey.FieldId][]textindex.PositionEntry)
	clearedText := make(map[dkey.FieldId]bool)

	for _, m := range mutations {
		field := dkey.FieldId(m.Property)
		switch m.Kind {
		case SetStored:
			b.Put(kv.FamilyValues, dkey.ValueKey(acct, coll, doc, field, dkey.SubNone), m.Bytes)

		case ClearStored:
			b.Delete(kv.FamilyValues, dkey.ValueKey(acct, coll, doc, field, dkey.SubNone))

		case SetIndex:
			b.Put(kv.FamilyIndexes, dkey.IndexKey(acct, coll, field, m.Bytes, doc), nil)

		case ClearIndex:
			b.Delete(kv.FamilyIndexes, dkey.IndexKey(acct, coll, field, m.Bytes, doc))

		case SetTag:
			delta := bitmap.EncodeBitlist([]bitmap.Op{{Set: true, ID: uint32(doc)}})
			b.Merge(kv.FamilyBitmaps, dkey.TagBitmapKey(acct, coll, field, m.Bytes), delta)

		case ClearTag:
			delta := bitmap.EncodeBitlist([]bitmap.Op{{Set: false, ID: uint32(doc)}})
			b.Merge(kv.FamilyBitmaps, dkey.TagBitmapKey(acct, coll, field, m.Bytes), delta)

		case SetText:
			occs, err := analyzeAndEmitTerms(b, acct, coll, field, doc, m.Text, true, resolve, tok, stem, positions)
			if err != nil {
				return nil, err
			}
			_ = occs

		case ClearText:
			clearedText[field] = true
			if _, err := analyzeAndEmitTerms(b, acct, coll, field, doc, m.Text, false, resolve, tok, stem, nil); err != nil {
				return nil, err
			}
		}
	}

	for field, entries := range positions {
		b.Put(kv.FamilyValues, dkey.ValueKey(acct, coll, doc, field, dkey.SubTermIdx), textindex.EncodePositions(entries))
	}
	for field := range clearedText {
		if _, hasNew := positions[field]; !hasNew {
			b.Delete(kv.FamilyValues, dkey.ValueKey(acct, coll, doc, field, dkey.SubTermIdx))
		}
	}

	for _, ref := range blobRefs {
		b.Put(kv.FamilyBlobs, dkey.BlobLinkKey(ref.Hash, ref.Size, acct, coll, doc, ref.SubIndex), nil)
	}
	if blobRefs != nil {
		b.Put(kv.FamilyValues, BlobIndexKey(acct, coll, doc), EncodeBlobRefs(blobRefs))
	}

	if op == DocInsert {
		delta := bitmap.EncodeBitlist([]bitmap.Op{{Set: true, ID: uint32(doc)}})
		b.Merge(kv.FamilyBitmaps, dkey.CollectionBitmapKey(acct, coll, dkey.BitmapUsedIds), delta)
	}

	return b, nil
}

// analyzeAndEmitTerms tokenizes text and emits a set/clear bitmap delta
// for every exact and stemmed term; when set, it also records the
// (term-id, stemmed-term-id, offset, length) tuples into positions for
// later serialization.
func analyzeAndEmitTerms(
	b *kv.Batch,
	acct dkey.AccountId,
	coll dkey.Collection,
	field dkey.FieldId,
	doc dkey.DocumentId,
	text string,
	set bool,
	resolve TermIdResolver,
	tok textindex.Tokenizer,
	stem textindex.Stemmer,
	positions map[dkey.FieldId][]textindex.PositionEntry,
) ([]textindex.TermOccurrence, error) {
	occs := textindex.Analyze(text, tok, stem)
	for _, o := range occs {
		termId, err := resolve(o.Term)
		if err != nil {
			return nil, err
		}
		stemId, err := resolve(o.StemmedTerm)
		if err != nil {
			return nil, err
		}

		exactDelta := bitmap.EncodeBitlist([]bitmap.Op{{Set: set, ID: uint32(doc)}})
		b.Merge(kv.FamilyBitmaps, dkey.TermBitmapKey(acct, coll, field, termId, false), exactDelta)
		if stemId != termId {
			stemDelta := bitmap.EncodeBitlist([]bitmap.Op{{Set: set, ID: uint32(doc)}})
			b.Merge(kv.FamilyBitmaps, dkey.TermBitmapKey(acct, coll, field, stemId, true), stemDelta)
		}

		if set && positions != nil {
			positions[field] = append(positions[field], textindex.PositionEntry{
				TermId: termId, StemmedTermId: stemId, Offset: o.Offset, Length: o.Length,
			})
		}
	}
	return occs, nil
}
