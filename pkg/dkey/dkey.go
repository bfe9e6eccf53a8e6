// Package dkey builds and parses the keys driftbox stores in each of its
// five column families. Keys are plain concatenations, never nested
// structures: two orderings coexist on purpose. LEB128 (unsigned varint)
// keeps identifiers compact inside the Values family; big-endian keeps
// identifiers inside the Indexes, Logs, and Bitmaps families so that
// byte-wise lexicographic order equals numeric order, which is what lets
// a prefix iterator double as a range scan.
//
// Every parser here returns an error instead of panicking: a truncated or
// malformed key on disk is a data-corruption bug, not a programmer error
// to crash on.
package dkey

import (
	"encoding/binary"
	"errors"
)

// ErrCorrupt is returned by every Parse/Decode function in this package
// when the input is too short or otherwise malformed.
var ErrCorrupt = errors.New("dkey: data corruption")

// AccountId identifies a tenant. Dense, not necessarily contiguous.
type AccountId uint32

// DocumentId is dense within a (AccountId, Collection) pair.
type DocumentId uint32

// Collection tags a typed grouping of documents within an account.
type Collection uint8

const (
	CollectionMail Collection = iota
	CollectionMailbox
	CollectionPrincipal
	CollectionPushSubscription
	CollectionSieveScript
	CollectionEmailSubmission
	CollectionThread
)

// ChangeId is a per-(account,collection) monotonic identifier recorded in
// the change log on every mutation.
type ChangeId uint64

// LogIndex and TermId identify an entry in the Raft-replicated log.
type LogIndex uint64
type TermId uint64

// FieldId names a property within a collection's schema.
type FieldId uint8

// ---------------------------------------------------------------------
// LEB128 (unsigned varint) helpers for the Values family.
// ---------------------------------------------------------------------

// PutUvarint appends the LEB128 encoding of v to dst and returns the
// extended slice. encoding/binary's Uvarint codec is byte-for-byte the
// LEB128 format this spec calls for, so no bespoke encoder is needed.
func PutUvarint(dst []byte, v uint64) []byte {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], v)
	return append(dst, buf[:n]...)
}

// Uvarint reads a LEB128-encoded value from the front of b, returning the
// value, the number of bytes consumed, and an error if b is truncated.
func Uvarint(b []byte) (uint64, int, error) {
	v, n := binary.Uvarint(b)
	if n <= 0 {
		return 0, 0, ErrCorrupt
	}
	return v, n, nil
}

// ---------------------------------------------------------------------
// Big-endian helpers for the Indexes/Logs/Bitmaps families.
// ---------------------------------------------------------------------

func PutBE32(dst []byte, v uint32) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	return append(dst, buf[:]...)
}

func PutBE16(dst []byte, v uint16) []byte {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], v)
	return append(dst, buf[:]...)
}

func PutBE64(dst []byte, v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return append(dst, buf[:]...)
}

func BE32(b []byte) (uint32, error) {
	if len(b) < 4 {
		return 0, ErrCorrupt
	}
	return binary.BigEndian.Uint32(b), nil
}

func BE16(b []byte) (uint16, error) {
	if len(b) < 2 {
		return 0, ErrCorrupt
	}
	return binary.BigEndian.Uint16(b), nil
}

func BE64(b []byte) (uint64, error) {
	if len(b) < 8 {
		return 0, ErrCorrupt
	}
	return binary.BigEndian.Uint64(b), nil
}

// ---------------------------------------------------------------------
// Values family: acct(LEB128) . collection(1B) . doc(LEB128) . fieldId(1B) . sub(1B)
// ---------------------------------------------------------------------

// ValueSub discriminates sub-records stored under one field id.
type ValueSub uint8

const (
	SubNone    ValueSub = iota // the stored property value itself
	SubTags                    // the document's serialized tag list
	SubACL                     // the document's serialized ACL list
	SubTermIdx                 // the per-document term-position index blob
	SubBlobIdx                 // the document's blob reference index
	SubORM                     // the serialized ORM payload
)

// ValueKey builds a Values-family key.
func ValueKey(acct AccountId, coll Collection, doc DocumentId, field FieldId, sub ValueSub) []byte {
	k := make([]byte, 0, 16)
	k = PutUvarint(k, uint64(acct))
	k = append(k, byte(coll))
	k = PutUvarint(k, uint64(doc))
	k = append(k, byte(field), byte(sub))
	return k
}

// ParseValueKey is the inverse of ValueKey.
func ParseValueKey(k []byte) (acct AccountId, coll Collection, doc DocumentId, field FieldId, sub ValueSub, err error) {
	a, n, err := Uvarint(k)
	if err != nil {
		return
	}
	k = k[n:]
	if len(k) < 1 {
		err = ErrCorrupt
		return
	}
	coll = Collection(k[0])
	k = k[1:]
	d, n, err := Uvarint(k)
	if err != nil {
		return
	}
	k = k[n:]
	if len(k) < 2 {
		err = ErrCorrupt
		return
	}
	acct = AccountId(a)
	doc = DocumentId(d)
	field = FieldId(k[0])
	sub = ValueSub(k[1])
	return
}

// UsedIdsKey addresses the per-(account,collection) "used ids" bitmap,
// stored as a Values-family record with a reserved field id of 0xFF and
// SubNone so it lives alongside ordinary field storage.
func UsedIdsKey(acct AccountId, coll Collection) []byte {
	k := make([]byte, 0, 8)
	k = PutUvarint(k, uint64(acct))
	k = append(k, byte(coll), 0xFF, byte(SubNone))
	return k
}

// ---------------------------------------------------------------------
// Indexes family: acct(BE4) . collection(1B) . fieldId(BE2) . key-bytes . doc(BE4)
// ---------------------------------------------------------------------

// IndexKey builds a sorted secondary-index key. keyBytes must already be
// in an order-preserving encoding (e.g. big-endian for numbers, raw UTF-8
// for text truncated/padded by the caller).
func IndexKey(acct AccountId, coll Collection, field FieldId, keyBytes []byte, doc DocumentId) []byte {
	k := make([]byte, 0, 11+len(keyBytes))
	k = PutBE32(k, uint32(acct))
	k = append(k, byte(coll))
	k = PutBE16(k, uint16(field))
	k = append(k, keyBytes...)
	k = PutBE32(k, uint32(doc))
	return k
}

// IndexPrefix builds the acct/collection/field prefix shared by every key
// for one index, without the variable key-bytes or trailing doc id. Used
// to scan or range an entire field's index.
func IndexPrefix(acct AccountId, coll Collection, field FieldId) []byte {
	k := make([]byte, 0, 7)
	k = PutBE32(k, uint32(acct))
	k = append(k, byte(coll))
	k = PutBE16(k, uint16(field))
	return k
}

// ParseIndexKey splits a full index key back into its keyBytes and
// trailing document id, given the key's known prefix length.
func ParseIndexKey(k []byte, prefixLen int) (keyBytes []byte, doc DocumentId, err error) {
	if len(k) < prefixLen+4 {
		err = ErrCorrupt
		return
	}
	body := k[prefixLen:]
	keyBytes = body[:len(body)-4]
	d, e := BE32(body[len(body)-4:])
	if e != nil {
		err = e
		return
	}
	doc = DocumentId(d)
	return
}

// ---------------------------------------------------------------------
// Bitmaps family: term/tag bytes . acct(BE4) . collection(1B) . fieldId(BE2) . class(1B)
// ---------------------------------------------------------------------

// BitmapClass discriminates what kind of document set a bitmap key names.
type BitmapClass uint8

const (
	ClassTermExact   BitmapClass = iota // exact-token full-text bitmap
	ClassTermStemmed                    // stemmed-token full-text bitmap
	ClassTag                            // tag membership bitmap
	ClassCollection                     // per-account "document ids" or "tombstoned" bitmap
)

// TermBitmapKey addresses the bitmap of documents containing termHash in
// the given field, either as an exact or stemmed match.
func TermBitmapKey(acct AccountId, coll Collection, field FieldId, termHash uint64, stemmed bool) []byte {
	class := ClassTermExact
	if stemmed {
		class = ClassTermStemmed
	}
	k := make([]byte, 0, 19)
	k = PutBE64(k, termHash)
	k = PutBE32(k, uint32(acct))
	k = append(k, byte(coll))
	k = PutBE16(k, uint16(field))
	k = append(k, byte(class))
	return k
}

// TagBitmapKey addresses the bitmap of documents carrying tagBytes in the
// given field (e.g. mailbox membership, keyword presence).
func TagBitmapKey(acct AccountId, coll Collection, field FieldId, tagBytes []byte) []byte {
	k := make([]byte, 0, 11+len(tagBytes))
	k = append(k, tagBytes...)
	k = PutBE32(k, uint32(acct))
	k = append(k, byte(coll))
	k = PutBE16(k, uint16(field))
	k = append(k, byte(ClassTag))
	return k
}

// CollectionBitmapKind names a whole-collection bitmap that isn't tied to
// any one field (used ids, tombstoned ids).
type CollectionBitmapKind uint8

const (
	BitmapUsedIds CollectionBitmapKind = iota
	BitmapTombstoned
)

// CollectionBitmapKey addresses a whole-collection bitmap such as "used
// document ids" or "tombstoned document ids".
func CollectionBitmapKey(acct AccountId, coll Collection, kind CollectionBitmapKind) []byte {
	k := make([]byte, 0, 8)
	k = PutBE32(k, uint32(acct))
	k = append(k, byte(coll), byte(kind))
	k = append(k, byte(ClassCollection))
	return k
}

// BitmapKeyOwner reports the (account, collection) pair and class a
// Bitmaps-family key belongs to, without needing to know which of
// TermBitmapKey/TagBitmapKey/CollectionBitmapKey produced it. The class
// byte is always the key's last byte, so it's read first to decide how
// to interpret the rest: a fixed 7-byte trailer for ClassCollection, an
// 8-byte trailer (acct . collection . fieldId . class) preceded by a
// variable-length term-hash or tag payload otherwise.
func BitmapKeyOwner(k []byte) (acct AccountId, coll Collection, class BitmapClass, ok bool) {
	if len(k) == 0 {
		return 0, 0, 0, false
	}
	class = BitmapClass(k[len(k)-1])
	switch class {
	case ClassCollection:
		if len(k) != 7 {
			return 0, 0, 0, false
		}
		a, err := BE32(k[0:4])
		if err != nil {
			return 0, 0, 0, false
		}
		return AccountId(a), Collection(k[4]), class, true
	case ClassTermExact, ClassTermStemmed, ClassTag:
		if len(k) < 8 {
			return 0, 0, 0, false
		}
		trailer := k[len(k)-8:]
		a, err := BE32(trailer[0:4])
		if err != nil {
			return 0, 0, 0, false
		}
		return AccountId(a), Collection(trailer[4]), class, true
	default:
		return 0, 0, 0, false
	}
}

// ormFieldId is a reserved FieldId under which a document's whole ORM
// payload is stored, distinct from any of a collection's real property
// field ids (which are assigned starting at 1 in pkg/schema).
const ormFieldId FieldId = 0xFF

// OrmPayloadKey addresses a document's serialized ORM payload — the
// canonical "current" baseline pkg/core's ORM cache reloads on a cache
// miss and diffs every update against.
func OrmPayloadKey(acct AccountId, coll Collection, doc DocumentId) []byte {
	return ValueKey(acct, coll, doc, ormFieldId, SubORM)
}
