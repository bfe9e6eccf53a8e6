package dkey

import "testing"

func TestValueKeyRoundTrip(t *testing.T) {
	k := ValueKey(5, CollectionMail, 42, 3, SubORM)
	acct, coll, doc, field, sub, err := ParseValueKey(k)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if acct != 5 || coll != CollectionMail || doc != 42 || field != 3 || sub != SubORM {
		t.Fatalf("round trip mismatch: %+v %+v %+v %+v %+v", acct, coll, doc, field, sub)
	}
}

func TestParseValueKeyTruncated(t *testing.T) {
	if _, _, _, _, _, err := ParseValueKey(nil); err != ErrCorrupt {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
}

func TestIndexKeyOrderPreserving(t *testing.T) {
	k1 := IndexKey(1, CollectionMail, 1, PutBE32(nil, 10), 1)
	k2 := IndexKey(1, CollectionMail, 1, PutBE32(nil, 20), 1)
	if string(k1) >= string(k2) {
		t.Fatalf("expected k1 < k2 lexicographically")
	}
}

func TestChangeLogKeyRoundTrip(t *testing.T) {
	k := ChangeLogKey(7, CollectionMailbox, 1000)
	acct, coll, id, ok := ParseChangeLogKey(k)
	if !ok || acct != 7 || coll != CollectionMailbox || id != 1000 {
		t.Fatalf("round trip failed: %v %v %v %v", acct, coll, id, ok)
	}
}

func TestParseChangeLogKeyToleratesForeignLength(t *testing.T) {
	// A key in the change log's '0' prefix range that is too short for
	// a full change-log trailer, as a prefix scan may meet, must be
	// rejected rather than misparsed.
	if _, _, _, ok := ParseChangeLogKey([]byte{'0', 1, 2, 3}); ok {
		t.Fatalf("expected ok=false for truncated key")
	}
}

func TestRaftLogKeyRoundTrip(t *testing.T) {
	k := RaftLogKey(55, 2)
	idx, term, ok := ParseRaftLogKey(k)
	if !ok || idx != 55 || term != 2 {
		t.Fatalf("round trip failed: %v %v %v", idx, term, ok)
	}
}

func TestJMAPIdRoundTrip(t *testing.T) {
	id := NewJMAPId(99, 12345)
	s := id.String()
	if s[0] != byte(DiscID) {
		t.Fatalf("expected discriminant 'i', got %q", s[0])
	}
	got, err := ParseJMAPId(s)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if got != id || got.Prefix() != 99 || got.Document() != 12345 {
		t.Fatalf("round trip mismatch: %v", got)
	}
}

func TestBlobIdOwnedRoundTrip(t *testing.T) {
	// Owned blob: acct=5, coll=Mail, doc=42, idx=0.
	var hash BlobHash
	for i := range hash {
		hash[i] = byte(i)
	}
	id := BlobId{Kind: DiscBlobOwned, Hash: hash, Size: 1024, Account: 5, Collection: CollectionMail, Document: 42}
	s := id.String()
	if s[0] != 'o' {
		t.Fatalf("expected 'o' discriminant, got %q", s[0])
	}
	got, err := ParseBlobId(s)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if got.Hash != hash || got.Size != 1024 || got.Account != 5 || got.Collection != CollectionMail || got.Document != 42 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestBlobIdInnerOwnedCarriesSubIndex(t *testing.T) {
	var hash BlobHash
	id := BlobId{Kind: DiscBlobInner, Hash: hash, Size: 10, Account: 1, Collection: CollectionMail, Document: 2, SubIndex: 3}
	got, err := ParseBlobId(id.String())
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if !got.HasSub || got.SubIndex != 3 {
		t.Fatalf("expected sub index 3, got %+v", got)
	}
}
