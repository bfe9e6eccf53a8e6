package bitmap

import (
	"testing"

	"github.com/RoaringBitmap/roaring/v2"
)

func TestEncodeDecodeEmptyIsAbsent(t *testing.T) {
	if raw := EncodeBitmap(roaring.New()); raw != nil {
		t.Fatalf("expected nil for empty bitmap, got %v", raw)
	}
	bm, ok, err := GetBitmap(nil)
	if err != nil || ok || bm != nil {
		t.Fatalf("expected absent, got %v %v %v", bm, ok, err)
	}
}

func TestBitlistRoundTrip(t *testing.T) {
	ops := []Op{{Set: true, ID: 1}, {Set: true, ID: 2}, {Set: true, ID: 3}, {Set: false, ID: 2}}
	raw := EncodeBitlist(ops)
	bm, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if !bm.Contains(1) || bm.Contains(2) || !bm.Contains(3) {
		t.Fatalf("unexpected bitmap contents: %v", bm.ToArray())
	}
}

func TestMergeSequentialEqualsBatch(t *testing.T) {
	// Property: applying any interleaving of set/clear deltas yields the
	// same bitmap as folding them sequentially.
	d1 := EncodeBitlist([]Op{{Set: true, ID: 1}, {Set: true, ID: 2}})
	d2 := EncodeBitlist([]Op{{Set: true, ID: 3}, {Set: false, ID: 1}})
	d3 := EncodeBitlist([]Op{{Set: true, ID: 4}})

	// Sequential: fold d1, then merge d2 into result, then d3.
	seq, err := Decode(d1)
	if err != nil {
		t.Fatal(err)
	}
	seqBytes := Merge(EncodeBitmap(seq), [][]byte{d2})
	seq2, err := Decode(seqBytes)
	if err != nil {
		t.Fatal(err)
	}
	finalBytes := Merge(EncodeBitmap(seq2), [][]byte{d3})
	final1, err := Decode(finalBytes)
	if err != nil {
		t.Fatal(err)
	}

	// Batch: merge all three deltas against no existing value at once.
	batchBytes := Merge(nil, [][]byte{d1, d2, d3})
	final2, err := Decode(batchBytes)
	if err != nil {
		t.Fatal(err)
	}

	if !final1.Equals(final2) {
		t.Fatalf("sequential %v != batch %v", final1.ToArray(), final2.ToArray())
	}
	want := []uint32{2, 3, 4}
	got := final2.ToArray()
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
}

func TestSetAfterClearSameIdInOneBatchMeansSet(t *testing.T) {
	ops := []Op{{Set: false, ID: 5}, {Set: true, ID: 5}}
	raw := EncodeBitlist(ops)
	bm, err := Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	if !bm.Contains(5) {
		t.Fatalf("expected id 5 to be set")
	}
}

func TestIntersectShortCircuitsOnEmpty(t *testing.T) {
	a := roaring.New()
	a.Add(1)
	b := roaring.New()
	got := Intersect(a, b)
	if !got.IsEmpty() {
		t.Fatalf("expected empty intersection, got %v", got.ToArray())
	}
}

func TestUnion(t *testing.T) {
	a := roaring.New()
	a.Add(1)
	b := roaring.New()
	b.Add(2)
	got := Union(a, b)
	if got.GetCardinality() != 2 {
		t.Fatalf("expected cardinality 2, got %d", got.GetCardinality())
	}
}

func TestNotXorsWithUniverse(t *testing.T) {
	universe := roaring.New()
	universe.AddRange(0, 5)
	set := roaring.New()
	set.Add(2)
	got := Not(universe, set)
	if got.Contains(2) || !got.Contains(0) || !got.Contains(4) {
		t.Fatalf("unexpected result: %v", got.ToArray())
	}
}
