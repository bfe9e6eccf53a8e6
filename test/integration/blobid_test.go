package integration

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/driftbox/pkg/blob"
	"github.com/cuemby/driftbox/pkg/dkey"
)

// An owned blob id round-trips through its wire string, and an
// inner-owned id carries exactly one extra field (its sub-index) that
// a plain owned id does not.
func TestBlobIdOwnedRoundTrip(t *testing.T) {
	hash := dkey.BlobHash{}
	for i := range hash {
		hash[i] = byte(i)
	}

	id := dkey.BlobId{
		Kind:       dkey.DiscBlobOwned,
		Hash:       hash,
		Size:       4096,
		Account:    5,
		Collection: dkey.CollectionMail,
		Document:   42,
	}

	s := id.String()
	require.Equal(t, byte('o'), s[0])

	got, err := dkey.ParseBlobId(s)
	require.NoError(t, err)
	require.Equal(t, id.Hash, got.Hash)
	require.Equal(t, id.Size, got.Size)
	require.Equal(t, id.Account, got.Account)
	require.Equal(t, id.Collection, got.Collection)
	require.Equal(t, id.Document, got.Document)
	require.False(t, got.HasSub)
}

func TestBlobIdInnerOwnedCarriesSubIndex(t *testing.T) {
	hash := dkey.BlobHash{}
	for i := range hash {
		hash[i] = byte(0xff - i)
	}

	id := dkey.BlobId{
		Kind:       dkey.DiscBlobInner,
		Hash:       hash,
		Size:       17,
		Account:    5,
		Collection: dkey.CollectionMail,
		Document:   42,
		SubIndex:   3,
		HasSub:     true,
	}

	owned := dkey.BlobId{Kind: dkey.DiscBlobOwned, Hash: hash, Size: 17, Account: 5, Collection: dkey.CollectionMail, Document: 42}
	require.Greater(t, len(id.String()), len(owned.String()))

	got, err := dkey.ParseBlobId(id.String())
	require.NoError(t, err)
	require.True(t, got.HasSub)
	require.Equal(t, uint32(3), got.SubIndex)
}

// BlobLinkKey's on-disk form must actually differ between a plain
// owned link and an inner-owned link for the same (blob, document) —
// otherwise two sub-parts of one document referencing the same blob
// would collide on one key.
func TestBlobLinkKeyDistinguishesSubIndex(t *testing.T) {
	hash := blob.Hash([]byte("content"))
	plain := dkey.BlobLinkKey(hash, 7, 5, dkey.CollectionMail, 42, nil)
	sub0 := uint32(0)
	inner := dkey.BlobLinkKey(hash, 7, 5, dkey.CollectionMail, 42, &sub0)
	require.NotEqual(t, plain, inner)
}
