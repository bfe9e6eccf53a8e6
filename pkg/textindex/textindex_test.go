package textindex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWhitespaceTokenizer(t *testing.T) {
	tokens := WhitespaceTokenizer{}.Tokenize("Hello, World! foo123")
	require.Len(t, tokens, 3)
	assert.Equal(t, "hello", tokens[0].Word)
	assert.Equal(t, "world", tokens[1].Word)
	assert.Equal(t, "foo123", tokens[2].Word)
}

func TestSnowballStemmerReducesVerbForms(t *testing.T) {
	stem := SnowballStemmer{}.Stem("running")
	assert.Equal(t, "run", stem)
}

func TestAnalyzeProducesOneOccurrencePerToken(t *testing.T) {
	occs := Analyze("cats and dogs", nil, nil)
	require.Len(t, occs, 3)
	assert.Equal(t, "cats", occs[0].Term)
	assert.Equal(t, "cat", occs[0].StemmedTerm)
}

func TestPositionCodecRoundTrip(t *testing.T) {
	entries := []PositionEntry{
		{TermId: 1, StemmedTermId: 2, Offset: 0, Length: 4},
		{TermId: 3, StemmedTermId: 3, Offset: 5, Length: 3},
	}
	raw := EncodePositions(entries)
	got, err := DecodePositions(raw)
	require.NoError(t, err)
	assert.Equal(t, entries, got)
}

func TestDecodePositionsTruncatedFails(t *testing.T) {
	raw := EncodePositions([]PositionEntry{{TermId: 1, StemmedTermId: 1, Offset: 0, Length: 1}})
	_, err := DecodePositions(raw[:len(raw)-1])
	assert.Error(t, err)
}

func TestSnippetHighlightsMatches(t *testing.T) {
	text := "the quick brown fox"
	occs := Analyze(text, nil, nil)
	matchIds := map[uint64]bool{}
	// "quick" is the second token.
	matchIds[hashTerm(occs[1].Term)] = true
	positions := []PositionEntry{
		{TermId: hashTerm(occs[0].Term), Offset: occs[0].Offset, Length: occs[0].Length},
		{TermId: hashTerm(occs[1].Term), Offset: occs[1].Offset, Length: occs[1].Length},
		{TermId: hashTerm(occs[2].Term), Offset: occs[2].Offset, Length: occs[2].Length},
		{TermId: hashTerm(occs[3].Term), Offset: occs[3].Offset, Length: occs[3].Length},
	}
	snippet := Snippet(positions, text, matchIds, 20)
	assert.Contains(t, snippet, "<mark>quick</mark>")
}

func hashTerm(s string) uint64 {
	var h uint64 = 1469598103934665603
	for _, c := range []byte(s) {
		h ^= uint64(c)
		h *= 1099511628211
	}
	return h
}
