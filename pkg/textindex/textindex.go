// Package textindex tokenizes and stems text fields for full-text
// indexing, and encodes/decodes the term-position index blob the
// document write pipeline stores once per field and later reads back
// for snippet generation. Analysis is a plain split on letter/digit
// runs followed by English Snowball stemming — Tokenizer and Stemmer
// are interfaces so another implementation can be substituted without
// touching the codec.
package textindex

import (
	"strings"
	"unicode"

	"github.com/blevesearch/snowballstem"
	"github.com/blevesearch/snowballstem/english"
)

// Tokenizer splits text into lowercase word tokens with their rune
// offset and length in the original text.
type Tokenizer interface {
	Tokenize(text string) []Token
}

// Token is one tokenized word and its position in the source text.
type Token struct {
	Word   string
	Offset uint32
	Length uint32
}

// Stemmer reduces a token to its stem form.
type Stemmer interface {
	Stem(word string) string
}

// WhitespaceTokenizer splits on Unicode whitespace/punctuation
// boundaries and lowercases every token. It is the only Tokenizer this
// package implements — anything more linguistically aware is out of
// scope.
type WhitespaceTokenizer struct{}

func (WhitespaceTokenizer) Tokenize(text string) []Token {
	var tokens []Token
	runes := []rune(text)
	var start int
	inWord := false
	flush := func(end int) {
		if end > start {
			word := strings.ToLower(string(runes[start:end]))
			tokens = append(tokens, Token{Word: word, Offset: uint32(start), Length: uint32(end - start)})
		}
	}
	for i, r := range runes {
		isWordChar := unicode.IsLetter(r) || unicode.IsDigit(r)
		if isWordChar && !inWord {
			start = i
			inWord = true
		} else if !isWordChar && inWord {
			flush(i)
			inWord = false
		}
	}
	if inWord {
		flush(len(runes))
	}
	return tokens
}

// SnowballStemmer is the default Stemmer, backed by the English
// Snowball algorithm.
type SnowballStemmer struct{}

func (SnowballStemmer) Stem(word string) string {
	env := snowballstem.NewEnv(word)
	english.Stem(env)
	return env.Current()
}

// DefaultTokenizer and DefaultStemmer are what pkg/docstore uses unless
// a caller substitutes its own.
var (
	DefaultTokenizer Tokenizer = WhitespaceTokenizer{}
	DefaultStemmer   Stemmer   = SnowballStemmer{}
)

// TermOccurrence is one (exact term, stemmed term, offset, length)
// tuple produced by tokenizing a field's text.
type TermOccurrence struct {
	Term        string
	StemmedTerm string
	Offset      uint32
	Length      uint32
}

// Analyze tokenizes and stems text, returning one TermOccurrence per
// token in source order — the triples the term-position index stores.
func Analyze(text string, tok Tokenizer, stem Stemmer) []TermOccurrence {
	if tok == nil {
		tok = DefaultTokenizer
	}
	if stem == nil {
		stem = DefaultStemmer
	}
	tokens := tok.Tokenize(text)
	out := make([]TermOccurrence, len(tokens))
	for i, t := range tokens {
		out[i] = TermOccurrence{
			Term:        t.Word,
			StemmedTerm: stem.Stem(t.Word),
			Offset:      t.Offset,
			Length:      t.Length,
		}
	}
	return out
}
