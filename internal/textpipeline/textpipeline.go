// Package textpipeline is the single, shared text-normalization path used by
// document relevance scoring, indexing, and query preprocessing. Using one
// shared pipeline everywhere is an invariant: indexing and querying must
// never drift, or recall quietly breaks.
package textpipeline

import (
	"regexp"

	"github.com/kljensen/snowball/english"
)

var tokenPattern = regexp.MustCompile(`[A-Za-z0-9_]+`)

// Lemmatizer reduces a token to its base/stem form. The production
// implementation is a Snowball/Porter-family stemmer, substituting for a
// WordNet-backed lemmatizer that has no equivalent in the available
// dependency set.
type Lemmatizer interface {
	Lemmatize(token string) string
}

type snowballLemmatizer struct{}

func (snowballLemmatizer) Lemmatize(token string) string {
	return english.Stem(token, false)
}

// DefaultLemmatizer is the process-wide Snowball-backed lemmatizer, shared
// by relevance scoring, indexing, and query preprocessing.
var DefaultLemmatizer Lemmatizer = snowballLemmatizer{}

// Pipeline bundles a lemmatizer and stopword set so callers don't each wire
// their own; constructed once per process per spec.
type Pipeline struct {
	lemmatizer Lemmatizer
	stopwords  map[string]struct{}
}

// New builds a Pipeline around the shared lemmatizer and stopword list.
func New() *Pipeline {
	return &Pipeline{
		lemmatizer: DefaultLemmatizer,
		stopwords:  stopwordSet,
	}
}

// Tokenize lowercases text and splits it on the [A-Za-z0-9_]+ pattern.
func Tokenize(text string) []string {
	lower := toLowerASCII(text)
	return tokenPattern.FindAllString(lower, -1)
}

// TokenizeCased splits text on the same [A-Za-z0-9_]+ pattern as Tokenize
// but preserves original casing — used where a caller needs to inspect
// capitalization (e.g. a named-entity heuristic) before the pipeline
// lowercases and lemmatizes.
func TokenizeCased(text string) []string {
	return tokenPattern.FindAllString(text, -1)
}

// Preprocess tokenizes, lemmatizes, and drops stopwords, in that order —
// matching the reference pipeline's tokenize -> lemmatize -> filter-stopword
// sequence.
func (p *Pipeline) Preprocess(text string) []string {
	tokens := Tokenize(text)
	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		lemma := p.lemmatizer.Lemmatize(tok)
		if _, stop := p.stopwords[lemma]; stop {
			continue
		}
		out = append(out, lemma)
	}
	return out
}

// IsStopword reports whether a (pre-lemmatized) term is a stopword.
func (p *Pipeline) IsStopword(term string) bool {
	_, ok := p.stopwords[term]
	return ok
}

func toLowerASCII(s string) string {
	b := []byte(s)
	out := make([]byte, 0, len(b))
	for _, c := range b {
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out = append(out, c)
	}
	return string(out)
}
