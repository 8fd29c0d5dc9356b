package textpipeline_test

import (
	"testing"

	"github.com/arkinul/tuebingen-search/internal/textpipeline"
	"github.com/stretchr/testify/assert"
)

func TestTokenizeLowercasesAndSplitsOnWordBoundary(t *testing.T) {
	// [A-Za-z0-9_]+ is ASCII-only, matching spec.md's C1 tokenizer rule
	// verbatim — non-ASCII letters (e.g. the "ü" in Tübingen) are boundaries.
	got := textpipeline.Tokenize("Visited Tuebingen-Neckar, twice!")
	assert.Contains(t, got, "tuebingen")
	assert.Contains(t, got, "neckar")
	assert.Contains(t, got, "twice")
	assert.NotContains(t, got, ",")
}

func TestPreprocessDropsStopwords(t *testing.T) {
	p := textpipeline.New()
	got := p.Preprocess("the museum of the old university")
	assert.NotContains(t, got, "the")
	assert.NotContains(t, got, "of")
	assert.Contains(t, got, "museum")
}

func TestPreprocessIsDeterministic(t *testing.T) {
	p := textpipeline.New()
	first := p.Preprocess("Tübingen is a university town on the Neckar")
	second := p.Preprocess("Tübingen is a university town on the Neckar")
	assert.Equal(t, first, second)
}
