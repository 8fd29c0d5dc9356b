package simhash_test

import (
	"testing"

	"github.com/arkinul/tuebingen-search/internal/simhash"
	"github.com/stretchr/testify/assert"
)

func TestComputeIsDeterministic(t *testing.T) {
	a := simhash.Compute("Tuebingen is a university town on the Neckar.")
	b := simhash.Compute("Tuebingen is a university town on the Neckar.")
	assert.Equal(t, a, b)
}

func TestIdenticalTextHasZeroDistance(t *testing.T) {
	text := "the old town hall on the market square"
	a := simhash.Compute(text)
	b := simhash.Compute(text)
	assert.Equal(t, 0, simhash.HammingDistance(a, b))
}

func TestNearlyIdenticalTextIsNearDuplicate(t *testing.T) {
	a := simhash.Compute("Tuebingen is a university town on the river Neckar in Germany.")
	b := simhash.Compute("Tuebingen is a university town on the river Neckar in Germany!")
	assert.True(t, simhash.NearDuplicate(a, b, 15))
}

func TestUnrelatedTextIsNotNearDuplicate(t *testing.T) {
	a := simhash.Compute("Tuebingen is a university town on the river Neckar in Germany, known for its old town.")
	b := simhash.Compute("The stock market fell sharply today amid concerns over interest rates and inflation.")
	assert.False(t, simhash.NearDuplicate(a, b, 15))
}

func TestShortTextDoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		simhash.Compute("hi")
	})
	assert.NotPanics(t, func() {
		simhash.Compute("")
	})
}
