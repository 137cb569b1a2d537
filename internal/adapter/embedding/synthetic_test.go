package embedding

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nemesis/internal/domain"
)

func TestRandomIsUnitLength(t *testing.T) {
	g := NewSyntheticGenerator(DefaultDimension)

	for i := 0; i < 50; i++ {
		vec := g.Random()
		require.Len(t, vec, DefaultDimension)
		assert.InDelta(t, 1.0, Magnitude(vec), 1e-5)
	}
}

func TestRandomDiffersBetweenCalls(t *testing.T) {
	g := NewSyntheticGenerator(DefaultDimension)
	assert.NotEqual(t, g.Random(), g.Random())
}

func TestForTagIsPure(t *testing.T) {
	g1 := NewSyntheticGenerator(DefaultDimension)
	g2 := NewSyntheticGenerator(DefaultDimension)

	for _, name := range []string{"introvert", "coffee-lover", "", "Introvert", "日本語"} {
		a := g1.ForTag(name)
		b := g2.ForTag(name)
		require.Len(t, a, DefaultDimension)
		for i := range a {
			if math.Float32bits(a[i]) != math.Float32bits(b[i]) {
				t.Fatalf("ForTag(%q) component %d differs: %v vs %v", name, i, a[i], b[i])
			}
		}
		assert.InDelta(t, 1.0, Magnitude(a), 1e-5)
	}
}

func TestForTagIsCaseSensitive(t *testing.T) {
	g := NewSyntheticGenerator(DefaultDimension)
	assert.NotEqual(t, g.ForTag("music"), g.ForTag("Music"))
}

func TestTagSeedIsFNV1a(t *testing.T) {
	// FNV-1a 64 offset basis for the empty string.
	assert.Equal(t, uint64(0xcbf29ce484222325), TagSeed(""))
	assert.Equal(t, uint64(0xaf63dc4c8601ec8c), TagSeed("a"))
}

func TestNormalizeZeroMagnitudeFallback(t *testing.T) {
	vec := make(domain.Vector, 8)
	out := Normalize(vec)

	require.Len(t, out, 8)
	for _, v := range out {
		assert.Zero(t, v)
	}
	assert.Zero(t, Magnitude(out))
}

func TestNormalize(t *testing.T) {
	out := Normalize(domain.Vector{3, 4})
	assert.InDelta(t, 0.6, out[0], 1e-6)
	assert.InDelta(t, 0.8, out[1], 1e-6)
}

func TestDimensionDefault(t *testing.T) {
	assert.Equal(t, DefaultDimension, NewSyntheticGenerator(0).Dimension())
	assert.Equal(t, 16, NewSyntheticGenerator(16).Dimension())
	assert.Len(t, NewSyntheticGenerator(16).ForTag("x"), 16)
}
