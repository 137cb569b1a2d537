package embedding

import (
	"hash/fnv"
	"math"
	"math/rand/v2"

	"nemesis/internal/domain"
)

// DefaultDimension matches all-MiniLM-L6-v2, the model the synthetic vectors stand in for.
const DefaultDimension = 384

// TagHashVersion identifies the name -> seed -> vector derivation below. Changing any part of
// it changes every tag embedding already stored, so it must be bumped together with a
// store rebuild (see store.CheckMigration).
const TagHashVersion = 1

// pcgStream is the fixed PCG increment used for tag vectors (version 1).
const pcgStream = 0x9e3779b97f4a7c15

type SyntheticGenerator struct {
	dimension int
}

func NewSyntheticGenerator(dimension int) *SyntheticGenerator {
	if dimension <= 0 {
		dimension = DefaultDimension
	}
	return &SyntheticGenerator{dimension: dimension}
}

// Random draws components uniformly from [-1, 1] and normalizes them.
func (g *SyntheticGenerator) Random() domain.Vector {
	vec := make(domain.Vector, g.dimension)
	for i := range vec {
		vec[i] = float32(rand.Float64()*2 - 1)
	}
	return Normalize(vec)
}

// ForTag seeds a PCG generator from the FNV-1a hash of name. Floats are built from the raw
// 64-bit outputs so the sequence depends only on the PCG algorithm, which is fixed.
func (g *SyntheticGenerator) ForTag(name string) domain.Vector {
	seed := TagSeed(name)
	src := rand.NewPCG(seed, pcgStream)

	vec := make(domain.Vector, g.dimension)
	for i := range vec {
		unit := float64(src.Uint64()>>11) / (1 << 53)
		vec[i] = float32(unit*2 - 1)
	}
	return Normalize(vec)
}

func (g *SyntheticGenerator) Dimension() int {
	return g.dimension
}

// TagSeed is the version 1 seed derivation: FNV-1a 64 over the UTF-8 bytes of name.
func TagSeed(name string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(name))
	return h.Sum64()
}

// Normalize scales vec to unit length in place. A zero-magnitude vector is returned unchanged.
func Normalize(vec domain.Vector) domain.Vector {
	var sumSquares float64
	for _, v := range vec {
		sumSquares += float64(v) * float64(v)
	}

	if sumSquares == 0 {
		return vec
	}

	magnitude := math.Sqrt(sumSquares)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / magnitude)
	}
	return vec
}

// Magnitude returns the L2 norm of vec.
func Magnitude(vec domain.Vector) float64 {
	var sumSquares float64
	for _, v := range vec {
		sumSquares += float64(v) * float64(v)
	}
	return math.Sqrt(sumSquares)
}
