package embedding

import (
	"sort"

	"nemesis/internal/domain"
	"nemesis/internal/port"
)

// ComputeProfile averages tag embeddings into one profile embedding and renormalizes it.
// Inputs are summed in tag-name order so the result does not depend on the order they were
// supplied in. A tagless profile gets a fresh random vector from gen.
func ComputeProfile(gen port.Generator, tags []domain.TagEmbedding) (domain.Vector, error) {
	if len(tags) == 0 {
		return gen.Random(), nil
	}

	sorted := make([]domain.TagEmbedding, len(tags))
	copy(sorted, tags)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Name < sorted[j].Name
	})

	dim := len(sorted[0].Vector)
	sums := make([]float64, dim)
	for _, t := range sorted {
		if len(t.Vector) != dim {
			return nil, domain.InconsistentState("tag %q has dimension %d, expected %d", t.Name, len(t.Vector), dim)
		}
		for i, v := range t.Vector {
			sums[i] += float64(v)
		}
	}

	n := float64(len(sorted))
	mean := make(domain.Vector, dim)
	for i, s := range sums {
		mean[i] = float32(s / n)
	}
	return Normalize(mean), nil
}
