package scorer

// OverlapScorer is the legacy profile: candidates rank purely by how few tags they share
// with the requester. It ignores embeddings and must be selected explicitly.
type OverlapScorer struct{}

func (OverlapScorer) Score(r, c Subject) float64 {
	return -float64(SharedTags(r.Tags, c.Tags))
}

func (OverlapScorer) NeedsTagEmbeddings() bool { return false }

func (OverlapScorer) Name() string { return ProfileOverlap }

// SharedTags counts distinct tag names present in both sets.
func SharedTags(a, b []string) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	setA := uniq(a)
	intersection := 0
	for t := range uniq(b) {
		if _, exists := setA[t]; exists {
			intersection++
		}
	}
	return intersection
}

func uniq(tags []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		set[t] = struct{}{}
	}
	return set
}
