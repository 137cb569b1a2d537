package scorer

import "nemesis/internal/domain"

// Composite weights and neutral defaults. Stores that rank server side must use the same
// values (see pgstore).
const (
	UserWeight    = 0.5
	TagWeight     = 0.3
	OverlapWeight = 0.2

	NeutralTagTerm  = 0.5
	NeutralUserTerm = 0.5
)

// Profiles.
const (
	ProfileComposite = "composite"
	ProfileOverlap   = "overlap"
)

// Subject is one side of a scoring pair.
type Subject struct {
	ID            string
	Embedding     domain.Vector
	Tags          []string
	TagEmbeddings []domain.Vector
}

// Scorer computes how strongly a candidate opposes a requester; higher is more opposed.
type Scorer interface {
	Score(requester, candidate Subject) float64

	// NeedsTagEmbeddings reports whether Score reads Subject.TagEmbeddings.
	NeedsTagEmbeddings() bool

	Name() string
}

// New returns the scorer registered under profile, or nil if there is none.
func New(profile string) Scorer {
	switch profile {
	case ProfileComposite, "":
		return OppositionScorer{}
	case ProfileOverlap:
		return OverlapScorer{}
	default:
		return nil
	}
}

// OppositionScorer is the default composite scorer:
//
//	score = 0.5*userTerm + 0.3*tagTerm + 0.2*overlapTerm
type OppositionScorer struct{}

func (OppositionScorer) Score(r, c Subject) float64 {
	score := UserWeight*UserTerm(r.Embedding, c.Embedding) +
		TagWeight*TagTerm(r.TagEmbeddings, c.TagEmbeddings) +
		OverlapWeight*OverlapTerm(r.Tags, c.Tags)
	return clamp01(score)
}

func (OppositionScorer) NeedsTagEmbeddings() bool { return true }

func (OppositionScorer) Name() string { return ProfileComposite }

// UserTerm compares profile embeddings. A candidate that has never had an embedding
// computed gets the neutral value.
func UserTerm(r, c domain.Vector) float64 {
	if len(r) == 0 || len(c) == 0 {
		return NeutralUserTerm
	}
	return Opposition(r, c)
}

// TagTerm averages 1 - cosineDistance/2 over every requester/candidate tag pair.
func TagTerm(r, c []domain.Vector) float64 {
	if len(r) == 0 || len(c) == 0 {
		return NeutralTagTerm
	}

	var sum float64
	for _, a := range r {
		for _, b := range c {
			sum += 1 - CosineDistance(a, b)/2
		}
	}
	return sum / float64(len(r)*len(c))
}

// OverlapTerm is 1 - |r ∩ c| / max(|c|, 1).
func OverlapTerm(r, c []string) float64 {
	denom := len(uniq(c))
	if denom == 0 {
		denom = 1
	}
	return 1 - float64(SharedTags(r, c))/float64(denom)
}
