package scorer

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopKMatchesFullSort(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))

	var all []Ranked
	for i := 0; i < 500; i++ {
		// Coarse scores force plenty of ties.
		all = append(all, Ranked{ID: fmt.Sprintf("u%03d", i), Score: float64(rng.IntN(20)) / 20, Index: i})
	}

	full := make([]Ranked, len(all))
	copy(full, all)
	sort.Slice(full, func(i, j int) bool { return Before(full[i], full[j]) })

	for _, k := range []int{0, 1, 7, 50, 499, 500, 800} {
		top := NewTopK(k)
		for _, r := range all {
			top.Push(r)
		}
		want := full[:min(k, len(full))]
		if k == 0 {
			want = []Ranked{}
		}
		assert.Equal(t, want, top.Sorted(), "k=%d", k)
	}
}

func TestTopKWindowPagination(t *testing.T) {
	var all []Ranked
	for i := 0; i < 30; i++ {
		all = append(all, Ranked{ID: fmt.Sprintf("u%02d", i), Score: float64(i%4) / 4})
	}

	page := func(offset, limit int) []Ranked {
		top := NewTopK(offset + limit)
		for _, r := range all {
			top.Push(r)
		}
		return top.Window(offset, limit)
	}

	first := page(0, 10)
	second := page(10, 10)
	both := page(0, 20)
	require.Len(t, first, 10)
	require.Len(t, second, 10)
	assert.Equal(t, both, append(append([]Ranked{}, first...), second...))

	assert.Len(t, page(25, 10), 5)
	assert.Nil(t, page(40, 10))
}

func TestBeforeBreaksTiesByID(t *testing.T) {
	assert.True(t, Before(Ranked{ID: "a", Score: 0.5}, Ranked{ID: "b", Score: 0.5}))
	assert.False(t, Before(Ranked{ID: "b", Score: 0.5}, Ranked{ID: "a", Score: 0.5}))
	assert.True(t, Before(Ranked{ID: "z", Score: 0.6}, Ranked{ID: "a", Score: 0.5}))
}

func TestTopKPushReportsDropped(t *testing.T) {
	top := NewTopK(2)

	_, ok := top.Push(Ranked{ID: "a", Score: 0.5})
	assert.False(t, ok)
	_, ok = top.Push(Ranked{ID: "b", Score: 0.7})
	assert.False(t, ok)

	dropped, ok := top.Push(Ranked{ID: "c", Score: 0.9})
	assert.True(t, ok)
	assert.Equal(t, "a", dropped.ID)

	dropped, ok = top.Push(Ranked{ID: "d", Score: 0.1})
	assert.True(t, ok)
	assert.Equal(t, "d", dropped.ID, "a worse item is dropped immediately")

	dropped, ok = NewTopK(0).Push(Ranked{ID: "e"})
	assert.True(t, ok)
	assert.Equal(t, "e", dropped.ID)
}
