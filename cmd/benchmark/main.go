package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"nemesis/internal/adapter/embedding"
	"nemesis/internal/adapter/memstore"
	"nemesis/internal/adapter/scorer"
	"nemesis/internal/domain"
	"nemesis/internal/usecase"
)

func main() {
	users := flag.Int("users", 2000, "Number of synthetic users")
	poolSize := flag.Int("pool", 200, "Size of the tag pool")
	perUser := flag.Int("per-user", 5, "Tags per user")
	dim := flag.Int("dim", embedding.DefaultDimension, "Embedding dimension")
	limit := flag.Int("k", 10, "Page size")
	pages := flag.Int("pages", 3, "Pages to fetch")
	flag.Parse()

	if *users < 2 || *poolSize < 1 || *perUser < 0 || *limit < 1 || *pages < 1 {
		fmt.Println("Usage: go run ./cmd/benchmark -users 2000 -pool 200 -per-user 5 -k 10")
		fmt.Println("\nMeasures:")
		fmt.Println("  1. Profile maintenance cost (tag adds with embedding refresh)")
		fmt.Println("  2. Discovery latency per page (in-process top-k)")
		fmt.Println("  3. How often the opposition ranking avoids shared tags")
		os.Exit(1)
	}
	*perUser = min(*perUser, *poolSize)

	ctx := context.Background()
	gen := embedding.NewSyntheticGenerator(*dim)
	store := memstore.NewMemoryStore(*dim)
	engine := usecase.NewEngine(store, usecase.Options{
		Generator: gen,
		Logger:    zerolog.Nop(),
	})

	pool := make([]string, *poolSize)
	for i := range pool {
		pool[i] = fmt.Sprintf("tag-%04d", i)
	}

	fmt.Println("NEMESIS DISCOVERY BENCHMARK")
	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("Users: %d  Tag pool: %d  Tags/user: %d  Dimension: %d\n\n", *users, *poolSize, *perUser, *dim)

	start := time.Now()
	ids := make([]string, *users)
	for i := range ids {
		ids[i] = uuid.NewString()
		if _, err := engine.Profiles.GetOrCreateCurrentProfile(ctx, ids[i]); err != nil {
			fail("create user", err)
		}
		for _, j := range rand.Perm(len(pool))[:*perUser] {
			if _, err := engine.Tags.AddTag(ctx, ids[i], pool[j]); err != nil {
				fail("add tag", err)
			}
		}
	}
	seedTime := time.Since(start)
	fmt.Printf("Seeded in %s (%.1f tag adds/s)\n", seedTime.Round(time.Millisecond),
		float64(*users**perUser)/seedTime.Seconds())

	requester := ids[0]
	requesterTags, err := engine.Tags.ListUserTags(ctx, requester)
	if err != nil {
		fail("list tags", err)
	}
	mine := make([]string, len(requesterTags))
	for i, t := range requesterTags {
		mine[i] = t.TagName
	}

	fmt.Println(strings.Repeat("-", 70))
	var all []domain.ScoredCandidate
	for p := 0; p < *pages; p++ {
		t0 := time.Now()
		page, err := engine.Discovery.Discover(ctx, requester, *limit, p**limit)
		if err != nil {
			fail("discover", err)
		}
		fmt.Printf("Page %d: %d results in %s\n", p+1, len(page), time.Since(t0).Round(time.Microsecond))
		all = append(all, page...)
	}
	if len(all) == 0 {
		fmt.Println("No candidates returned.")
		return
	}

	fmt.Printf("\nTop %d nemeses of %s:\n\n", min(len(all), 5), requester)
	for i, r := range all[:min(len(all), 5)] {
		fmt.Printf("%d. [%.3f] %s shared=%d tags=%s\n", i+1, r.Score, r.Profile.ID,
			scorer.SharedTags(mine, r.Tags), strings.Join(r.Tags, ","))
	}

	disjoint := 0
	total := 0.0
	for _, r := range all {
		total += r.Score
		if scorer.SharedTags(mine, r.Tags) == 0 {
			disjoint++
		}
	}

	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("QUALITY METRICS:\n")
	fmt.Printf("  Average score:     %.3f\n", total/float64(len(all)))
	fmt.Printf("  Top-1 score:       %.3f\n", all[0].Score)
	fmt.Printf("  Disjoint results:  %d/%d\n", disjoint, len(all))

	ratio := float64(disjoint) / float64(len(all))
	if ratio > 0.9 {
		fmt.Println("  Status: GOOD - nemeses share almost no tags")
	} else if ratio > 0.5 {
		fmt.Println("  Status: OK - most nemeses share no tags")
	} else {
		fmt.Println("  Status: POOR - tag pool may be too small for this many tags per user")
	}
}

func fail(what string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", what, err)
	os.Exit(1)
}
