package store

import (
	"context"
	"testing"

	"nemesis/config"
	"nemesis/internal/domain"
)

func TestCheckMigration_Fresh(t *testing.T) {
	s := openTestStore(t, 3)
	cfg := config.DefaultConfig()

	result, err := s.CheckMigration(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.NeedsMigration {
		t.Error("expected a fresh database to need migration")
	}
	if result.NeedsRebuild {
		t.Error("fresh database should not need a rebuild")
	}

	if err := s.Migrate(cfg); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	result, err = s.CheckMigration(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.NeedsMigration || result.NeedsRebuild {
		t.Errorf("expected up-to-date schema, got %+v", result)
	}
}

func TestCheckMigration_ConfigChange(t *testing.T) {
	s := openTestStore(t, 3)
	cfg := config.DefaultConfig()
	if err := s.Migrate(cfg); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	changed := config.DefaultConfig()
	changed.Embedding.Dimension = 128

	rebuild, reason, err := s.NeedsRebuild(changed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !rebuild {
		t.Error("expected a dimension change to require a rebuild")
	}
	if reason == "" {
		t.Error("expected a reason")
	}
}

func TestComputeConfigHash(t *testing.T) {
	a := config.DefaultConfig()
	b := config.DefaultConfig()
	b.Discovery.MaxLimit = 99

	if ComputeConfigHash(a) != ComputeConfigHash(b) {
		t.Error("discovery settings must not affect the embedding hash")
	}

	b.Embedding.Dimension = 16
	if ComputeConfigHash(a) == ComputeConfigHash(b) {
		t.Error("dimension must affect the embedding hash")
	}
}

func TestClearEmbeddings(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, 3)

	if _, err := s.CreateUser(ctx, domain.UserProfile{ID: "alice", Username: "a"}); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateUserEmbedding(ctx, "alice", domain.Vector{1, 0, 0}); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertTagEmbedding(ctx, "chess", domain.Vector{0, 1, 0}); err != nil {
		t.Fatal(err)
	}

	if err := s.ClearEmbeddings(); err != nil {
		t.Fatalf("clear: %v", err)
	}

	user, err := s.GetUser(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if user.HasEmbedding() {
		t.Error("expected user embedding to be cleared")
	}
	if user.Username != "a" {
		t.Errorf("profile fields must survive, got username %q", user.Username)
	}
	if _, ok, _ := s.FetchTagEmbedding(ctx, "chess"); ok {
		t.Error("expected tag embedding to be cleared")
	}
	if s.TagIndex().Count() != 0 {
		t.Error("expected in-memory index to be reset")
	}
}
