package cli

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"nemesis/config"
	"nemesis/internal/adapter/store"
)

var (
	seedCount   int
	seedPool    []string
	seedPerUser int
)

var defaultSeedPool = []string{
	"jazz", "metal", "opera", "techno", "cats", "dogs", "hiking", "gaming",
	"pineapple-pizza", "sushi", "mornings", "night-owl", "crypto", "gardening",
	"football", "chess", "reality-tv", "poetry", "minimalism", "karaoke",
}

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Recompute every profile embedding",
	Args:  cobra.NoArgs,
	RunE:  runReindex,
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create synthetic users with random tags",
	Long: `Create synthetic users, each tagged with a random subset of a tag pool.

Examples:
  nemesis seed --count 100
  nemesis seed --count 20 --tags jazz,metal,opera --per-user 2`,
	Args: cobra.NoArgs,
	RunE: runSeed,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Upgrade the local database and rebuild embeddings if needed",
	Long: `Upgrade the bolt database schema. When the embedding configuration changed since the
database was written, every stored embedding is dropped and recomputed.
Postgres applies its schema on every connection, so this only reindexes there.`,
	Args: cobra.NoArgs,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(reindexCmd, seedCmd, migrateCmd)
	seedCmd.Flags().IntVarP(&seedCount, "count", "n", 10, "number of users to create")
	seedCmd.Flags().StringSliceVar(&seedPool, "tags", nil, "tag pool (default: built-in pool)")
	seedCmd.Flags().IntVar(&seedPerUser, "per-user", 3, "tags per user")
}

func newBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowBytes(false),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			fmt.Println()
		}),
	)
}

func runReindex(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context(), GetConfig())
	if err != nil {
		return err
	}
	defer a.close()
	return reindex(cmd, a)
}

func reindex(cmd *cobra.Command, a *app) error {
	ids, err := a.store.ListUserIDs(cmd.Context())
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No users to reindex.")
		return nil
	}

	bar := newBar(len(ids), "[cyan]Reindexing[reset]")
	start := time.Now()
	processed := 0
	n, err := a.engine.Reindex(cmd.Context(), func(id string, err error) {
		processed++
		_ = bar.Set(processed)
		if err == nil {
			elapsed := time.Since(start)
			rate := float64(processed) / elapsed.Seconds()
			if rate > 0 {
				eta := time.Duration(float64(len(ids)-processed)/rate) * time.Second
				bar.Describe(fmt.Sprintf("[cyan]Reindexing[reset] ETA: %s", formatDuration(eta)))
			}
		}
	})
	if err != nil {
		return fmt.Errorf("reindex stopped after %d users: %w", n, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Reindexed %d profiles in %s\n", n, formatDuration(time.Since(start)))
	return nil
}

func runSeed(cmd *cobra.Command, args []string) error {
	if seedCount <= 0 {
		return fmt.Errorf("--count must be positive")
	}
	pool := seedPool
	if len(pool) == 0 {
		pool = defaultSeedPool
	}
	perUser := min(max(seedPerUser, 0), len(pool))

	a, err := openApp(cmd.Context(), GetConfig())
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()
	bar := newBar(seedCount, "[cyan]Seeding[reset]")
	for i := 0; i < seedCount; i++ {
		id := uuid.NewString()
		if _, err := a.engine.Profiles.GetOrCreateCurrentProfile(ctx, id); err != nil {
			return fmt.Errorf("create user %d: %w", i, err)
		}
		for _, j := range rand.Perm(len(pool))[:perUser] {
			if _, err := a.engine.Tags.AddTag(ctx, id, pool[j]); err != nil {
				return fmt.Errorf("tag user %s: %w", id, err)
			}
		}
		_ = bar.Add(1)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d users with %d tag(s) each\n", seedCount, perUser)
	if failures := a.engine.Maintainer().Failures(); failures > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "Warning: %d profile refreshes failed; run 'nemesis reindex'\n", failures)
	}
	return nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	rebuild := false

	if cfg.Store.Driver == "bolt" {
		if err := config.EnsureDir(cfg.Store.Path); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
		st, err := store.NewBoltStore(cfg.Store.Path, cfg.Embedding.Dimension)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		result, err := st.CheckMigration(cfg)
		if err != nil {
			st.Close()
			return fmt.Errorf("failed to check migration: %w", err)
		}

		if result.NeedsRebuild {
			fmt.Fprintf(cmd.OutOrStdout(), "Embedding rebuild required: %s\n", result.Reason)
			if err := st.ClearEmbeddings(); err != nil {
				st.Close()
				return fmt.Errorf("failed to clear embeddings: %w", err)
			}
			rebuild = true
		} else if result.NeedsMigration {
			fmt.Fprintf(cmd.OutOrStdout(), "Running schema migration: %s\n", result.Reason)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "Schema is up to date (v%d)\n", result.OldVersion)
		}
		if err := st.Migrate(cfg); err != nil {
			st.Close()
			return fmt.Errorf("migration failed: %w", err)
		}
		if err := st.Close(); err != nil {
			return err
		}
	} else {
		rebuild = true
	}

	if !rebuild {
		return nil
	}
	a, err := openApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.close()
	return reindex(cmd, a)
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return "<1s"
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh%dm", h, m)
}
