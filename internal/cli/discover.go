package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	discoverLimit  int
	discoverOffset int
	discoverJSON   bool
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Find the users most opposed to you",
	Long: `Rank every other user by how strongly they oppose you. Users you already liked
or disliked are left out.

Examples:
  nemesis --user alice discover
  nemesis --user alice discover --limit 20 --offset 20 --json`,
	Args: cobra.NoArgs,
	RunE: runDiscover,
}

func init() {
	rootCmd.AddCommand(discoverCmd)
	discoverCmd.Flags().IntVarP(&discoverLimit, "limit", "n", 0, "page size (default from config)")
	discoverCmd.Flags().IntVar(&discoverOffset, "offset", 0, "number of results to skip")
	discoverCmd.Flags().BoolVar(&discoverJSON, "json", false, "output as JSON")
}

func runDiscover(cmd *cobra.Command, args []string) error {
	me, err := currentUser()
	if err != nil {
		return err
	}
	a, err := openApp(cmd.Context(), GetConfig())
	if err != nil {
		return err
	}
	defer a.close()

	results, err := a.engine.Discovery.Discover(cmd.Context(), me, discoverLimit, discoverOffset)
	if err != nil {
		return fmt.Errorf("discovery failed: %w", err)
	}

	out := cmd.OutOrStdout()
	if discoverJSON {
		return printJSON(out, results)
	}
	if len(results) == 0 {
		fmt.Fprintln(out, "No candidates found.")
		return nil
	}
	for i, r := range results {
		fmt.Fprintf(out, "%3d. %-24s %s (score: %.4f)\n", discoverOffset+i+1, r.Profile.Username, r.Profile.ID, r.Score)
		if len(r.Tags) > 0 {
			fmt.Fprintf(out, "     tags: %s\n", strings.Join(r.Tags, ", "))
		}
	}
	return nil
}
