package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"nemesis/internal/domain"
)

var (
	relJSON     bool
	relLimit    int
	relOffset   int
	dislikeTags []string
)

var likeCmd = &cobra.Command{
	Use:   "like ID",
	Short: "Like a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		me, err := currentUser()
		if err != nil {
			return err
		}
		a, err := openApp(cmd.Context(), GetConfig())
		if err != nil {
			return err
		}
		defer a.close()

		rel, err := a.engine.Relationships.LikeUser(cmd.Context(), me, args[0])
		if err != nil {
			return err
		}
		if relJSON {
			return printJSON(cmd.OutOrStdout(), rel)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s likes %s\n", me, rel.TargetID)
		return nil
	},
}

var dislikeCmd = &cobra.Command{
	Use:   "dislike ID",
	Short: "Dislike a user, optionally saying why",
	Long: `Dislike a user. Tags given with --tags record what you disliked about them.

Examples:
  nemesis --user alice dislike bob
  nemesis --user alice dislike bob --tags loud,smug`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		me, err := currentUser()
		if err != nil {
			return err
		}
		a, err := openApp(cmd.Context(), GetConfig())
		if err != nil {
			return err
		}
		defer a.close()

		rel, tags, err := a.engine.Relationships.DislikeUserWithTags(cmd.Context(), me, args[0], dislikeTags)
		if err != nil {
			return err
		}
		if relJSON {
			return printJSON(cmd.OutOrStdout(), struct {
				domain.Relationship
				Tags []domain.DislikeTag `json:"tags,omitempty"`
			}{rel, tags})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s dislikes %s\n", me, rel.TargetID)
		for _, t := range tags {
			fmt.Fprintf(cmd.OutOrStdout(), "  because: %s\n", t.TagName)
		}
		return nil
	},
}

var likesCmd = &cobra.Command{
	Use:   "likes",
	Short: "List the users you liked, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runListRelated(cmd, domain.Like)
	},
}

var dislikesCmd = &cobra.Command{
	Use:   "dislikes",
	Short: "List the users you disliked, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runListRelated(cmd, domain.Dislike)
	},
}

func init() {
	for _, c := range []*cobra.Command{likeCmd, dislikeCmd, likesCmd, dislikesCmd} {
		rootCmd.AddCommand(c)
		c.Flags().BoolVar(&relJSON, "json", false, "output as JSON")
	}
	dislikeCmd.Flags().StringSliceVar(&dislikeTags, "tags", nil, "comma separated reasons")
	for _, c := range []*cobra.Command{likesCmd, dislikesCmd} {
		c.Flags().IntVarP(&relLimit, "limit", "n", 0, "page size (default 10)")
		c.Flags().IntVar(&relOffset, "offset", 0, "number of entries to skip")
	}
}

func runListRelated(cmd *cobra.Command, kind domain.RelationshipKind) error {
	me, err := currentUser()
	if err != nil {
		return err
	}
	a, err := openApp(cmd.Context(), GetConfig())
	if err != nil {
		return err
	}
	defer a.close()

	var related []domain.RelatedUser
	if kind == domain.Like {
		related, err = a.engine.Relationships.ListLiked(cmd.Context(), me, relLimit, relOffset)
	} else {
		related, err = a.engine.Relationships.ListDisliked(cmd.Context(), me, relLimit, relOffset)
	}
	if err != nil {
		return err
	}
	if relJSON {
		return printJSON(cmd.OutOrStdout(), related)
	}
	printRelated(cmd.OutOrStdout(), related)
	return nil
}

func printRelated(w io.Writer, related []domain.RelatedUser) {
	if len(related) == 0 {
		fmt.Fprintln(w, "Nobody yet.")
		return
	}
	for _, r := range related {
		fmt.Fprintf(w, "%s  %-24s %s\n", r.At.Format("2006-01-02 15:04"), r.Profile.Username, r.Profile.ID)
		if len(r.DislikeTags) > 0 {
			names := make([]string, len(r.DislikeTags))
			for i, t := range r.DislikeTags {
				names[i] = t.TagName
			}
			fmt.Fprintf(w, "    because: %s\n", strings.Join(names, ", "))
		}
	}
}
