package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	tagJSON      bool
	tagMatch     string
	nemesisLimit int
)

var tagCmd = &cobra.Command{
	Use:   "tag",
	Short: "Manage tags",
}

var tagAddCmd = &cobra.Command{
	Use:   "add NAME",
	Short: "Add a tag to your profile",
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

		ut, err := a.engine.Tags.AddTag(cmd.Context(), me, args[0])
		if err != nil {
			return err
		}
		if tagJSON {
			return printJSON(cmd.OutOrStdout(), ut)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Tagged %s with %q\n", me, ut.TagName)
		return nil
	},
}

var tagRmCmd = &cobra.Command{
	Use:   "rm NAME...",
	Short: "Remove tags from your profile",
	Args:  cobra.MinimumNArgs(1),
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

		if err := a.engine.Tags.RemoveTags(cmd.Context(), me, args); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %d tag(s) from %s\n", len(args), me)
		return nil
	},
}

var tagLsCmd = &cobra.Command{
	Use:   "ls [USER]",
	Short: "List a user's tags (default: yours)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var who string
		if len(args) > 0 {
			who = args[0]
		} else {
			var err error
			if who, err = currentUser(); err != nil {
				return err
			}
		}
		a, err := openApp(cmd.Context(), GetConfig())
		if err != nil {
			return err
		}
		defer a.close()

		tags, err := a.engine.Tags.ListUserTags(cmd.Context(), who)
		if err != nil {
			return err
		}
		if tagJSON {
			return printJSON(cmd.OutOrStdout(), tags)
		}
		if len(tags) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No tags.")
			return nil
		}
		for _, t := range tags {
			fmt.Fprintln(cmd.OutOrStdout(), t.TagName)
		}
		return nil
	},
}

var tagPopularCmd = &cobra.Command{
	Use:   "popular",
	Short: "List tags by number of users",
	Long: `List every tag with the number of users carrying it, most used first.

Examples:
  nemesis tag popular
  nemesis tag popular --match "music/**"`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), GetConfig())
		if err != nil {
			return err
		}
		defer a.close()

		counts, err := a.engine.Tags.ListTags(cmd.Context(), tagMatch)
		if err != nil {
			return err
		}
		if tagJSON {
			return printJSON(cmd.OutOrStdout(), counts)
		}
		for _, c := range counts {
			fmt.Fprintf(cmd.OutOrStdout(), "%6d  %s\n", c.UserCount, c.TagName)
		}
		return nil
	},
}

var tagNemesisCmd = &cobra.Command{
	Use:   "nemesis NAME",
	Short: "List the tags most opposed to NAME",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), GetConfig())
		if err != nil {
			return err
		}
		defer a.close()

		ranked, err := a.engine.Tags.NemesisTags(cmd.Context(), args[0], nemesisLimit)
		if err != nil {
			return err
		}
		if tagJSON {
			return printJSON(cmd.OutOrStdout(), ranked)
		}
		for i, r := range ranked {
			fmt.Fprintf(cmd.OutOrStdout(), "%3d. %-30s %.4f\n", i+1, r.TagName, r.NemesisScore)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tagCmd)
	tagCmd.AddCommand(tagAddCmd, tagRmCmd, tagLsCmd, tagPopularCmd, tagNemesisCmd)
	tagCmd.PersistentFlags().BoolVar(&tagJSON, "json", false, "output as JSON")
	tagPopularCmd.Flags().StringVar(&tagMatch, "match", "", "only tags matching this glob")
	tagNemesisCmd.Flags().IntVarP(&nemesisLimit, "limit", "n", 0, "number of tags (default 10)")
}
