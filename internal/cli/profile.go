package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"nemesis/internal/domain"
)

var (
	profileJSON bool

	updateUsername    string
	updateDisplayName string
	updateAvatarURL   string
	updateBio         string
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Show or edit profiles",
}

var profileMeCmd = &cobra.Command{
	Use:   "me",
	Short: "Show your profile, creating it on first use",
	Args:  cobra.NoArgs,
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

		p, err := a.engine.Profiles.GetOrCreateCurrentProfile(cmd.Context(), me)
		if err != nil {
			return err
		}
		return printProfile(cmd.OutOrStdout(), p)
	},
}

var profileShowCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Show another user's profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), GetConfig())
		if err != nil {
			return err
		}
		defer a.close()

		p, err := a.engine.Profiles.GetProfile(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printProfile(cmd.OutOrStdout(), p)
	},
}

var profileUpdateCmd = &cobra.Command{
	Use:   "update",
	Short: "Update your profile fields",
	Long: `Update the fields given as flags; fields not given are left unchanged.

Examples:
  nemesis --user alice profile update --bio "hates mornings"
  nemesis --user alice profile update --username alice_w --display-name "Alice W."`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		me, err := currentUser()
		if err != nil {
			return err
		}

		var update domain.ProfileUpdate
		flags := cmd.Flags()
		if flags.Changed("username") {
			update.Username = &updateUsername
		}
		if flags.Changed("display-name") {
			update.DisplayName = &updateDisplayName
		}
		if flags.Changed("avatar-url") {
			update.AvatarURL = &updateAvatarURL
		}
		if flags.Changed("bio") {
			update.Bio = &updateBio
		}

		a, err := openApp(cmd.Context(), GetConfig())
		if err != nil {
			return err
		}
		defer a.close()

		p, err := a.engine.Profiles.UpdateProfile(cmd.Context(), me, update)
		if err != nil {
			return err
		}
		return printProfile(cmd.OutOrStdout(), p)
	},
}

func init() {
	rootCmd.AddCommand(profileCmd)
	profileCmd.AddCommand(profileMeCmd, profileShowCmd, profileUpdateCmd)
	profileCmd.PersistentFlags().BoolVar(&profileJSON, "json", false, "output as JSON")

	f := profileUpdateCmd.Flags()
	f.StringVar(&updateUsername, "username", "", "new username")
	f.StringVar(&updateDisplayName, "display-name", "", "new display name")
	f.StringVar(&updateAvatarURL, "avatar-url", "", "new avatar URL")
	f.StringVar(&updateBio, "bio", "", "new bio")
}

func printProfile(w io.Writer, p domain.UserProfile) error {
	if profileJSON {
		return printJSON(w, p)
	}
	fmt.Fprintf(w, "ID:        %s\n", p.ID)
	fmt.Fprintf(w, "Username:  %s\n", p.Username)
	if p.DisplayName != "" {
		fmt.Fprintf(w, "Name:      %s\n", p.DisplayName)
	}
	fmt.Fprintf(w, "Avatar:    %s\n", p.AvatarURL)
	if p.Bio != "" {
		fmt.Fprintf(w, "Bio:       %s\n", p.Bio)
	}
	fmt.Fprintf(w, "Embedding: %v\n", p.HasEmbedding())
	return nil
}
