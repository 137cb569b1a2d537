package cli

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"nemesis/config"
	"nemesis/internal/logging"
)

var (
	cfgFile string
	cfg     *config.Config
	rootDir string
	userID  string
	logger  zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "nemesis",
	Short: "Nemesis - find the users who oppose you most",
	Long: `Nemesis matches users with the people whose interests are most opposed to their own.
Profiles are described by tags; every tag gets a deterministic synthetic embedding and a
profile embedding is the normalized mean of its tags. Discovery ranks everyone else by a
composite opposition score.

Example usage:
  nemesis --user alice profile me          # Create or show your profile
  nemesis --user alice tag add jazz        # Describe yourself
  nemesis --user alice discover --limit 5  # Find your nemeses`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error

		if rootDir == "" {
			rootDir, err = os.Getwd()
			if err != nil {
				return fmt.Errorf("failed to get working directory: %w", err)
			}
		}

		if cfgFile != "" {
			cfg, err = config.Load(cfgFile)
		} else {
			cfg, err = config.LoadFromDir(rootDir)
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		logger = logging.New(cfg.Logging.Level, cfg.Logging.JSON)
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./nemesis.yaml)")
	rootCmd.PersistentFlags().StringVarP(&rootDir, "dir", "d", "", "project directory holding .nemesis (default is current directory)")
	rootCmd.PersistentFlags().StringVarP(&userID, "user", "u", os.Getenv("NEMESIS_USER"), "acting user id (default $NEMESIS_USER)")
}

func GetConfig() *config.Config {
	return cfg
}

func GetRootDir() string {
	return rootDir
}

// currentUser returns the --user flag or an error naming it.
func currentUser() (string, error) {
	if userID == "" {
		return "", fmt.Errorf("no acting user: pass --user or set NEMESIS_USER")
	}
	return userID, nil
}
