package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/grant-funnel/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "grant-funnel",
	Short: "Grant opportunity discovery and funnel tracking",
	Long: `Discovers funding opportunities for nonprofit organization profiles, screens them
through a three-stage AI cascade and tracks each one through the funnel:
prospects, qualified_prospects, candidates, targets, opportunities.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return eris.Wrap(err, "init logger")
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringP("profile", "p", "", "organization profile id")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// profileFlag returns the --profile value or an error when it is missing.
func profileFlag(cmd *cobra.Command) (string, error) {
	p, _ := cmd.Flags().GetString("profile")
	if p == "" {
		return "", eris.New("--profile is required")
	}
	return p, nil
}
