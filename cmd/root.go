package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/onboarding-cli/internal/config"
)

var cfg *config.Config

// Persistent flags. Empty values leave the loaded configuration alone.
var (
	configFile  string
	storeDriver string
	logLevel    string
	logFormat   string
)

var rootCmd = &cobra.Command{
	Use:           "onboarding-cli",
	Short:         "Website onboarding for service businesses",
	Long:          "Discovers a business website, scrapes the chosen pages in batches, extracts company info and offerings with Claude, and builds a tenant once the owner approves.\n\nSettings come from --config (default ./config.yaml) and ONBOARD_* environment variables; the flags below override both.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.LoadFile(configFile)
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		applyFlagOverrides(c)
		cfg = c

		return eris.Wrap(config.InitLogger(cfg.Log), "init logger")
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "path to a YAML config file")
	pf.StringVar(&storeDriver, "store", "", "job store driver: postgres or sqlite")
	pf.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn or error")
	pf.StringVar(&logFormat, "log-format", "", "log format: json or console")
}

func applyFlagOverrides(c *config.Config) {
	if storeDriver != "" {
		c.Store.Driver = storeDriver
	}
	if logLevel != "" {
		c.Log.Level = logLevel
	}
	if logFormat != "" {
		c.Log.Format = logFormat
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
