package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/geo-catalog/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "geo-catalog",
	Short: "Geospatial catalog of environmental sample records",
	Long: "Ingests sample location exports from EMSL, ESS-DIVE, NMDC and JGI GOLD into one " +
		"spatially indexed collection, and answers bounding-box, radius and lookup queries over it.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		applyStoreFlags(cmd, c)
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

// applyStoreFlags lets --driver and --database-url override the config file
// and environment.
func applyStoreFlags(cmd *cobra.Command, c *config.Config) {
	if f := cmd.Flags().Lookup("driver"); f != nil && f.Changed {
		c.Store.Driver = f.Value.String()
	}
	if f := cmd.Flags().Lookup("database-url"); f != nil && f.Changed {
		c.Store.DatabaseURL = f.Value.String()
	}
}

func init() {
	rootCmd.PersistentFlags().String("driver", "", "store driver: postgres or sqlite (default from config)")
	rootCmd.PersistentFlags().String("database-url", "", "database connection string or SQLite path (default from config)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
