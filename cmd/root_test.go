//go:build !integration

package main

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/geo-catalog/internal/config"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"ingest", "query", "migrate", "runs", "serve"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "geo-catalog", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestRootCommand_StoreFlags(t *testing.T) {
	for _, name := range []string{"driver", "database-url"} {
		assert.NotNil(t, rootCmd.PersistentFlags().Lookup(name), "missing --%s", name)
	}
}

func TestIngestCommand_Flags(t *testing.T) {
	for _, name := range []string{"data-dir", "clear-collection", "skip-large-files", "sources", "file", "parallel", "dry-run", "watch"} {
		assert.NotNil(t, ingestCmd.Flags().Lookup(name), "ingest should have --%s", name)
	}
}

func TestQueryCommand_Flags(t *testing.T) {
	for _, name := range []string{"action", "west", "east", "north", "south", "lat", "lng", "distance", "dataset-id", "system-name", "format", "output", "limit"} {
		assert.NotNil(t, queryCmd.Flags().Lookup(name), "query should have --%s", name)
	}
	limit := queryCmd.Flags().Lookup("limit")
	require.NotNil(t, limit)
	assert.Equal(t, "1000", limit.DefValue)
	assert.Equal(t, "output", queryCmd.Flags().Lookup("output").DefValue)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestApplyStoreFlags(t *testing.T) {
	c := &config.Config{Store: config.StoreConfig{Driver: "postgres", DatabaseURL: "postgres://db"}}

	cmd := &cobra.Command{Use: "geo-catalog"}
	cmd.Flags().String("driver", "", "")
	cmd.Flags().String("database-url", "", "")
	require.NoError(t, cmd.Flags().Set("driver", "sqlite"))

	applyStoreFlags(cmd, c)
	assert.Equal(t, "sqlite", c.Store.Driver)
	assert.Equal(t, "postgres://db", c.Store.DatabaseURL)
}
