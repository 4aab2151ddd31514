//go:build !integration

package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/geo-catalog/internal/config"
)

func TestInitStore_SQLite(t *testing.T) {
	cfg = &config.Config{Store: config.StoreConfig{
		Driver:      "sqlite",
		DatabaseURL: filepath.Join(t.TempDir(), "test.db"),
	}}

	st, err := initStore(context.Background())
	require.NoError(t, err)
	require.NotNil(t, st)
	defer st.Close() //nolint:errcheck
}

func TestInitStore_UnsupportedDriver(t *testing.T) {
	cfg = &config.Config{Store: config.StoreConfig{Driver: "mongodb"}}
	_, err := initStore(context.Background())
	assert.Error(t, err)
}

func TestOpenStore_Migrates(t *testing.T) {
	cfg = &config.Config{Store: config.StoreConfig{
		Driver:      "sqlite",
		DatabaseURL: filepath.Join(t.TempDir(), "test.db"),
	}}
	ctx := context.Background()

	st, err := openStore(ctx, "runs")
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	runs, err := st.ListRuns(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestOpenStore_InvalidConfig(t *testing.T) {
	cfg = &config.Config{Store: config.StoreConfig{Driver: "postgres"}}
	_, err := openStore(context.Background(), "runs")
	assert.Error(t, err)
}
