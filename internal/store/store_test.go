package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libraledger/internal/config"
)

func TestOpenBolt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "ledger.db")

	backend, err := Open(context.Background(), config.StoreConfig{Driver: config.DriverBolt, BoltPath: path})
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })

	events, err := backend.StreamEvents(context.Background(), 0, 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), config.StoreConfig{Driver: "mongo"})
	assert.Error(t, err)
}
