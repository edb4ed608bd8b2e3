package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/dkeye/callsignal/internal/adapters/store/memstore"
	"github.com/dkeye/callsignal/internal/adapters/store/sqlstore"
	"github.com/dkeye/callsignal/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, config.StoreConfig{Driver: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &memstore.Store{}, s)

	s, err = Open(ctx, config.StoreConfig{
		Driver:    "sqlite",
		URI:       "file:" + filepath.Join(t.TempDir(), "s.db"),
		OpTimeout: time.Second,
	})
	require.NoError(t, err)
	assert.IsType(t, &sqlstore.Store{}, s)
	require.NoError(t, s.Close(ctx))

	_, err = Open(ctx, config.StoreConfig{Driver: "redis"})
	assert.Error(t, err)
}
