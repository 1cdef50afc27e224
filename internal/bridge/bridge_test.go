package bridge

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bridge.sqlite")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNextReturnsFalseWhenEmpty(t *testing.T) {
	s := openTestStore(t)
	_, ok, err := s.Next(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestInsertThenNextClaimsOldestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, `{"srid":"first"}`))
	require.NoError(t, s.Insert(ctx, `{"srid":"second"}`))

	config, ok, err := s.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, `{"srid":"first"}`, config)

	config, ok, err = s.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, `{"srid":"second"}`, config)

	_, ok, err = s.Next(ctx)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestNextDoesNotReturnSameRowTwice(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, `{"srid":"only"}`))

	_, ok, err := s.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = s.Next(ctx)
	require.NoError(t, err)
	require.False(t, ok, "row already claimed must not be handed out again")
}
