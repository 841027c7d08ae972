package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/k-yomo/kagu-miru/pkg/errors"
)

func TestSnapshot_Values(t *testing.T) {
	s := Snapshot{Query: "q=sofa&searchFrom=FILTER"}
	assert.Equal(t, "sofa", s.Values().Get("q"))
	assert.Equal(t, "FILTER", s.Values().Get("searchFrom"))
}

func TestMemory_SaveLoadDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Hour)

	require.NoError(t, m.Save(ctx, &Snapshot{SessionID: "s1", Query: "q=lamp"}))

	got, err := m.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "q=lamp", got.Query)

	require.NoError(t, m.Delete(ctx, "s1"))
	_, err = m.Load(ctx, "s1")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestMemory_Expiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemory(time.Minute)
	m.now = func() time.Time { return now }

	require.NoError(t, m.Save(ctx, &Snapshot{SessionID: "s1"}))

	now = now.Add(59 * time.Second)
	_, err := m.Load(ctx, "s1")
	require.NoError(t, err)

	now = now.Add(time.Second)
	_, err = m.Load(ctx, "s1")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestMemory_LoadReturnsCopy(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(0)
	require.NoError(t, m.Save(ctx, &Snapshot{SessionID: "s1", Query: "q=a"}))

	got, err := m.Load(ctx, "s1")
	require.NoError(t, err)
	got.Query = "q=b"

	again, err := m.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "q=a", again.Query)
}
