package session

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_CreateIssuesFreshIDs(t *testing.T) {
	store := NewStore()

	first := store.Create("2025-06-18")
	second := store.Create("2025-06-18")

	assert.NotEmpty(t, first.ID)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, StateInitialized, first.State)
	assert.Equal(t, 2, store.Len())

	got, err := store.Get(first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.CreatedAt, got.CreatedAt)
	assert.Equal(t, "2025-06-18", got.ProtocolVersion)
}

func TestStore_GetUnknown(t *testing.T) {
	store := NewStore()

	_, err := store.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, store.Exists("missing"))
	assert.ErrorIs(t, store.Touch("missing"), ErrNotFound)
}

func TestStore_Remove(t *testing.T) {
	store := NewStore()
	sess := store.Create("2025-03-26")

	require.NoError(t, store.Remove(sess.ID))
	assert.False(t, store.Exists(sess.ID))
	assert.ErrorIs(t, store.Remove(sess.ID), ErrNotFound)
}

func TestStore_SweepExpired(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := NewStore(WithClock(clock), WithTTL(time.Hour))

	stale := store.Create("2025-06-18")
	clock.Advance(40 * time.Minute)
	fresh := store.Create("2025-06-18")
	clock.Advance(30 * time.Minute)

	assert.Equal(t, 1, store.Sweep())
	assert.False(t, store.Exists(stale.ID))
	assert.True(t, store.Exists(fresh.ID))
}

func TestStore_TouchPostponesExpiry(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := NewStore(WithClock(clock), WithTTL(time.Hour))

	sess := store.Create("2025-06-18")
	clock.Advance(50 * time.Minute)
	require.NoError(t, store.Touch(sess.ID))
	clock.Advance(50 * time.Minute)

	assert.Equal(t, 0, store.Sweep())
	assert.True(t, store.Exists(sess.ID))
}

func TestStore_SweepDisabled(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := NewStore(WithClock(clock), WithTTL(0))

	store.Create("2025-06-18")
	clock.Advance(1000 * time.Hour)

	assert.Equal(t, 0, store.Sweep())
	assert.Equal(t, 1, store.Len())
}

func TestStore_CloseAll(t *testing.T) {
	store := NewStore()
	a := store.Create("2025-06-18")
	b := store.Create("2025-06-18")

	assert.Equal(t, 2, store.CloseAll())
	assert.Equal(t, 0, store.Len())
	assert.False(t, store.Exists(a.ID))
	assert.False(t, store.Exists(b.ID))
	assert.Empty(t, store.List())
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateUninitialized, "uninitialized"},
		{StateInitialized, "initialized"},
		{StateTerminated, "terminated"},
		{State(42), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.state.String())
	}
}
