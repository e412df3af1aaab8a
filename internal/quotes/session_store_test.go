package quotes

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shipping-rates-service/internal/models"
)

func storedSession(ttl time.Duration) *models.QuoteSession {
	now := time.Now()
	return &models.QuoteSession{
		ID:       uuid.New(),
		TenantID: "tenant-1",
		Options: []models.QuoteOption{
			{ID: uuid.New()},
			{ID: uuid.New()},
		},
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

func TestMemoryStoreSaveAndGet(t *testing.T) {
	store := NewMemorySessionStore()
	session := storedSession(time.Minute)

	require.NoError(t, store.Save(context.Background(), session))

	got, err := store.Get(context.Background(), "tenant-1", session.ID)
	require.NoError(t, err)
	assert.Equal(t, session.ID, got.ID)
	assert.Len(t, got.Options, 2)
}

func TestMemoryStoreGetUnknownSession(t *testing.T) {
	store := NewMemorySessionStore()

	_, err := store.Get(context.Background(), "tenant-1", uuid.New())
	assert.ErrorIs(t, err, models.ErrSessionNotFound)
}

func TestMemoryStoreTenantIsolation(t *testing.T) {
	store := NewMemorySessionStore()
	session := storedSession(time.Minute)
	require.NoError(t, store.Save(context.Background(), session))

	_, err := store.Get(context.Background(), "tenant-2", session.ID)
	assert.ErrorIs(t, err, models.ErrSessionNotFound)
}

func TestMemoryStoreExpiryTreatedAsMissing(t *testing.T) {
	store := NewMemorySessionStore()
	session := storedSession(time.Minute)
	require.NoError(t, store.Save(context.Background(), session))

	store.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	_, err := store.Get(context.Background(), "tenant-1", session.ID)
	assert.ErrorIs(t, err, models.ErrSessionNotFound)

	err = store.Select(context.Background(), "tenant-1", session.ID, session.Options[0].ID)
	assert.ErrorIs(t, err, models.ErrSessionNotFound)
}

func TestMemoryStoreSelectOption(t *testing.T) {
	store := NewMemorySessionStore()
	session := storedSession(time.Minute)
	require.NoError(t, store.Save(context.Background(), session))

	optionID := session.Options[1].ID
	require.NoError(t, store.Select(context.Background(), "tenant-1", session.ID, optionID))

	got, err := store.Get(context.Background(), "tenant-1", session.ID)
	require.NoError(t, err)
	require.NotNil(t, got.SelectedOptionID)
	assert.Equal(t, optionID, *got.SelectedOptionID)
	assert.False(t, got.Booked)
}

func TestMemoryStoreSelectInvalidOption(t *testing.T) {
	store := NewMemorySessionStore()
	session := storedSession(time.Minute)
	require.NoError(t, store.Save(context.Background(), session))

	err := store.Select(context.Background(), "tenant-1", session.ID, uuid.New())
	assert.ErrorIs(t, err, models.ErrInvalidOption)
}

func TestMemoryStoreSelectOnSessionWithoutOptions(t *testing.T) {
	store := NewMemorySessionStore()
	session := storedSession(time.Minute)
	session.Options = nil
	require.NoError(t, store.Save(context.Background(), session))

	err := store.Select(context.Background(), "tenant-1", session.ID, uuid.New())
	assert.ErrorIs(t, err, models.ErrInvalidOption)
}

func TestMemoryStoreMarkBookedLocksSession(t *testing.T) {
	store := NewMemorySessionStore()
	session := storedSession(time.Minute)
	require.NoError(t, store.Save(context.Background(), session))

	optionID := session.Options[0].ID
	require.NoError(t, store.MarkBooked(context.Background(), "tenant-1", session.ID, optionID))

	// A second booking attempt conflicts
	err := store.MarkBooked(context.Background(), "tenant-1", session.ID, optionID)
	assert.ErrorIs(t, err, models.ErrSessionBooked)

	// So does re-selecting a different option
	err = store.Select(context.Background(), "tenant-1", session.ID, session.Options[1].ID)
	assert.ErrorIs(t, err, models.ErrSessionBooked)

	got, err := store.Get(context.Background(), "tenant-1", session.ID)
	require.NoError(t, err)
	assert.True(t, got.Booked)
	require.NotNil(t, got.SelectedOptionID)
	assert.Equal(t, optionID, *got.SelectedOptionID)
}

func TestMemoryStoreSaveCopiesSession(t *testing.T) {
	store := NewMemorySessionStore()
	session := storedSession(time.Minute)
	require.NoError(t, store.Save(context.Background(), session))

	// Mutating the caller's copy must not leak into the store
	session.Booked = true

	got, err := store.Get(context.Background(), "tenant-1", session.ID)
	require.NoError(t, err)
	assert.False(t, got.Booked)
}
