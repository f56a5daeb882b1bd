package dedup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"chat4all/internal/config"
	"chat4all/internal/logger"
)

type fakeRepository struct {
	keys    map[string]bool
	failing bool
	setErr  error
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{keys: make(map[string]bool)}
}

func (f *fakeRepository) Exists(ctx context.Context, key string) (bool, error) {
	if f.failing {
		return false, errors.New("connection refused")
	}
	return f.keys[key], nil
}

func (f *fakeRepository) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	if f.failing || f.setErr != nil {
		return false, errors.New("connection refused")
	}
	if f.keys[key] {
		return false, nil
	}
	f.keys[key] = true
	return true, nil
}

func TestStore_MarkThenCheck(t *testing.T) {
	repo := newFakeRepository()
	store := NewStore(repo, config.DeduplicationConfig{TTL: time.Hour}, logger.NopLogger())
	ctx := context.Background()

	assert.False(t, store.IsDuplicate(ctx, "m1"))

	store.MarkProcessed(ctx, "m1")

	assert.True(t, store.IsDuplicate(ctx, "m1"))
	assert.False(t, store.IsDuplicate(ctx, "m2"))
}

func TestStore_FailsOpenOnCheckError(t *testing.T) {
	repo := newFakeRepository()
	store := NewStore(repo, config.DeduplicationConfig{TTL: time.Hour}, logger.NopLogger())
	ctx := context.Background()

	store.MarkProcessed(ctx, "m1")
	repo.failing = true

	// A store error must never block processing: the message is treated
	// as unseen even though it was marked before.
	assert.False(t, store.IsDuplicate(ctx, "m1"))
}

func TestStore_MarkErrorDoesNotPanic(t *testing.T) {
	repo := newFakeRepository()
	repo.failing = true
	store := NewStore(repo, config.DeduplicationConfig{}, logger.NopLogger())

	store.MarkProcessed(context.Background(), "m1")

	repo.failing = false
	assert.False(t, store.IsDuplicate(context.Background(), "m1"))
}
