package oauth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func newTestStateRepository(t *testing.T) (*StateRepository, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewStateRepository(client, 10*time.Minute), mr
}

func TestStateRepositorySaveAndConsume(t *testing.T) {
	repo, _ := newTestStateRepository(t)
	ctx := context.Background()

	userID := uuid.New()
	state := "test-state-token"

	if err := repo.Save(ctx, state, userID, "google"); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	got, err := repo.Consume(ctx, state)
	if err != nil {
		t.Fatalf("Consume returned error: %v", err)
	}
	if got.UserID != userID {
		t.Errorf("UserID = %s, want %s", got.UserID, userID)
	}
	if got.Provider != "google" {
		t.Errorf("Provider = %q, want %q", got.Provider, "google")
	}
}

func TestStateRepositoryConsumeIsSingleUse(t *testing.T) {
	repo, _ := newTestStateRepository(t)
	ctx := context.Background()

	state := "single-use-state"
	if err := repo.Save(ctx, state, uuid.New(), "google"); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	if _, err := repo.Consume(ctx, state); err != nil {
		t.Fatalf("first Consume returned error: %v", err)
	}

	_, err := repo.Consume(ctx, state)
	if !errors.Is(err, ErrStateNotFound) {
		t.Errorf("second Consume error = %v, want ErrStateNotFound", err)
	}
}

func TestStateRepositoryConsumeUnknownState(t *testing.T) {
	repo, _ := newTestStateRepository(t)

	_, err := repo.Consume(context.Background(), "never-saved")
	if !errors.Is(err, ErrStateNotFound) {
		t.Errorf("Consume error = %v, want ErrStateNotFound", err)
	}
}

func TestStateRepositoryStateExpires(t *testing.T) {
	repo, mr := newTestStateRepository(t)
	ctx := context.Background()

	state := "expiring-state"
	if err := repo.Save(ctx, state, uuid.New(), "microsoft"); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	mr.FastForward(10*time.Minute + time.Second)

	_, err := repo.Consume(ctx, state)
	if !errors.Is(err, ErrStateNotFound) {
		t.Errorf("Consume after TTL error = %v, want ErrStateNotFound", err)
	}
}

func TestStateRepositoryConcurrentConsume(t *testing.T) {
	repo, _ := newTestStateRepository(t)
	ctx := context.Background()

	state := "contested-state"
	if err := repo.Save(ctx, state, uuid.New(), "google"); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	const workers = 8
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		go func() {
			_, err := repo.Consume(ctx, state)
			results <- err
		}()
	}

	successes := 0
	for i := 0; i < workers; i++ {
		if err := <-results; err == nil {
			successes++
		} else if !errors.Is(err, ErrStateNotFound) {
			t.Errorf("unexpected error: %v", err)
		}
	}

	if successes != 1 {
		t.Errorf("got %d successful consumes, want exactly 1", successes)
	}
}
