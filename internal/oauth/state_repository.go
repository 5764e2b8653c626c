package oauth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrStateNotFound means the state value is unknown, expired, or was
// already consumed
var ErrStateNotFound = errors.New("authorization state not found")

// AuthState is what a state value is bound to: the user who started the
// authorization and the provider they chose.
type AuthState struct {
	UserID   uuid.UUID `json:"user_id"`
	Provider string    `json:"provider"`
}

// StateRepository stores anti-CSRF state values in Redis with a short TTL.
// Each value is created once and consumed exactly once; GETDEL makes
// consumption atomic, so a duplicate redirect loses cleanly.
type StateRepository struct {
	client *redis.Client
	ttl    time.Duration
}

func NewStateRepository(client *redis.Client, ttl time.Duration) *StateRepository {
	return &StateRepository{client: client, ttl: ttl}
}

// stateKey hashes the raw state so secrets never appear as Redis keys
func stateKey(state string) string {
	sum := sha256.Sum256([]byte(state))
	return fmt.Sprintf("oauth_state:%s", hex.EncodeToString(sum[:]))
}

// Save stores a freshly generated state with the repository TTL
func (r *StateRepository) Save(ctx context.Context, state string, userID uuid.UUID, provider string) error {
	payload, err := json.Marshal(AuthState{UserID: userID, Provider: provider})
	if err != nil {
		return fmt.Errorf("failed to marshal auth state: %w", err)
	}

	if err := r.client.Set(ctx, stateKey(state), payload, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store auth state: %w", err)
	}

	return nil
}

// Consume atomically reads and deletes a state. A second Consume of the
// same value, concurrent or not, fails with ErrStateNotFound.
func (r *StateRepository) Consume(ctx context.Context, state string) (*AuthState, error) {
	payload, err := r.client.GetDel(ctx, stateKey(state)).Result()
	if err == redis.Nil {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume auth state: %w", err)
	}

	var parsed AuthState
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal auth state: %w", err)
	}

	return &parsed, nil
}
