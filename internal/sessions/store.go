package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotFound indicates a lookup for a session that expired or never existed.
var ErrNotFound = errors.New("sessions: session not found")

const (
	keyPrefix  = "session:"
	defaultTTL = 24 * time.Hour
)

// Session is the server-side state attached to a logged-in device.
type Session struct {
	ID        string                 `json:"id"`
	UserID    uint64                 `json:"user_id"`
	Username  string                 `json:"username"`
	Role      string                 `json:"role"`
	Data      map[string]interface{} `json:"data,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// StoreConfig describes the dependencies of the session store.
type StoreConfig struct {
	Client *redis.Client
	TTL    time.Duration
}

// Store keeps sessions in redis with a sliding TTL. Expiry is enforced by
// redis itself; no sweeper runs in the application.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStore constructs the session store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("sessions: redis client required")
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Store{client: cfg.Client, ttl: ttl}, nil
}

// Create opens a new session and returns it with a fresh identifier.
func (s *Store) Create(ctx context.Context, userID uint64, username, role string) (*Session, error) {
	session := &Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		Username:  username,
		Role:      role,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.write(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// Get fetches a session and slides its expiry forward.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	payload, err := s.client.Get(ctx, keyPrefix+sessionID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var session Session
	if err := json.Unmarshal(payload, &session); err != nil {
		return nil, fmt.Errorf("sessions: corrupt session payload: %w", err)
	}
	if err := s.client.Expire(ctx, keyPrefix+sessionID, s.ttl).Err(); err != nil {
		return nil, err
	}
	return &session, nil
}

// Update rewrites the session payload, resetting the TTL.
func (s *Store) Update(ctx context.Context, session *Session) error {
	exists, err := s.client.Exists(ctx, keyPrefix+session.ID).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return ErrNotFound
	}
	return s.write(ctx, session)
}

// Extend pushes the session's expiry forward by the configured TTL without
// touching the payload.
func (s *Store) Extend(ctx context.Context, sessionID string) error {
	extended, err := s.client.Expire(ctx, keyPrefix+sessionID, s.ttl).Result()
	if err != nil {
		return err
	}
	if !extended {
		return ErrNotFound
	}
	return nil
}

// Delete closes a session. Deleting a missing session is not an error.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, keyPrefix+sessionID).Err()
}

func (s *Store) write(ctx context.Context, session *Session) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, keyPrefix+session.ID, payload, s.ttl).Err()
}
