package board

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"planboard/api/internal/jira"

	"github.com/redis/go-redis/v9"
)

// State is the board configuration and mirror snapshot that survives a
// restart: selected projects, column schema, mirrored issues, the sync
// cursor and the manual-credentials flag.
type State struct {
	SelectedProjects     []jira.Project `json:"selectedProjects"`
	Columns              []Column       `json:"columns"`
	Issues               []jira.Issue   `json:"issues"`
	LastSyncTime         *time.Time     `json:"lastSyncTime,omitempty"`
	UseManualCredentials bool           `json:"useManualCredentials"`
}

var ErrNoState = errors.New("no board state stored")

// RedisStateStore persists the board snapshot as one JSON value. Saved after
// every mutating board operation, loaded once at startup.
type RedisStateStore struct {
	client *redis.Client
	key    string
}

func NewRedisStateStore(redisURL string) (*RedisStateStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisStateStore{client: client, key: "planboard:board-state"}, nil
}

// NewRedisStateStoreWithClient is for tests with an existing client.
func NewRedisStateStoreWithClient(client *redis.Client) *RedisStateStore {
	return &RedisStateStore{client: client, key: "planboard:board-state"}
}

func (s *RedisStateStore) Save(ctx context.Context, state State) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal board state: %w", err)
	}
	if err := s.client.Set(ctx, s.key, payload, 0).Err(); err != nil {
		return fmt.Errorf("save board state: %w", err)
	}
	return nil
}

func (s *RedisStateStore) Load(ctx context.Context) (State, error) {
	payload, err := s.client.Get(ctx, s.key).Result()
	if err == redis.Nil {
		return State{}, ErrNoState
	}
	if err != nil {
		return State{}, fmt.Errorf("load board state: %w", err)
	}
	var state State
	if err := json.Unmarshal([]byte(payload), &state); err != nil {
		return State{}, fmt.Errorf("unmarshal board state: %w", err)
	}
	return state, nil
}

// Client exposes the underlying connection so other redis-backed pieces can
// share it.
func (s *RedisStateStore) Client() *redis.Client {
	return s.client
}

func (s *RedisStateStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStateStore) Close() error {
	return s.client.Close()
}
