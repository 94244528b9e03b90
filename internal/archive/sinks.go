package archive

import (
	"context"
	"fmt"
	"time"

	"codeguard/pkg/database"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const (
	SessionKeyTmpl    = "codeguard:session:%s" // codeguard:session:<id> --> status JSON
	CancelRequestsKey = "codeguard:cancel_requests"
)

func SessionKey(id string) string {
	return fmt.Sprintf(SessionKeyTmpl, id)
}

// StatusStore mirrors session status documents.
type StatusStore interface {
	Put(ctx context.Context, id string, status []byte, ttl time.Duration) error
}

// FindingStore persists the findings of completed sessions.
type FindingStore interface {
	AddFindings(ctx context.Context, findings []*database.Finding) error
}

// Publisher sends one message to a durable queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, body []byte) error
}

type redisStatusStore struct {
	client *redis.Client
}

func (s *redisStatusStore) Put(ctx context.Context, id string, status []byte, ttl time.Duration) error {
	return s.client.Set(ctx, SessionKey(id), status, ttl).Err()
}

// NewRedisStatusStore returns nil for a nil client.
func NewRedisStatusStore(client *redis.Client) StatusStore {
	if client == nil {
		return nil
	}
	return &redisStatusStore{client: client}
}

type gormFindingStore struct {
	db *gorm.DB
}

func (s *gormFindingStore) AddFindings(ctx context.Context, findings []*database.Finding) error {
	return database.AddFindings(ctx, s.db, findings)
}

// NewGormFindingStore returns nil for a nil connection.
func NewGormFindingStore(db *gorm.DB) FindingStore {
	if db == nil {
		return nil
	}
	return &gormFindingStore{db: db}
}
