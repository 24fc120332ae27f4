package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/sakif/proteeti/internal/apperror"
	"github.com/sakif/proteeti/internal/model"
	"github.com/sakif/proteeti/internal/repository"
)

var _ repository.PendingStore = (*PendingStore)(nil)

// PendingStore keeps pending registrations as JSON values whose TTL matches
// the verification code lifetime, so expiry needs no sweeping.
type PendingStore struct {
	c *Client
}

func NewPendingStore(c *Client) *PendingStore {
	return &PendingStore{c: c}
}

func pendingKey(token string) string {
	return "proteeti:pending:" + token
}

func (s *PendingStore) SavePending(ctx context.Context, p *model.PendingRegistration) error {
	ttl := time.Until(p.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("redis: pending registration already expired")
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("redis: encoding pending registration: %w", err)
	}
	if err := s.c.client.Set(ctx, pendingKey(p.Token), raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis: saving pending registration: %w", err)
	}
	return nil
}

func (s *PendingStore) GetPending(ctx context.Context, token string) (*model.PendingRegistration, error) {
	raw, err := s.c.client.Get(ctx, pendingKey(token)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, apperror.NotFound("pending registration", token)
		}
		return nil, fmt.Errorf("redis: getting pending registration: %w", err)
	}
	var p model.PendingRegistration
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("redis: decoding pending registration: %w", err)
	}
	if p.Expired(time.Now()) {
		return nil, apperror.NotFound("pending registration", token)
	}
	return &p, nil
}

func (s *PendingStore) DeletePending(ctx context.Context, token string) error {
	if err := s.c.client.Del(ctx, pendingKey(token)).Err(); err != nil {
		return fmt.Errorf("redis: deleting pending registration: %w", err)
	}
	return nil
}
