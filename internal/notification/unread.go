// Package notification keeps per-user unread counters and e-mails booking updates.
package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	unreadPrefix = "unread:"
	seenPrefix   = "notified:"
	emailHash    = "notify:emails"
)

// Store holds unread counters, delivered event ids and notification addresses in Redis.
type Store struct {
	rdb     redis.UniversalClient
	seenTTL time.Duration
}

func NewStore(rdb redis.UniversalClient) *Store {
	return &Store{rdb: rdb, seenTTL: 24 * time.Hour}
}

// incrAll checks every counter before touching any, so a bad key leaves all of them as they were.
var incrAll = redis.NewScript(`
for _, key in ipairs(KEYS) do
  local v = redis.call("GET", key)
  if v and not string.match(v, "^%-?%d+$") then
    return redis.error_reply("ERR unread counter " .. key .. " is not an integer")
  end
end
for _, key in ipairs(KEYS) do
  redis.call("INCR", key)
end
return #KEYS
`)

// Increment bumps the unread counter of every user in one step. Either all counters move or
// none do.
func (s *Store) Increment(ctx context.Context, userIDs ...string) error {
	if len(userIDs) == 0 {
		return nil
	}
	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = unreadPrefix + id
	}
	if err := incrAll.Run(ctx, s.rdb, keys).Err(); err != nil {
		return fmt.Errorf("incr unread: %w", err)
	}
	return nil
}

func (s *Store) UnreadCount(ctx context.Context, userID string) (int64, error) {
	n, err := s.rdb.Get(ctx, unreadPrefix+userID).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get unread: %w", err)
	}
	return n, nil
}

func (s *Store) MarkAllRead(ctx context.Context, userID string) error {
	if err := s.rdb.Del(ctx, unreadPrefix+userID).Err(); err != nil {
		return fmt.Errorf("reset unread: %w", err)
	}
	return nil
}

// FirstDelivery reports whether eventID has not been handled before and records it.
func (s *Store) FirstDelivery(ctx context.Context, eventID string) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, seenPrefix+eventID, 1, s.seenTTL).Result()
	if err != nil {
		return false, fmt.Errorf("mark event seen: %w", err)
	}
	return ok, nil
}

// Forget drops the delivery marker so a redelivered event is processed again.
func (s *Store) Forget(ctx context.Context, eventID string) {
	s.rdb.Del(context.WithoutCancel(ctx), seenPrefix+eventID)
}

func (s *Store) SetEmail(ctx context.Context, userID, email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return s.rdb.HDel(ctx, emailHash, userID).Err()
	}
	return s.rdb.HSet(ctx, emailHash, userID, email).Err()
}

// EmailFor returns "" when the user has not registered an address.
func (s *Store) EmailFor(ctx context.Context, userID string) (string, error) {
	email, err := s.rdb.HGet(ctx, emailHash, userID).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return email, err
}
