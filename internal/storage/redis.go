package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Ananth-NQI/orderbot-backend/internal/models"
	"github.com/Ananth-NQI/orderbot-backend/internal/utils"
)

// activeIndex is a sorted set of in-progress session keys scored by last update
const activeIndex = "sessions:active"

// RedisSessionStore keeps sessions in Redis so several bot processes can
// share them. Tenants and menus still come from another store.
type RedisSessionStore struct {
	client *redis.Client
	ttl    time.Duration // 0 means session keys never expire
}

// NewRedisSessionStore connects to redisURL and checks the connection
func NewRedisSessionStore(ctx context.Context, redisURL string, ttl time.Duration) (*RedisSessionStore, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("redis url is required")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedisSessionStoreWithClient(client, ttl), nil
}

// NewRedisSessionStoreWithClient wraps an existing client
func NewRedisSessionStoreWithClient(client *redis.Client, ttl time.Duration) *RedisSessionStore {
	return &RedisSessionStore{client: client, ttl: ttl}
}

// Ping checks the connection, used by the health endpoint
func (r *RedisSessionStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the connection pool
func (r *RedisSessionStore) Close() error {
	return r.client.Close()
}

func sessionKey(key SessionKey) string {
	return fmt.Sprintf("session:%s", key)
}

func (r *RedisSessionStore) GetSession(ctx context.Context, key SessionKey) (*models.ConversationSession, error) {
	data, err := r.client.Get(ctx, sessionKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session data: %w", err)
	}
	return decodeSession(data)
}

func (r *RedisSessionStore) CreateSession(ctx context.Context, session *models.ConversationSession) error {
	session.Version = 1
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session data: %w", err)
	}

	key := KeyOf(session)
	ok, err := r.client.SetNX(ctx, sessionKey(key), data, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	if !ok {
		return ErrSessionExists
	}
	if inProgress(session.Stage) {
		score := float64(time.Now().Unix())
		if !session.UpdatedAt.IsZero() {
			score = float64(session.UpdatedAt.Unix())
		}
		if err := r.client.ZAdd(ctx, activeIndex, redis.Z{Score: score, Member: key.String()}).Err(); err != nil {
			return fmt.Errorf("failed to index session: %w", err)
		}
	}
	return nil
}

// PutSessionIfVersion runs a WATCH/MULTI compare-and-set on the session key
func (r *RedisSessionStore) PutSessionIfVersion(ctx context.Context, session *models.ConversationSession, expected int64) error {
	key := KeyOf(session)
	redisKey := sessionKey(key)

	next := *session
	next.Version = expected + 1
	next.UpdatedAt = time.Now()
	data, err := json.Marshal(&next)
	if err != nil {
		return fmt.Errorf("failed to marshal session data: %w", err)
	}

	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, redisKey).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrSessionNotFound
		}
		if err != nil {
			return err
		}
		current, err := decodeSession(raw)
		if err != nil {
			return err
		}
		if current.Version != expected {
			return ErrVersionConflict
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, redisKey, data, r.ttl)
			if inProgress(next.Stage) {
				pipe.ZAdd(ctx, activeIndex, redis.Z{Score: float64(next.UpdatedAt.Unix()), Member: key.String()})
			} else {
				pipe.ZRem(ctx, activeIndex, key.String())
			}
			return nil
		})
		return err
	}, redisKey)

	switch {
	case err == nil:
		session.Version = next.Version
		session.UpdatedAt = next.UpdatedAt
		return nil
	case errors.Is(err, redis.TxFailedErr):
		return ErrVersionConflict
	case errors.Is(err, ErrVersionConflict), errors.Is(err, ErrSessionNotFound):
		return err
	default:
		return fmt.Errorf("failed to put session: %w", err)
	}
}

func (r *RedisSessionStore) ListIdleSessions(ctx context.Context, before time.Time, limit int) ([]SessionKey, error) {
	members, err := r.client.ZRangeByScore(ctx, activeIndex, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(before.Unix(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list idle sessions: %w", err)
	}

	keys := make([]SessionKey, 0, len(members))
	for _, m := range members {
		i := strings.LastIndex(m, ":")
		if i <= 0 {
			continue
		}
		keys = append(keys, SessionKey{TenantID: m[:i], PhoneKey: utils.PhoneKey(m[i+1:])})
	}
	return keys, nil
}

func decodeSession(data []byte) (*models.ConversationSession, error) {
	var s models.ConversationSession
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session data: %w", err)
	}
	if s.Cart == nil {
		s.Cart = []models.CartLine{}
	}
	return &s, nil
}
