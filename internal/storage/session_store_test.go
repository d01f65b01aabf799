package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ananth-NQI/orderbot-backend/database"
	"github.com/Ananth-NQI/orderbot-backend/internal/models"
)

// sessionStores returns every session backend that can run here. Postgres
// joins when ORDERBOT_TEST_DATABASE_URL is set.
func sessionStores(t *testing.T) map[string]func(t *testing.T) SessionStore {
	stores := map[string]func(t *testing.T) SessionStore{
		"memory": func(t *testing.T) SessionStore { return NewMemoryStore() },
		"redis": func(t *testing.T) SessionStore {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { _ = client.Close() })
			return NewRedisSessionStoreWithClient(client, 0)
		},
	}
	if dsn := os.Getenv("ORDERBOT_TEST_DATABASE_URL"); dsn != "" {
		stores["postgres"] = func(t *testing.T) SessionStore {
			db, err := database.Connect(dsn)
			require.NoError(t, err)
			require.NoError(t, database.AutoMigrate(db))
			return NewDatabaseStore(db)
		}
	}
	return stores
}

// freshSession uses a random tenant so runs against a shared database never collide
func freshSession(stage models.Stage) *models.ConversationSession {
	s := models.NewConversationSession("tenant-"+uuid.NewString(), "15551234567")
	s.Stage = stage
	return s
}

func TestSessionStore_CompareAndSet(t *testing.T) {
	for name, open := range sessionStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := open(t)
			s := freshSession(models.StageIdle)
			key := KeyOf(s)

			_, err := store.GetSession(ctx, key)
			require.ErrorIs(t, err, ErrSessionNotFound)

			require.NoError(t, store.CreateSession(ctx, s))
			assert.Equal(t, int64(1), s.Version)
			require.ErrorIs(t, store.CreateSession(ctx, freshCopy(s)), ErrSessionExists)

			s.Stage = models.StageBrowsingCategories
			require.NoError(t, store.PutSessionIfVersion(ctx, s, 1))
			assert.Equal(t, int64(2), s.Version)

			got, err := store.GetSession(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, int64(2), got.Version)
			assert.Equal(t, models.StageBrowsingCategories, got.Stage)
			assert.NotNil(t, got.Cart)

			stale := got.Clone()
			stale.Stage = models.StageCartReview
			require.ErrorIs(t, store.PutSessionIfVersion(ctx, stale, 1), ErrVersionConflict)

			got, err = store.GetSession(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, models.StageBrowsingCategories, got.Stage, "losing writer must not land")
			assert.Equal(t, int64(2), got.Version)

			missing := freshSession(models.StageIdle)
			require.ErrorIs(t, store.PutSessionIfVersion(ctx, missing, 1), ErrSessionNotFound)
		})
	}
}

func TestSessionStore_ListIdleSessions(t *testing.T) {
	for name, open := range sessionStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := open(t)

			active := freshSession(models.StageIdle)
			require.NoError(t, store.CreateSession(ctx, active))
			active.Stage = models.StageBrowsingItems
			require.NoError(t, store.PutSessionIfVersion(ctx, active, active.Version))

			done := freshSession(models.StageIdle)
			require.NoError(t, store.CreateSession(ctx, done))
			done.Stage = models.StagePostSubmission
			require.NoError(t, store.PutSessionIfVersion(ctx, done, done.Version))

			keys, err := store.ListIdleSessions(ctx, time.Now().Add(time.Hour), 0)
			require.NoError(t, err)
			assert.Contains(t, keys, KeyOf(active))
			assert.NotContains(t, keys, KeyOf(done))

			keys, err = store.ListIdleSessions(ctx, time.Now().Add(-time.Hour), 0)
			require.NoError(t, err)
			assert.NotContains(t, keys, KeyOf(active), "recently touched")

			active.Stage = models.StageIdle
			require.NoError(t, store.PutSessionIfVersion(ctx, active, active.Version))
			keys, err = store.ListIdleSessions(ctx, time.Now().Add(time.Hour), 0)
			require.NoError(t, err)
			assert.NotContains(t, keys, KeyOf(active), "reset sessions leave the index")
		})
	}
}

func freshCopy(s *models.ConversationSession) *models.ConversationSession {
	c := s.Clone()
	c.Version = 0
	return c
}

func TestRedisSessionStore_Keys(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	t.Run("no expiry by default", func(t *testing.T) {
		store := NewRedisSessionStoreWithClient(client, 0)
		s := freshSession(models.StageIdle)
		require.NoError(t, store.CreateSession(ctx, s))
		require.NoError(t, store.PutSessionIfVersion(ctx, s, 1))

		assert.True(t, mr.Exists(sessionKey(KeyOf(s))))
		assert.Zero(t, mr.TTL(sessionKey(KeyOf(s))))
	})

	t.Run("ttl applies to creates and puts", func(t *testing.T) {
		store := NewRedisSessionStoreWithClient(client, time.Hour)
		s := freshSession(models.StageIdle)
		require.NoError(t, store.CreateSession(ctx, s))
		assert.Equal(t, time.Hour, mr.TTL(sessionKey(KeyOf(s))))

		mr.FastForward(30 * time.Minute)
		require.NoError(t, store.PutSessionIfVersion(ctx, s, 1))
		assert.Equal(t, time.Hour, mr.TTL(sessionKey(KeyOf(s))))
	})

	t.Run("in progress creates are indexed", func(t *testing.T) {
		store := NewRedisSessionStoreWithClient(client, 0)
		s := freshSession(models.StageAwaitingQuantity)
		require.NoError(t, store.CreateSession(ctx, s))

		members, err := mr.ZMembers(activeIndex)
		require.NoError(t, err)
		assert.Contains(t, members, KeyOf(s).String())
	})

	t.Run("ping", func(t *testing.T) {
		require.NoError(t, NewRedisSessionStoreWithClient(client, 0).Ping(ctx))

		gone := miniredis.RunT(t)
		goneClient := redis.NewClient(&redis.Options{Addr: gone.Addr(), MaxRetries: -1})
		defer goneClient.Close()
		gone.Close()
		assert.Error(t, NewRedisSessionStoreWithClient(goneClient, 0).Ping(ctx))
	})
}
