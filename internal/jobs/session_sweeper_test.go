package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ananth-NQI/orderbot-backend/internal/logger"
	"github.com/Ananth-NQI/orderbot-backend/internal/models"
	"github.com/Ananth-NQI/orderbot-backend/internal/storage"
)

type fakeResetter struct {
	mu    sync.Mutex
	keys  []storage.SessionKey
	fail  map[string]bool
	calls int
}

func (f *fakeResetter) ResetIdle(ctx context.Context, key storage.SessionKey, idleSince time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail[string(key.PhoneKey)] {
		return false, errors.New("store down")
	}
	f.keys = append(f.keys, key)
	return true, nil
}

func (f *fakeResetter) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func seedSessions(t *testing.T, store *storage.MemoryStore, stages map[string]models.Stage) {
	t.Helper()
	for phone, stage := range stages {
		s := models.NewConversationSession("t1", phone)
		require.NoError(t, store.CreateSession(context.Background(), s))
		s.Stage = stage
		require.NoError(t, store.PutSessionIfVersion(context.Background(), s, s.Version))
	}
}

func TestSessionSweeper_ResetsOnlyInProgressSessions(t *testing.T) {
	logger.Disable()
	store := storage.NewMemoryStore()
	seedSessions(t, store, map[string]models.Stage{
		"15550000001": models.StageBrowsingItems,
		"15550000002": models.StageCartReview,
		"15550000003": models.StageIdle,
		"15550000004": models.StagePostSubmission,
	})

	resetter := &fakeResetter{}
	sweeper := NewSessionSweeper(store, resetter, time.Hour, time.Minute)

	n, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "nothing is idle yet")

	sweeper.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	n, err = sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	phones := []string{string(resetter.keys[0].PhoneKey), string(resetter.keys[1].PhoneKey)}
	assert.ElementsMatch(t, []string{"15550000001", "15550000002"}, phones)
}

func TestSessionSweeper_ContinuesPastFailures(t *testing.T) {
	logger.Disable()
	store := storage.NewMemoryStore()
	seedSessions(t, store, map[string]models.Stage{
		"15550000001": models.StageBrowsingItems,
		"15550000002": models.StageCheckout,
	})

	resetter := &fakeResetter{fail: map[string]bool{"15550000001": true}}
	sweeper := NewSessionSweeper(store, resetter, time.Hour, time.Minute)
	sweeper.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	n, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 2, resetter.Calls())
}

func TestSessionSweeper_StartStop(t *testing.T) {
	logger.Disable()
	store := storage.NewMemoryStore()
	seedSessions(t, store, map[string]models.Stage{"15550000001": models.StageBrowsingItems})

	resetter := &fakeResetter{}
	sweeper := NewSessionSweeper(store, resetter, time.Hour, 10*time.Millisecond)
	sweeper.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	sweeper.Start()
	sweeper.Start()
	assert.Eventually(t, func() bool { return resetter.Calls() >= 2 }, time.Second, 5*time.Millisecond)
	sweeper.Stop()

	calls := resetter.Calls()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, resetter.Calls(), "no sweeps after Stop")
	sweeper.Stop()
}
