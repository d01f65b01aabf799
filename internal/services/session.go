package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Ananth-NQI/orderbot-backend/internal/logger"
	"github.com/Ananth-NQI/orderbot-backend/internal/models"
	"github.com/Ananth-NQI/orderbot-backend/internal/storage"
)

// ErrSessionBusy means a session lock could not be acquired in time
var ErrSessionBusy = errors.New("session busy")

type sessionLock struct {
	ch   chan struct{}
	refs int
}

// SessionManager serializes work per session inside this process and wraps
// the session store. Cross-process safety comes from versioned puts.
type SessionManager struct {
	store    storage.SessionStore
	lockWait time.Duration

	mu    sync.Mutex
	locks map[storage.SessionKey]*sessionLock
}

// NewSessionManager creates a new session manager
func NewSessionManager(store storage.SessionStore, lockWait time.Duration) *SessionManager {
	return &SessionManager{
		store:    store,
		lockWait: lockWait,
		locks:    make(map[storage.SessionKey]*sessionLock),
	}
}

// Store returns the underlying session store
func (sm *SessionManager) Store() storage.SessionStore {
	return sm.store
}

// Lock waits for exclusive access to key. The returned func releases it.
func (sm *SessionManager) Lock(ctx context.Context, key storage.SessionKey) (func(), error) {
	sm.mu.Lock()
	l, ok := sm.locks[key]
	if !ok {
		l = &sessionLock{ch: make(chan struct{}, 1)}
		sm.locks[key] = l
	}
	l.refs++
	sm.mu.Unlock()

	if sm.lockWait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, sm.lockWait)
		defer cancel()
	}

	select {
	case l.ch <- struct{}{}:
		return func() { sm.release(key, l) }, nil
	case <-ctx.Done():
		sm.mu.Lock()
		sm.drop(key, l)
		sm.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrSessionBusy, key)
	}
}

func (sm *SessionManager) release(key storage.SessionKey, l *sessionLock) {
	<-l.ch
	sm.mu.Lock()
	sm.drop(key, l)
	sm.mu.Unlock()
}

// drop must be called with sm.mu held
func (sm *SessionManager) drop(key storage.SessionKey, l *sessionLock) {
	l.refs--
	if l.refs == 0 {
		delete(sm.locks, key)
	}
}

// ActiveLocks is the number of sessions currently locked or awaited
func (sm *SessionManager) ActiveLocks() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.locks)
}

// GetOrCreate loads the session for key, creating an idle one if none exists.
// created is true when this call made the session.
func (sm *SessionManager) GetOrCreate(ctx context.Context, key storage.SessionKey) (session *models.ConversationSession, created bool, err error) {
	session, err = sm.store.GetSession(ctx, key)
	if err == nil {
		return session, false, nil
	}
	if !errors.Is(err, storage.ErrSessionNotFound) {
		return nil, false, err
	}

	session = models.NewConversationSession(key.TenantID, string(key.PhoneKey))
	err = sm.store.CreateSession(ctx, session)
	if errors.Is(err, storage.ErrSessionExists) {
		// Another process created it first
		session, err = sm.store.GetSession(ctx, key)
		return session, false, err
	}
	if err != nil {
		return nil, false, err
	}
	logger.Info().Str("tenant_id", key.TenantID).Str("session", key.String()).Msg("Session created")
	return session, true, nil
}

// Save writes session if nobody else has since the given version
func (sm *SessionManager) Save(ctx context.Context, session *models.ConversationSession, expected int64) error {
	return sm.store.PutSessionIfVersion(ctx, session, expected)
}
