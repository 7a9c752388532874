package security

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// WorkerTokenManager issues and validates short-lived bearer tokens
// workers present in RegisterRequest.Token, generalizing the cluster
// join-token idea to per-worker registration instead of per-node
// cluster membership.
type WorkerTokenManager struct {
	mu     sync.RWMutex
	tokens map[string]*WorkerToken
}

// WorkerToken is a single issued registration token, scoped to one
// pool so a leaked token only grants entry to that pool's workers.
type WorkerToken struct {
	Token     string
	PoolID    string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// NewWorkerTokenManager constructs an empty token manager. Tokens live
// in memory only — on leader failover a worker with an expired
// in-flight token must re-request one, same as the teacher's join
// tokens.
func NewWorkerTokenManager() *WorkerTokenManager {
	return &WorkerTokenManager{
		tokens: make(map[string]*WorkerToken),
	}
}

// Issue generates a new registration token for poolID, valid for ttl.
func (tm *WorkerTokenManager) Issue(poolID string, ttl time.Duration) (*WorkerToken, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}

	wt := &WorkerToken{
		Token:     hex.EncodeToString(raw),
		PoolID:    poolID,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(ttl),
	}

	tm.mu.Lock()
	tm.tokens[wt.Token] = wt
	tm.mu.Unlock()

	return wt, nil
}

// Validate checks that token is known, unexpired, and scoped to
// poolID. It does not consume the token — a worker may reconnect
// (after a transient disconnect) with the same token until it expires
// or is revoked.
func (tm *WorkerTokenManager) Validate(token, poolID string) error {
	tm.mu.RLock()
	wt, ok := tm.tokens[token]
	tm.mu.RUnlock()

	if !ok {
		return fmt.Errorf("unknown worker token")
	}
	if time.Now().After(wt.ExpiresAt) {
		return fmt.Errorf("worker token expired")
	}
	if wt.PoolID != poolID {
		return fmt.Errorf("worker token not valid for pool %q", poolID)
	}
	return nil
}

// Revoke removes a token immediately, e.g. when a pool is decommissioned.
func (tm *WorkerTokenManager) Revoke(token string) {
	tm.mu.Lock()
	delete(tm.tokens, token)
	tm.mu.Unlock()
}

// CleanupExpired drops expired tokens; intended to be called
// periodically (e.g. from the reconciler's ticker) to bound memory.
func (tm *WorkerTokenManager) CleanupExpired() {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	now := time.Now()
	for token, wt := range tm.tokens {
		if now.After(wt.ExpiresAt) {
			delete(tm.tokens, token)
		}
	}
}
