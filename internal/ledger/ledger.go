// Package ledger tracks per-user daily request counts with
// begin/commit/rollback transaction semantics over the persistent
// usage store, fronted by a short-TTL read cache.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/deepcounsel/deepcounsel/internal/store"
)

// Transaction statuses.
type Status string

const (
	StatusPending    Status = "pending"
	StatusCommitted  Status = "committed"
	StatusRolledBack Status = "rolledback"
)

// Transaction is one request's pending slot against the daily limit.
// Exactly one of Commit or Rollback closes it; after that it is
// immutable.
type Transaction struct {
	ID         string
	UserID     string
	StartedAt  time.Time
	FinishedAt time.Time
	Status     Status
}

// BeginResult reports whether a request was admitted. Txn is only
// meaningful when Allowed is true.
type BeginResult struct {
	Allowed bool
	Txn     Transaction
	Usage   store.UserUsage
}

// ErrTxnNotFound is returned for transaction ids the ledger never
// issued or has already pruned.
var ErrTxnNotFound = errors.New("ledger: transaction not found")

// ErrRateLimited reports a request rejected because the user's daily
// request quota is spent. Distinct from a token budget breach: the
// remedy is waiting for the rollover.
type ErrRateLimited struct {
	UserID string
	Used   int
	Limit  int
}

func (e ErrRateLimited) Error() string {
	return fmt.Sprintf("daily limit reached for %s: %d/%d requests used", e.UserID, e.Used, e.Limit)
}

// ErrTxnClosed is returned when a second commit or rollback reaches a
// transaction that already hit its terminal state.
type ErrTxnClosed struct {
	ID     string
	Status Status
}

func (e ErrTxnClosed) Error() string {
	return fmt.Sprintf("ledger: transaction %s already %s", e.ID, e.Status)
}

// UsageStore is the persistent side of the ledger.
type UsageStore interface {
	GetOrCreateUserUsage(ctx context.Context, userID, plan string, dailyLimit int) (store.UserUsage, error)
	IncrementRequests(ctx context.Context, userID string) (store.UserUsage, error)
}

// Config carries the ledger's tunables. Zero values fall back to the
// defaults below.
type Config struct {
	CacheTTL          time.Duration
	CacheMaxEntries   int
	DefaultPlan       string
	DefaultDailyLimit int
	Logger            *log.Logger
}

const (
	defaultCacheTTL   = 5 * time.Second
	defaultCacheMax   = 10000
	defaultDailyLimit = 20

	// Terminal transactions are kept for an hour so a late duplicate
	// commit still gets a precise ErrTxnClosed instead of not-found.
	txnRetention = time.Hour
	pruneAbove   = 4096
)

// Ledger coordinates usage transactions. Safe for concurrent use.
// Overlapping pending transactions for one user are permitted; the
// small over-admit window that allows is a documented trade-off.
type Ledger struct {
	store  UsageStore
	cache  *usageCache
	logger *log.Logger

	defaultPlan  string
	defaultLimit int

	mu   sync.Mutex
	txns map[string]*Transaction

	now func() time.Time
}

// New builds a Ledger over the given usage store.
func New(st UsageStore, cfg Config) *Ledger {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	if cfg.CacheMaxEntries <= 0 {
		cfg.CacheMaxEntries = defaultCacheMax
	}
	if cfg.DefaultPlan == "" {
		cfg.DefaultPlan = store.PlanFree
	}
	if cfg.DefaultDailyLimit <= 0 {
		cfg.DefaultDailyLimit = defaultDailyLimit
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(log.Writer(), "[LEDGER] ", log.LstdFlags)
	}
	return &Ledger{
		store:        st,
		cache:        newUsageCache(cfg.CacheTTL, cfg.CacheMaxEntries),
		logger:       cfg.Logger,
		defaultPlan:  cfg.DefaultPlan,
		defaultLimit: cfg.DefaultDailyLimit,
		txns:         make(map[string]*Transaction),
		now:          time.Now,
	}
}

// Begin admits or rejects a request against the user's daily limit.
// Admission opens a pending transaction; rejection returns the usage
// figures so the caller can report them. The count is not moved until
// Commit.
func (l *Ledger) Begin(ctx context.Context, userID string) (BeginResult, error) {
	if userID == "" {
		return BeginResult{}, fmt.Errorf("user_id must be provided")
	}
	usage, err := l.Usage(ctx, userID)
	if err != nil {
		return BeginResult{}, err
	}
	if usage.RequestsToday >= usage.DailyLimit {
		return BeginResult{Allowed: false, Usage: usage}, nil
	}

	txn := &Transaction{
		ID:        uuid.NewString(),
		UserID:    userID,
		StartedAt: l.now(),
		Status:    StatusPending,
	}
	l.mu.Lock()
	l.pruneLocked()
	l.txns[txn.ID] = txn
	l.mu.Unlock()
	return BeginResult{Allowed: true, Txn: *txn, Usage: usage}, nil
}

// Commit persists the increment for a pending transaction and
// invalidates the user's cache entry. A second commit or a commit
// after rollback returns ErrTxnClosed without touching the count.
func (l *Ledger) Commit(ctx context.Context, txnID string) error {
	txn, err := l.close(txnID, StatusCommitted)
	if err != nil {
		return err
	}
	if _, err := l.store.IncrementRequests(ctx, txn.UserID); err != nil {
		// Reopen so the caller can retry or roll back; nothing was
		// persisted.
		l.reopen(txnID)
		return fmt.Errorf("commit transaction %s: %w", txnID, err)
	}
	l.cache.Invalidate(txn.UserID)
	return nil
}

// Rollback closes a pending transaction without persisting anything.
// The cache entry is still invalidated in case a read raced with a
// concurrent commit for the same user.
func (l *Ledger) Rollback(_ context.Context, txnID string) error {
	txn, err := l.close(txnID, StatusRolledBack)
	if err != nil {
		return err
	}
	l.cache.Invalidate(txn.UserID)
	return nil
}

// Usage returns the user's current counters via the read cache.
func (l *Ledger) Usage(ctx context.Context, userID string) (store.UserUsage, error) {
	if u, ok := l.cache.Get(userID); ok {
		return u, nil
	}
	u, err := l.store.GetOrCreateUserUsage(ctx, userID, l.defaultPlan, l.defaultLimit)
	if err != nil {
		return store.UserUsage{}, fmt.Errorf("read usage for %s: %w", userID, err)
	}
	l.cache.Put(userID, u)
	return u, nil
}

// Invalidate drops the cached usage entry for a user. Exposed for
// flows that mutate usage outside the ledger (plan changes, sweeps).
func (l *Ledger) Invalidate(userID string) { l.cache.Invalidate(userID) }

// CacheStats reports the read cache counters.
func (l *Ledger) CacheStats() CacheStats { return l.cache.Stats() }

// close reserves the terminal transition under the lock so concurrent
// closers cannot both pass the pending check.
func (l *Ledger) close(txnID string, terminal Status) (Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	txn, ok := l.txns[txnID]
	if !ok {
		return Transaction{}, ErrTxnNotFound
	}
	if txn.Status != StatusPending {
		return Transaction{}, ErrTxnClosed{ID: txnID, Status: txn.Status}
	}
	txn.Status = terminal
	txn.FinishedAt = l.now()
	return *txn, nil
}

func (l *Ledger) reopen(txnID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if txn, ok := l.txns[txnID]; ok {
		txn.Status = StatusPending
		txn.FinishedAt = time.Time{}
	}
}

// pruneLocked drops terminal transactions past retention once the map
// grows large. Callers hold l.mu.
func (l *Ledger) pruneLocked() {
	if len(l.txns) <= pruneAbove {
		return
	}
	cutoff := l.now().Add(-txnRetention)
	for id, txn := range l.txns {
		if txn.Status != StatusPending && txn.FinishedAt.Before(cutoff) {
			delete(l.txns, id)
		}
	}
}
