package budget

import (
	"context"
	"fmt"
	"log"
	"time"
)

// dayKeyTTL keeps daily counters around long enough to survive clock
// skew between replicas before Redis reclaims them.
const dayKeyTTL = 48 * time.Hour

// CounterStore is the atomic counter surface the Guard needs. Keys
// are owned by the Guard; the store only counts and expires.
type CounterStore interface {
	// Get returns the current value of key, 0 when absent.
	Get(ctx context.Context, key string) (int64, error)
	// IncrBy adds n to key and returns the new value. The ttl is
	// applied only when the key has no expiry yet.
	IncrBy(ctx context.Context, key string, n int64, ttl time.Duration) (int64, error)
}

// Guard admits or rejects research runs against the shared per-user
// caps. Check runs before classification commits any spend; Record
// runs after the workflow finishes with the actual token count.
//
// Counter-store failures never block research: the Guard logs them
// and skips the cap whose counter could not be read.
type Guard struct {
	limits Limits
	store  CounterStore
	logger *log.Logger
	now    func() time.Time
}

// NewGuard builds a Guard over the given counter store.
func NewGuard(limits Limits, store CounterStore, logger *log.Logger) *Guard {
	if logger == nil {
		logger = log.New(log.Writer(), "[BUDGET] ", log.LstdFlags)
	}
	return &Guard{limits: limits, store: store, logger: logger, now: time.Now}
}

func (g *Guard) dayKey(userID string) string {
	return fmt.Sprintf("usage:tokens:day:%s:%s", userID, g.now().UTC().Format("2006-01-02"))
}

func (g *Guard) windowKey(userID string) string {
	return "usage:tokens:window:" + userID
}

// Check rejects the run when the estimated cost does not fit the
// remaining daily or window allowance. The estimate is not reserved;
// only Record moves the counters.
func (g *Guard) Check(ctx context.Context, userID string, estimated int) error {
	if g.limits.DailyTokens > 0 {
		used, ok := g.read(ctx, g.dayKey(userID))
		if ok && used+int64(estimated) > g.limits.DailyTokens {
			return ErrExceeded{Scope: ScopeDailyTokens, Used: used, Limit: g.limits.DailyTokens}
		}
	}
	if g.limits.WindowTokens > 0 {
		used, ok := g.read(ctx, g.windowKey(userID))
		if ok && used+int64(estimated) > g.limits.WindowTokens {
			return ErrExceeded{Scope: ScopeWindowTokens, Used: used, Limit: g.limits.WindowTokens}
		}
	}
	return nil
}

// Record adds the actual spend to both counters. The day key expires
// well after rollover; the window key expires with the window itself,
// giving a coarse sliding limit.
func (g *Guard) Record(ctx context.Context, userID string, tokens int) {
	if tokens <= 0 {
		return
	}
	if g.limits.DailyTokens > 0 {
		if _, err := g.store.IncrBy(ctx, g.dayKey(userID), int64(tokens), dayKeyTTL); err != nil {
			g.logger.Printf("record daily spend for %s failed: %v", userID, err)
		}
	}
	if g.limits.WindowTokens > 0 {
		window := g.limits.Window
		if window <= 0 {
			window = 10 * time.Minute
		}
		if _, err := g.store.IncrBy(ctx, g.windowKey(userID), int64(tokens), window); err != nil {
			g.logger.Printf("record window spend for %s failed: %v", userID, err)
		}
	}
}

// Used reports the current daily and window counters for a user.
func (g *Guard) Used(ctx context.Context, userID string) (daily, window int64) {
	daily, _ = g.read(ctx, g.dayKey(userID))
	window, _ = g.read(ctx, g.windowKey(userID))
	return daily, window
}

// Limits returns the caps this Guard enforces.
func (g *Guard) Limits() Limits { return g.limits }

// read reports whether the counter could be read at all. A cap whose
// counter is unreadable is skipped rather than compared against zero,
// which would reject any estimate larger than the limit itself.
func (g *Guard) read(ctx context.Context, key string) (int64, bool) {
	n, err := g.store.Get(ctx, key)
	if err != nil {
		g.logger.Printf("read counter %s failed, skipping the check: %v", key, err)
		return 0, false
	}
	return n, true
}
