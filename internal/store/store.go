package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq"
)

// Store is the Postgres source of truth for usage counters and
// persisted research runs.
type Store struct {
	DB *sql.DB
}

// Subscription plans. The daily request limit for each plan lives in
// configuration; the store only records what a user was given.
const (
	PlanFree     = "free"
	PlanPro      = "pro"
	PlanChambers = "chambers"
)

// UserUsage is one user's daily request counter.
type UserUsage struct {
	UserID        string
	Plan          string
	DailyLimit    int
	RequestsToday int
	LastReset     time.Time
	UpdatedAt     time.Time
}

// Remaining returns how many requests the user has left today.
func (u UserUsage) Remaining() int {
	if u.RequestsToday >= u.DailyLimit {
		return 0
	}
	return u.DailyLimit - u.RequestsToday
}

// New connects using DATABASE_URL or the POSTGRES_* variables.
func New(ctx context.Context) (*Store, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		host := getenvDefault("POSTGRES_HOST", "localhost")
		port := getenvDefault("POSTGRES_PORT", "5432")
		user := os.Getenv("POSTGRES_USER")
		pass := os.Getenv("POSTGRES_PASSWORD")
		db := os.Getenv("POSTGRES_DB")
		ssl := getenvDefault("POSTGRES_SSLMODE", "disable")
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, db, ssl)
	}
	return NewWithDSN(ctx, dsn)
}

// NewWithDSN constructs the Store using an explicit Postgres DSN.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

func getenvDefault(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

// GetOrCreateUserUsage loads the usage row for a user, creating it on
// first sight with the given plan and limit. The daily rollover is
// applied before the row is returned: a last_reset from an earlier
// UTC day zeroes requests_today.
func (s *Store) GetOrCreateUserUsage(ctx context.Context, userID, plan string, dailyLimit int) (UserUsage, error) {
	if userID == "" {
		return UserUsage{}, fmt.Errorf("user_id must be provided")
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO user_usage (user_id, plan, daily_limit, requests_today, last_reset, updated_at)
VALUES ($1,$2,$3,0,NOW(),NOW())
ON CONFLICT (user_id) DO NOTHING;
`, userID, plan, dailyLimit)
	if err != nil {
		return UserUsage{}, fmt.Errorf("create usage row: %w", err)
	}
	if _, err := s.DB.ExecContext(ctx, `
UPDATE user_usage SET requests_today=0, last_reset=NOW(), updated_at=NOW()
WHERE user_id=$1 AND (last_reset AT TIME ZONE 'utc')::date < (NOW() AT TIME ZONE 'utc')::date;
`, userID); err != nil {
		return UserUsage{}, fmt.Errorf("roll over usage row: %w", err)
	}
	return s.getUsage(ctx, userID)
}

// GetUserUsage fetches the usage row without creating or rolling it
// over. Bool indicates whether the row exists.
func (s *Store) GetUserUsage(ctx context.Context, userID string) (UserUsage, bool, error) {
	u, err := s.getUsage(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return UserUsage{}, false, nil
	}
	if err != nil {
		return UserUsage{}, false, err
	}
	return u, true, nil
}

func (s *Store) getUsage(ctx context.Context, userID string) (UserUsage, error) {
	var u UserUsage
	err := s.DB.QueryRowContext(ctx, `
SELECT user_id, plan, daily_limit, requests_today, last_reset, updated_at
FROM user_usage WHERE user_id=$1
`, userID).Scan(&u.UserID, &u.Plan, &u.DailyLimit, &u.RequestsToday, &u.LastReset, &u.UpdatedAt)
	return u, err
}

// IncrementRequests adds one committed request to the user's daily
// count. The increment is atomic at the row level.
func (s *Store) IncrementRequests(ctx context.Context, userID string) (UserUsage, error) {
	var u UserUsage
	err := s.DB.QueryRowContext(ctx, `
UPDATE user_usage SET requests_today = requests_today + 1, updated_at=NOW()
WHERE user_id=$1
RETURNING user_id, plan, daily_limit, requests_today, last_reset, updated_at
`, userID).Scan(&u.UserID, &u.Plan, &u.DailyLimit, &u.RequestsToday, &u.LastReset, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return UserUsage{}, fmt.Errorf("no usage row for user %s", userID)
	}
	if err != nil {
		return UserUsage{}, fmt.Errorf("increment requests: %w", err)
	}
	return u, nil
}

// SetPlan switches a user's plan and daily limit in one step.
func (s *Store) SetPlan(ctx context.Context, userID, plan string, dailyLimit int) (UserUsage, error) {
	var u UserUsage
	err := s.DB.QueryRowContext(ctx, `
UPDATE user_usage SET plan=$2, daily_limit=$3, updated_at=NOW()
WHERE user_id=$1
RETURNING user_id, plan, daily_limit, requests_today, last_reset, updated_at
`, userID, plan, dailyLimit).Scan(&u.UserID, &u.Plan, &u.DailyLimit, &u.RequestsToday, &u.LastReset, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return UserUsage{}, fmt.Errorf("no usage row for user %s", userID)
	}
	if err != nil {
		return UserUsage{}, fmt.Errorf("set plan: %w", err)
	}
	return u, nil
}

// ResetStaleUsage zeroes requests_today for every row whose last
// reset happened before the current UTC day. Returns the number of
// rows swept. The read path performs the same rollover lazily; this
// keeps rows fresh for reporting.
func (s *Store) ResetStaleUsage(ctx context.Context) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `
UPDATE user_usage SET requests_today=0, last_reset=NOW(), updated_at=NOW()
WHERE (last_reset AT TIME ZONE 'utc')::date < (NOW() AT TIME ZONE 'utc')::date;
`)
	if err != nil {
		return 0, fmt.Errorf("reset stale usage: %w", err)
	}
	return res.RowsAffected()
}
