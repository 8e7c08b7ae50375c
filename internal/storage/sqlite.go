package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	logx "mindfulbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsSQL string

// auditRetention bounds how long audit rows are kept.
const auditRetention = 90 * 24 * time.Hour

const sessionColumns = `user_id, local_date, day, duration, completed,
	COALESCE(video_rating, 0), COALESCE(message_rating, 0), created_at, updated_at`

const userColumns = `telegram_id, chat_id, username, first_name, reminder_time, timezone,
	preferred_duration, current_day, onboarding_step, onboarded, active, created_at, updated_at`

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
	now func() time.Time

	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (*sqliteStore, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer; this also serializes dispatch inserts.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log.With(logx.String("comp", "storage")), now: time.Now, pruneEvery: 500}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	st.log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, migrationsSQL)
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) stamp() string { return s.now().UTC().Format(time.RFC3339Nano) }

// EnsureUser inserts u if no user with the same TelegramID exists. Existing
// users only get their chat and name refreshed. created reports an insert.
func (s *sqliteStore) EnsureUser(ctx context.Context, u User) (User, bool, error) {
	if s == nil || s.db == nil {
		return User{}, false, ErrDisabled
	}
	if u.ReminderTime == "" {
		u.ReminderTime = DefaultReminderTime
	}
	if u.PreferredDuration == "" {
		u.PreferredDuration = DefaultDuration
	}
	if u.CurrentDay <= 0 {
		u.CurrentDay = 1
	}
	ts := s.stamp()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users(`+userColumns+`)
		 VALUES(?,?,?,?,?,?,?,?,?,0,1,?,?)
		 ON CONFLICT(telegram_id) DO NOTHING`,
		u.TelegramID, u.ChatID, nullStr(u.Username), nullStr(u.FirstName), u.ReminderTime, u.Timezone,
		u.PreferredDuration, u.CurrentDay, u.OnboardingStep, ts, ts,
	)
	if err != nil {
		return User{}, false, err
	}
	n, _ := res.RowsAffected()
	created := n == 1
	if !created {
		_, err = s.db.ExecContext(ctx,
			`UPDATE users SET chat_id = ?, username = COALESCE(?, username), first_name = COALESCE(?, first_name), updated_at = ?
			 WHERE telegram_id = ?`,
			u.ChatID, nullStr(u.Username), nullStr(u.FirstName), ts, u.TelegramID,
		)
		if err != nil {
			return User{}, false, err
		}
	}
	got, err := s.GetUser(ctx, u.TelegramID)
	return got, created, err
}

func (s *sqliteStore) GetUser(ctx context.Context, telegramID int64) (User, error) {
	if s == nil || s.db == nil {
		return User{}, ErrDisabled
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE telegram_id = ?`, telegramID)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	return u, err
}

func (s *sqliteStore) ListUsers(ctx context.Context, f UserFilter) ([]User, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	q := `SELECT ` + userColumns + ` FROM users`
	var where []string
	if f.OnboardedOnly {
		where = append(where, "onboarded = 1")
	}
	if f.ActiveOnly {
		where = append(where, "active = 1")
	}
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY telegram_id"

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *sqliteStore) SetReminderTime(ctx context.Context, telegramID int64, hhmm string) error {
	return s.updateUser(ctx, telegramID, "reminder_time = ?", hhmm)
}

func (s *sqliteStore) SetTimezone(ctx context.Context, telegramID int64, tz string) error {
	return s.updateUser(ctx, telegramID, "timezone = ?", tz)
}

func (s *sqliteStore) SetPreferredDuration(ctx context.Context, telegramID int64, d string) error {
	return s.updateUser(ctx, telegramID, "preferred_duration = ?", d)
}

func (s *sqliteStore) SetActive(ctx context.Context, telegramID int64, active bool) error {
	return s.updateUser(ctx, telegramID, "active = ?", boolInt(active))
}

func (s *sqliteStore) SetOnboardingStep(ctx context.Context, telegramID int64, step string) error {
	return s.updateUser(ctx, telegramID, "onboarding_step = ?", step)
}

func (s *sqliteStore) CompleteOnboarding(ctx context.Context, telegramID int64) error {
	return s.updateUser(ctx, telegramID, "onboarded = 1, active = 1, onboarding_step = ?", StepDone)
}

// AdvanceDay increments the user's program day and returns the new value.
func (s *sqliteStore) AdvanceDay(ctx context.Context, telegramID int64) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	var day int
	err := s.db.QueryRowContext(ctx,
		`UPDATE users SET current_day = current_day + 1, updated_at = ? WHERE telegram_id = ? RETURNING current_day`,
		s.stamp(), telegramID,
	).Scan(&day)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return day, err
}

func (s *sqliteStore) updateUser(ctx context.Context, telegramID int64, set string, args ...any) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	args = append(args, s.stamp(), telegramID)
	res, err := s.db.ExecContext(ctx, `UPDATE users SET `+set+`, updated_at = ? WHERE telegram_id = ?`, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) HasDispatch(ctx context.Context, userID int64, localDate string) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrDisabled
	}
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM dispatches WHERE user_id = ? AND local_date = ?`, userID, localDate,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// InsertDispatch is a conditional insert: an existing (user, date) row is left
// untouched and inserted is false.
func (s *sqliteStore) InsertDispatch(ctx context.Context, userID int64, localDate string, at time.Time) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrDisabled
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO dispatches(user_id, local_date, sent_at) VALUES(?,?,?)
		 ON CONFLICT(user_id, local_date) DO NOTHING`,
		userID, localDate, at.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (s *sqliteStore) DeleteDispatchesBefore(ctx context.Context, cutoff string) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM dispatches WHERE local_date < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// RecordSession creates the session for (UserID, LocalDate) or, when it
// exists, updates only its completion flag. Ratings already given are kept.
func (s *sqliteStore) RecordSession(ctx context.Context, sess Session) (Session, error) {
	if s == nil || s.db == nil {
		return Session{}, ErrDisabled
	}
	if sess.Day <= 0 {
		sess.Day = 1
	}
	ts := s.stamp()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(user_id, local_date, day, duration, completed, created_at, updated_at)
		 VALUES(?,?,?,?,?,?,?)
		 ON CONFLICT(user_id, local_date) DO UPDATE SET completed = excluded.completed, updated_at = excluded.updated_at`,
		sess.UserID, sess.LocalDate, sess.Day, sess.Duration, boolInt(sess.Completed), ts, ts,
	)
	if err != nil {
		return Session{}, err
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE user_id = ? AND local_date = ?`, sess.UserID, sess.LocalDate)
	return scanSession(row)
}

func (s *sqliteStore) RateSession(ctx context.Context, userID int64, localDate, kind string, rating int) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if rating < 1 || rating > 5 {
		return ErrInvalidRating
	}
	var col string
	switch kind {
	case RatingVideo:
		col = "video_rating"
	case RatingMessage:
		col = "message_rating"
	default:
		return fmt.Errorf("unknown rating kind %q", kind)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET `+col+` = ?, updated_at = ? WHERE user_id = ? AND local_date = ?`,
		rating, s.stamp(), userID, localDate,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListSessions returns the user's sessions, newest local date first. limit <= 0
// returns all of them.
func (s *sqliteStore) ListSessions(ctx context.Context, userID int64, limit int) ([]Session, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	q := `SELECT ` + sessionColumns + ` FROM sessions WHERE user_id = ? ORDER BY local_date DESC`
	args := []any{userID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = s.now()
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(id, at, actor_id, user_id, action, run_id, ok, err, meta)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		e.ID, e.At.UTC().Format(time.RFC3339Nano), e.ActorID, e.UserID, e.Action,
		nullStr(e.RunID), boolInt(e.OK), nullStr(e.Error), nullStr(e.MetaJSON),
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		if perr := s.pruneAudit(pctx); perr != nil {
			s.log.Debug("audit prune failed", logx.Err(perr))
		}
		cancel()
	}
	return err
}

func (s *sqliteStore) RecentAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, at, actor_id, user_id, action, COALESCE(run_id,''), ok, COALESCE(err,''), COALESCE(meta,'')
		 FROM audit ORDER BY at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AuditEntry
	for rows.Next() {
		var (
			e  AuditEntry
			at string
			ok int
		)
		if err := rows.Scan(&e.ID, &at, &e.ActorID, &e.UserID, &e.Action, &e.RunID, &ok, &e.Error, &e.MetaJSON); err != nil {
			return nil, err
		}
		e.At, _ = time.Parse(time.RFC3339Nano, at)
		e.OK = ok != 0
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) pruneAudit(ctx context.Context) error {
	cutoff := s.now().Add(-auditRetention).UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx, `DELETE FROM audit WHERE at < ?`, cutoff)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(r scanner) (User, error) {
	var (
		u                    User
		username, firstName  sql.NullString
		onboarded, active    int
		createdAt, updatedAt string
	)
	err := r.Scan(&u.TelegramID, &u.ChatID, &username, &firstName, &u.ReminderTime, &u.Timezone,
		&u.PreferredDuration, &u.CurrentDay, &u.OnboardingStep, &onboarded, &active, &createdAt, &updatedAt)
	if err != nil {
		return User{}, err
	}
	u.Username = username.String
	u.FirstName = firstName.String
	u.Onboarded = onboarded != 0
	u.Active = active != 0
	u.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	u.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return u, nil
}

func scanSession(r scanner) (Session, error) {
	var (
		sess                 Session
		completed            int
		createdAt, updatedAt string
	)
	err := r.Scan(&sess.UserID, &sess.LocalDate, &sess.Day, &sess.Duration, &completed,
		&sess.VideoRating, &sess.MessageRating, &createdAt, &updatedAt)
	if err != nil {
		return Session{}, err
	}
	sess.Completed = completed != 0
	sess.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	sess.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return sess, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
