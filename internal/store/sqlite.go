package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "remindd/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// unavail tags driver-level failures so callers can tell "the store said no"
// apart from "the store couldn't answer".
func unavail(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// ---- recipients ----

func (s *sqliteStore) PutRecipient(ctx context.Context, r Recipient) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	cats, _ := json.Marshal(r.Categories)
	kws, _ := json.Marshal(r.Keywords)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO recipients(id, address, timezone, opt_out, max_alerts_per_day,
		                        quiet_start, quiet_end, categories, keywords,
		                        min_discount, method_hint, created_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   address=excluded.address, timezone=excluded.timezone,
		   opt_out=excluded.opt_out, max_alerts_per_day=excluded.max_alerts_per_day,
		   quiet_start=excluded.quiet_start, quiet_end=excluded.quiet_end,
		   categories=excluded.categories, keywords=excluded.keywords,
		   min_discount=excluded.min_discount, method_hint=excluded.method_hint`,
		r.ID, r.Address, r.Timezone, boolInt(r.OptOut), r.MaxAlertsPerDay,
		r.QuietStart, r.QuietEnd, string(cats), string(kws),
		r.MinDiscount, r.MethodHint, fmtTime(r.CreatedAt),
	)
	return unavail(err)
}

func (s *sqliteStore) GetRecipient(ctx context.Context, id string) (Recipient, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, address, timezone, opt_out, max_alerts_per_day,
		        quiet_start, quiet_end, categories, keywords,
		        min_discount, method_hint, created_at
		 FROM recipients WHERE id = ?`, id)
	r, err := scanRecipient(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Recipient{}, ErrNotFound
	}
	if err != nil {
		return Recipient{}, unavail(err)
	}
	return r, nil
}

func (s *sqliteStore) ListActiveRecipients(ctx context.Context) ([]Recipient, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, address, timezone, opt_out, max_alerts_per_day,
		        quiet_start, quiet_end, categories, keywords,
		        min_discount, method_hint, created_at
		 FROM recipients WHERE opt_out = 0 ORDER BY id`)
	if err != nil {
		return nil, unavail(err)
	}
	defer rows.Close()

	var out []Recipient
	for rows.Next() {
		r, err := scanRecipient(rows)
		if err != nil {
			return nil, unavail(err)
		}
		out = append(out, r)
	}
	return out, unavail(rows.Err())
}

func (s *sqliteStore) SetOptOut(ctx context.Context, id string, optOut bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE recipients SET opt_out = ? WHERE id = ?`, boolInt(optOut), id)
	if err != nil {
		return unavail(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface{ Scan(dest ...any) error }

func scanRecipient(row rowScanner) (Recipient, error) {
	var (
		r          Recipient
		optOut     int
		cats, kws  string
		createdRaw string
	)
	err := row.Scan(&r.ID, &r.Address, &r.Timezone, &optOut, &r.MaxAlertsPerDay,
		&r.QuietStart, &r.QuietEnd, &cats, &kws,
		&r.MinDiscount, &r.MethodHint, &createdRaw)
	if err != nil {
		return Recipient{}, err
	}
	r.OptOut = optOut != 0
	_ = json.Unmarshal([]byte(cats), &r.Categories)
	_ = json.Unmarshal([]byte(kws), &r.Keywords)
	r.CreatedAt = parseTime(createdRaw)
	return r, nil
}

// ---- schedules ----

func (s *sqliteStore) PutSchedule(ctx context.Context, sc Schedule) error {
	if sc.CreatedAt.IsZero() {
		sc.CreatedAt = time.Now().UTC()
	}
	if sc.Status == "" {
		sc.Status = StatusPending
	}
	if sc.Recurrence == "" {
		sc.Recurrence = RecurrenceNone
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO schedules(id, recipient_id, message, target_at, recurrence,
		                       every_ns, status, created_at, sent_at, next_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   message=excluded.message, target_at=excluded.target_at,
		   recurrence=excluded.recurrence, every_ns=excluded.every_ns,
		   status=excluded.status, sent_at=excluded.sent_at, next_at=excluded.next_at`,
		sc.ID, sc.RecipientID, sc.Message, fmtTime(sc.TargetAt), string(sc.Recurrence),
		int64(sc.Every), string(sc.Status), fmtTime(sc.CreatedAt),
		nullTime(sc.SentAt), nullTime(sc.NextAt),
	)
	return unavail(err)
}

func (s *sqliteStore) GetSchedule(ctx context.Context, id string) (Schedule, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, recipient_id, message, target_at, recurrence, every_ns,
		        status, created_at, sent_at, next_at
		 FROM schedules WHERE id = ?`, id)
	sc, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Schedule{}, ErrNotFound
	}
	if err != nil {
		return Schedule{}, unavail(err)
	}
	return sc, nil
}

func (s *sqliteStore) DueSchedules(ctx context.Context, now time.Time) ([]Schedule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, recipient_id, message, target_at, recurrence, every_ns,
		        status, created_at, sent_at, next_at
		 FROM schedules WHERE status = ? AND target_at <= ? ORDER BY target_at`,
		string(StatusPending), fmtTime(now))
	if err != nil {
		return nil, unavail(err)
	}
	defer rows.Close()

	var out []Schedule
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, unavail(err)
		}
		out = append(out, sc)
	}
	return out, unavail(rows.Err())
}

func (s *sqliteStore) UpdateScheduleStatus(ctx context.Context, id string, st ScheduleStatus, sentAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE schedules SET status = ?, sent_at = ? WHERE id = ?`,
		string(st), nullTime(sentAt), id)
	if err != nil {
		return unavail(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) CancelSchedule(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE schedules SET status = ? WHERE id = ? AND status = ?`,
		string(StatusCancelled), id, string(StatusPending))
	if err != nil {
		return unavail(err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	// Already terminal is a no-op; only a missing row is an error.
	var one int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM schedules WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return unavail(err)
}

func scanSchedule(row rowScanner) (Schedule, error) {
	var (
		sc                    Schedule
		rec, st               string
		everyNS               int64
		targetRaw, createdRaw string
		sentRaw, nextRaw      sql.NullString
	)
	err := row.Scan(&sc.ID, &sc.RecipientID, &sc.Message, &targetRaw, &rec, &everyNS,
		&st, &createdRaw, &sentRaw, &nextRaw)
	if err != nil {
		return Schedule{}, err
	}
	sc.Recurrence = Recurrence(rec)
	sc.Every = time.Duration(everyNS)
	sc.Status = ScheduleStatus(st)
	sc.TargetAt = parseTime(targetRaw)
	sc.CreatedAt = parseTime(createdRaw)
	if sentRaw.Valid {
		sc.SentAt = parseTime(sentRaw.String)
	}
	if nextRaw.Valid {
		sc.NextAt = parseTime(nextRaw.String)
	}
	return sc, nil
}

// ---- alerts ----

func (s *sqliteStore) InsertAlertIfNew(ctx context.Context, a Alert, window time.Duration) (bool, error) {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, unavail(err)
	}
	defer func() { _ = tx.Rollback() }()

	cutoff := a.CreatedAt.Add(-window)
	var n int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM alerts WHERE fingerprint = ? AND created_at > ?`,
		a.Fingerprint, fmtTime(cutoff)).Scan(&n)
	if err != nil {
		return false, unavail(err)
	}
	if n > 0 {
		return false, nil
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO alerts(fingerprint, recipient_id, category, message, created_at, sent_at)
		 VALUES(?,?,?,?,?,?)`,
		a.Fingerprint, a.RecipientID, a.Category, a.Message,
		fmtTime(a.CreatedAt), nullTime(a.SentAt))
	if err != nil {
		return false, unavail(err)
	}
	if err := tx.Commit(); err != nil {
		return false, unavail(err)
	}
	return true, nil
}

func (s *sqliteStore) MarkAlertSent(ctx context.Context, fingerprint string, createdAt, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET sent_at = ? WHERE fingerprint = ? AND created_at = ? AND sent_at IS NULL`,
		fmtTime(at), fingerprint, fmtTime(createdAt))
	return unavail(err)
}

func (s *sqliteStore) AlertsByFingerprint(ctx context.Context, fingerprint string) ([]Alert, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT fingerprint, recipient_id, category, message, created_at, sent_at
		 FROM alerts WHERE fingerprint = ? ORDER BY created_at`, fingerprint)
	if err != nil {
		return nil, unavail(err)
	}
	defer rows.Close()

	var out []Alert
	for rows.Next() {
		var (
			a          Alert
			createdRaw string
			sentRaw    sql.NullString
		)
		if err := rows.Scan(&a.Fingerprint, &a.RecipientID, &a.Category, &a.Message, &createdRaw, &sentRaw); err != nil {
			return nil, unavail(err)
		}
		a.CreatedAt = parseTime(createdRaw)
		if sentRaw.Valid {
			a.SentAt = parseTime(sentRaw.String)
		}
		out = append(out, a)
	}
	return out, unavail(rows.Err())
}

// ---- daily counters ----

func (s *sqliteStore) DailyCount(ctx context.Context, recipientID, day string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT count FROM daily_counts WHERE recipient_id = ? AND day = ?`,
		recipientID, day).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, unavail(err)
	}
	return n, nil
}

func (s *sqliteStore) IncrementDailyCount(ctx context.Context, recipientID, day string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO daily_counts(recipient_id, day, count) VALUES(?,?,1)
		 ON CONFLICT(recipient_id, day) DO UPDATE SET count = count + 1`,
		recipientID, day)
	return unavail(err)
}

// ---- helpers ----

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// timeLayout is fixed-width (no trailing-zero trimming) so stored instants
// compare correctly as strings in SQL range queries.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func fmtTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return fmtTime(t)
}
