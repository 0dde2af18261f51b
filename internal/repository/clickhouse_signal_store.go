package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"SignalRelay/internal/domain/models"
	domrepo "SignalRelay/internal/domain/repository"
	pkgch "SignalRelay/pkg/clickhouse"
	applogger "SignalRelay/pkg/logger"

	"github.com/jonboulle/clockwork"
)

// CHSignalStore implements SignalStore on a ReplacingMergeTree table keyed by id.
// Status updates insert a newer row version; reads use FINAL so only the latest version
// of each id is visible.
type CHSignalStore struct {
	ch     *pkgch.Client
	db     *sql.DB
	table  string
	l      *applogger.Logger
	clock  clockwork.Clock
	lastID atomic.Int64
}

func NewCHSignalStore(ch *pkgch.Client, table string, l *applogger.Logger) *CHSignalStore {
	if table == "" {
		table = "signals"
	}
	if l == nil {
		l = applogger.NewNop()
	}
	return &CHSignalStore{
		ch:    ch,
		db:    ch.DB(),
		table: ch.Database() + "." + table,
		l:     l,
		clock: clockwork.NewRealClock(),
	}
}

var _ domrepo.SignalStore = (*CHSignalStore)(nil)

const chSignalColumns = "id, type, symbol, price, session, confidence, signal_number, source, status, created_at, updated_at"

// Init creates the table if needed and seeds the id counter from the current maximum.
func (s *CHSignalStore) Init(ctx context.Context) error {
	ddl := fmt.Sprintf(`
        CREATE TABLE IF NOT EXISTS %s (
            id            Int64,
            type          LowCardinality(String),
            symbol        String,
            price         Float64,
            session       LowCardinality(String),
            confidence    Int64,
            signal_number Int64,
            source        String,
            status        LowCardinality(String),
            created_at    DateTime64(3, 'UTC'),
            updated_at    DateTime64(3, 'UTC')
        ) ENGINE = ReplacingMergeTree(updated_at)
        ORDER BY id
    `, s.table)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create signals table: %w", err)
	}

	var maxID int64
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT max(id) FROM %s", s.table)).Scan(&maxID); err != nil {
		return fmt.Errorf("seed signal id: %w", err)
	}
	s.lastID.Store(maxID)
	s.l.Info("clickhouse signal store ready",
		applogger.String("table", s.table),
		applogger.Int64("last_id", maxID))
	return nil
}

func (s *CHSignalStore) Save(ctx context.Context, in *models.Signal) (*models.Signal, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: nil signal", models.ErrStorage)
	}
	rec := in.Clone()
	rec.ApplyDefaults()
	if rec.ID == 0 {
		rec.ID = s.lastID.Add(1)
	} else {
		s.bumpID(rec.ID)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.clock.Now()
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}

	if err := s.insert(ctx, rec); err != nil {
		s.l.Error("clickhouse save signal error", applogger.Int64("id", rec.ID), applogger.Error(err))
		return nil, fmt.Errorf("%w: save signal: %v", models.ErrStorage, err)
	}
	return rec, nil
}

func (s *CHSignalStore) insert(ctx context.Context, rec *models.Signal) error {
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)", s.table, chSignalColumns)
	_, err := s.db.ExecContext(ctx, q,
		rec.ID,
		string(rec.Type),
		rec.Symbol,
		rec.Price,
		string(rec.Session),
		int64(rec.Confidence),
		int64(rec.SignalNumber),
		rec.Source,
		string(rec.Status),
		rec.CreatedAt.UTC(),
		rec.UpdatedAt.UTC(),
	)
	return err
}

func (s *CHSignalStore) bumpID(id int64) {
	for {
		cur := s.lastID.Load()
		if id <= cur || s.lastID.CompareAndSwap(cur, id) {
			return
		}
	}
}

func (s *CHSignalStore) Query(ctx context.Context, f models.SignalFilter) ([]*models.Signal, error) {
	start := time.Now()
	f = f.Normalize()

	var (
		where []string
		args  []interface{}
	)
	if f.Type != "" {
		where = append(where, "type = ?")
		args = append(args, string(f.Type))
	}
	if f.Session != "" {
		where = append(where, "session = ?")
		args = append(args, string(f.Session))
	}
	if f.Symbol != "" {
		where = append(where, "symbol = ?")
		args = append(args, f.Symbol)
	}

	q := fmt.Sprintf("SELECT %s FROM %s FINAL", chSignalColumns, s.table)
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, f.Limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		s.l.Error("clickhouse query signals error", applogger.Error(err))
		return nil, fmt.Errorf("%w: query signals: %v", models.ErrStorage, err)
	}
	defer rows.Close()

	out := make([]*models.Signal, 0, f.Limit)
	for rows.Next() {
		sig, err := scanCHSignal(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan signal: %v", models.ErrStorage, err)
		}
		out = append(out, sig)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: rows: %v", models.ErrStorage, err)
	}

	s.l.Debug("clickhouse query signals ok",
		applogger.Int("rows", len(out)),
		applogger.Duration("duration_ms", time.Since(start)))
	return out, nil
}

func (s *CHSignalStore) get(ctx context.Context, id int64) (*models.Signal, error) {
	q := fmt.Sprintf("SELECT %s FROM %s FINAL WHERE id = ? LIMIT 1", chSignalColumns, s.table)
	sig, err := scanCHSignal(s.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("signal %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get signal: %v", models.ErrStorage, err)
	}
	return sig, nil
}

// Delete removes id with a lightweight delete. Absent ids report 0 without issuing one.
func (s *CHSignalStore) Delete(ctx context.Context, id int64) (int64, error) {
	var n uint64
	q := fmt.Sprintf("SELECT count() FROM %s FINAL WHERE id = ?", s.table)
	if err := s.db.QueryRowContext(ctx, q, id).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count signal: %v", models.ErrStorage, err)
	}
	if n == 0 {
		return 0, nil
	}

	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ?", s.table), id); err != nil {
		s.l.Error("clickhouse delete signal error", applogger.Int64("id", id), applogger.Error(err))
		return 0, fmt.Errorf("%w: delete signal: %v", models.ErrStorage, err)
	}
	return 1, nil
}

func (s *CHSignalStore) UpdateStatus(ctx context.Context, id int64, status models.Status, at time.Time) (*models.Signal, error) {
	sig, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	// the version column must grow or the merge may keep the old row
	if !at.After(sig.UpdatedAt) {
		at = sig.UpdatedAt.Add(time.Millisecond)
	}
	sig.Status = status
	sig.UpdatedAt = at

	if err := s.insert(ctx, sig); err != nil {
		return nil, fmt.Errorf("%w: update status: %v", models.ErrStorage, err)
	}
	return sig, nil
}

func (s *CHSignalStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the underlying clickhouse connection pool.
func (s *CHSignalStore) Close() error {
	return s.ch.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCHSignal(r rowScanner) (*models.Signal, error) {
	var (
		sig                      models.Signal
		typ, session, status     string
		confidence, signalNumber int64
	)
	if err := r.Scan(&sig.ID, &typ, &sig.Symbol, &sig.Price, &session, &confidence, &signalNumber,
		&sig.Source, &status, &sig.CreatedAt, &sig.UpdatedAt); err != nil {
		return nil, err
	}
	sig.Type = models.SignalType(typ)
	sig.Session = models.Session(session)
	sig.Status = models.Status(status)
	sig.Confidence = int(confidence)
	sig.SignalNumber = int(signalNumber)
	return &sig, nil
}
