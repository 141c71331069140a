package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"OutlierScope/internal/domain/models"
	domrepo "OutlierScope/internal/domain/repository"
	pkgch "OutlierScope/pkg/clickhouse"
	applogger "OutlierScope/pkg/logger"
)

const pointsPerInsert = 1000

// Schema returns the DDL for the run tables in database db.
func Schema(db string) []string {
	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", db),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.runs (
            id String,
            method LowCardinality(String),
            points UInt32,
            outliers UInt32,
            iterations UInt32,
            state LowCardinality(String),
            duration_ms Float64,
            created_at DateTime64(3, 'UTC')
        ) ENGINE = MergeTree ORDER BY (created_at, id)`, db),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.run_points (
            run_id String,
            idx UInt32,
            ts DateTime64(9, 'UTC'),
            value Float64,
            fitted Float64,
            lower Float64,
            upper Float64,
            outlier UInt8
        ) ENGINE = MergeTree ORDER BY (run_id, idx)`, db),
	}
}

// CHResultStore implements ResultStore backed by ClickHouse. Writes go through a
// circuit breaker so an unavailable server fails fast instead of stalling requests.
type CHResultStore struct {
	db      *sql.DB
	dbName  string
	l       *applogger.Logger
	breaker *gobreaker.CircuitBreaker
}

type StoreOption func(*CHResultStore)

// WithStoreBreaker trips after failures consecutive errors and probes again after cooldown.
func WithStoreBreaker(failures int, cooldown time.Duration) StoreOption {
	return func(s *CHResultStore) {
		s.breaker = newBreaker(failures, cooldown, s.l)
	}
}

func WithStoreLogger(l *applogger.Logger) StoreOption {
	return func(s *CHResultStore) { s.l = l }
}

func NewCHResultStore(db *sql.DB, dbName string, opts ...StoreOption) *CHResultStore {
	s := &CHResultStore{db: db, dbName: dbName, l: applogger.NewNop()}
	for _, o := range opts {
		o(s)
	}
	if s.breaker == nil {
		s.breaker = newBreaker(5, 30*time.Second, s.l)
	}
	return s
}

// InitSchema creates the database and tables through the client.
func (s *CHResultStore) InitSchema(ctx context.Context, c *pkgch.Client) error {
	return c.InitSchema(ctx, Schema(s.dbName))
}

func newBreaker(failures int, cooldown time.Duration, l *applogger.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "clickhouse",
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= uint32(failures)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, domrepo.ErrRunNotFound) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if l != nil {
				l.Warn("circuit breaker state change",
					applogger.String("breaker", name),
					applogger.String("from", from.String()),
					applogger.String("to", to.String()),
				)
			}
		},
	})
}

func (s *CHResultStore) guard(fn func() error) error {
	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	return err
}

// SaveRun writes the points before the header so listed runs always have their points.
func (s *CHResultStore) SaveRun(ctx context.Context, rec models.RunRecord) error {
	start := time.Now()
	err := s.guard(func() error {
		for off := 0; off < len(rec.Points); off += pointsPerInsert {
			end := min(off+pointsPerInsert, len(rec.Points))
			if err := s.insertPoints(ctx, rec.ID, off, rec.Points[off:end]); err != nil {
				return err
			}
		}
		q := fmt.Sprintf(`INSERT INTO %s.runs (id, method, points, outliers, iterations, state, duration_ms, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, s.dbName)
		if _, err := s.db.ExecContext(ctx, q,
			rec.ID, rec.Method, rec.Length, rec.Outliers, rec.Iterations, rec.State, rec.Duration, rec.CreatedAt.UTC(),
		); err != nil {
			return fmt.Errorf("insert run: %w", err)
		}
		return nil
	})
	if err != nil {
		s.l.Error("clickhouse save_run error",
			applogger.String("run_id", rec.ID),
			applogger.Int("points", len(rec.Points)),
			applogger.Error(err),
		)
		return fmt.Errorf("save run %s: %w", rec.ID, err)
	}
	s.l.Debug("clickhouse save_run ok",
		applogger.String("run_id", rec.ID),
		applogger.Int("points", len(rec.Points)),
		applogger.Duration("took", time.Since(start)),
	)
	return nil
}

func (s *CHResultStore) insertPoints(ctx context.Context, runID string, offset int, pts []models.RunPoint) error {
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s.run_points (run_id, idx, ts, value, fitted, lower, upper, outlier) VALUES ", s.dbName)
	args := make([]any, 0, len(pts)*8)
	for i, p := range pts {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(?, ?, ?, ?, ?, ?, ?, ?)")
		var flag uint8
		if p.Outlier {
			flag = 1
		}
		args = append(args, runID, offset+i, p.Timestamp.UTC(), p.Value, p.Fitted, p.Lower, p.Upper, flag)
	}
	if _, err := s.db.ExecContext(ctx, b.String(), args...); err != nil {
		return fmt.Errorf("insert points [%d:%d]: %w", offset, offset+len(pts), err)
	}
	return nil
}

func (s *CHResultStore) GetRun(ctx context.Context, id string) (*models.RunRecord, error) {
	var rec models.RunRecord
	err := s.guard(func() error {
		q := fmt.Sprintf(`SELECT id, method, points, outliers, iterations, state, duration_ms, created_at FROM %s.runs WHERE id = ? LIMIT 1`, s.dbName)
		if err := scanSummary(s.db.QueryRowContext(ctx, q, id), &rec.RunSummary); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return domrepo.ErrRunNotFound
			}
			return fmt.Errorf("get run: %w", err)
		}

		q = fmt.Sprintf(`SELECT ts, value, fitted, lower, upper, outlier FROM %s.run_points WHERE run_id = ? ORDER BY idx ASC`, s.dbName)
		rows, err := s.db.QueryContext(ctx, q, id)
		if err != nil {
			return fmt.Errorf("get points: %w", err)
		}
		defer rows.Close()

		rec.Points = make([]models.RunPoint, 0, rec.Length)
		for rows.Next() {
			var p models.RunPoint
			var flag uint8
			if err := rows.Scan(&p.Timestamp, &p.Value, &p.Fitted, &p.Lower, &p.Upper, &flag); err != nil {
				return fmt.Errorf("scan point: %w", err)
			}
			p.Outlier = flag != 0
			rec.Points = append(rec.Points, p)
		}
		return rows.Err()
	})
	if err != nil {
		if !errors.Is(err, domrepo.ErrRunNotFound) {
			s.l.Error("clickhouse get_run error", applogger.String("run_id", id), applogger.Error(err))
		}
		return nil, err
	}
	return &rec, nil
}

// ListRuns returns the most recent runs first, optionally filtered by method.
func (s *CHResultStore) ListRuns(ctx context.Context, method string, limit int) ([]models.RunSummary, error) {
	var out []models.RunSummary
	err := s.guard(func() error {
		q := fmt.Sprintf(`SELECT id, method, points, outliers, iterations, state, duration_ms, created_at FROM %s.runs`, s.dbName)
		args := []any{}
		if method != "" {
			q += " WHERE method = ?"
			args = append(args, method)
		}
		q += " ORDER BY created_at DESC LIMIT ?"
		args = append(args, limit)

		rows, err := s.db.QueryContext(ctx, q, args...)
		if err != nil {
			return fmt.Errorf("list runs: %w", err)
		}
		defer rows.Close()

		out = make([]models.RunSummary, 0, limit)
		for rows.Next() {
			var r models.RunSummary
			if err := scanSummary(rows, &r); err != nil {
				return fmt.Errorf("scan run: %w", err)
			}
			out = append(out, r)
		}
		return rows.Err()
	})
	if err != nil {
		s.l.Error("clickhouse list_runs error", applogger.String("method", method), applogger.Error(err))
		return nil, err
	}
	return out, nil
}

func (s *CHResultStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSummary(r rowScanner, out *models.RunSummary) error {
	return r.Scan(&out.ID, &out.Method, &out.Length, &out.Outliers, &out.Iterations, &out.State, &out.Duration, &out.CreatedAt)
}

var _ domrepo.ResultStore = (*CHResultStore)(nil)
