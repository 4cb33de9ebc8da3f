package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/dnswatch/pkg/models"
)

var ErrDuplicateRun = errors.New("report run already exists")

const (
	defaultRunLimit = 20
	maxRunLimit     = 100
)

const runColumns = `id, profile_id, window_start, window_end, subject, records_fetched,
	critical_count, warning_count, gap_count, sent, created_at`

var _ Store = (*PostgresStore)(nil)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateReportRun inserts run, filling in ID and CreatedAt when unset.
func (s *PostgresStore) CreateReportRun(ctx context.Context, run *models.ReportRun) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO report_runs (`+runColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		run.ID, run.ProfileID, run.WindowStart, run.WindowEnd, run.Subject, run.RecordsFetched,
		run.CriticalCount, run.WarningCount, run.GapCount, run.Sent, run.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateRun
		}
		return fmt.Errorf("create report run: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetReportRun(ctx context.Context, id uuid.UUID) (*models.ReportRun, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM report_runs WHERE id = $1`, id)
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get report run: %w", err)
	}
	return run, nil
}

// ListReportRuns returns one page of runs, newest first, along with the total count.
func (s *PostgresStore) ListReportRuns(ctx context.Context, filter RunFilter) ([]*models.ReportRun, int, error) {
	var (
		conditions []string
		args       []any
	)
	if filter.ProfileID != "" {
		args = append(args, filter.ProfileID)
		conditions = append(conditions, fmt.Sprintf("profile_id = $%d", len(args)))
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM report_runs"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count report runs: %w", err)
	}

	limit, offset := filter.normalize()
	query := fmt.Sprintf(`SELECT %s FROM report_runs%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		runColumns, where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list report runs: %w", err)
	}
	defer rows.Close()

	runs := []*models.ReportRun{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan report run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, total, rows.Err()
}

func (f RunFilter) normalize() (limit, offset int) {
	limit = f.Limit
	if limit <= 0 {
		limit = defaultRunLimit
	}
	if limit > maxRunLimit {
		limit = maxRunLimit
	}
	page := f.Page
	if page <= 0 {
		page = 1
	}
	return limit, (page - 1) * limit
}

func scanRun(row pgx.Row) (*models.ReportRun, error) {
	var r models.ReportRun
	err := row.Scan(&r.ID, &r.ProfileID, &r.WindowStart, &r.WindowEnd, &r.Subject, &r.RecordsFetched,
		&r.CriticalCount, &r.WarningCount, &r.GapCount, &r.Sent, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
