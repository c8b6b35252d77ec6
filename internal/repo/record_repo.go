package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Armada/internal/domain"
)

const recordsTable = "reconciliation_records"

var recordColumns = []string{
	"node_id", "state", "last_checked_at", "drift_detected",
	"corrective_action_applied", "consecutive_failures", "ticks",
	"alerting", "last_error",
}

// RecordRepo — последние записи реконсиляции guard по узлам.
type RecordRepo struct {
	pool *pgxpool.Pool
}

// NewRecordRepo создаёт новый RecordRepo.
func NewRecordRepo(pool *pgxpool.Pool) *RecordRepo {
	return &RecordRepo{pool: pool}
}

// Upsert сохраняет запись узла, заменяя предыдущую.
func (r *RecordRepo) Upsert(ctx context.Context, rec domain.ReconciliationRecord) error {
	sql, args, err := buildRecordUpsert(rec)
	if err != nil {
		return fmt.Errorf("build upsert: %w", err)
	}
	if _, err := r.pool.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("upsert record %s: %w", rec.NodeID, err)
	}
	return nil
}

func buildRecordUpsert(rec domain.ReconciliationRecord) (string, []any, error) {
	return squirrel.Insert(recordsTable).
		Columns(recordColumns...).
		Values(
			rec.NodeID,
			string(rec.State),
			rec.LastCheckedAt,
			rec.DriftDetected,
			rec.CorrectiveActionApplied,
			rec.ConsecutiveFailures,
			rec.Ticks,
			rec.Alerting,
			nullString(rec.LastError),
		).
		Suffix(`ON CONFLICT (node_id) DO UPDATE SET
			state = EXCLUDED.state,
			last_checked_at = EXCLUDED.last_checked_at,
			drift_detected = EXCLUDED.drift_detected,
			corrective_action_applied = EXCLUDED.corrective_action_applied,
			consecutive_failures = EXCLUDED.consecutive_failures,
			ticks = EXCLUDED.ticks,
			alerting = EXCLUDED.alerting,
			last_error = EXCLUDED.last_error`).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
}

// Get возвращает запись узла.
func (r *RecordRepo) Get(ctx context.Context, nodeID string) (domain.ReconciliationRecord, error) {
	sql, args, err := squirrel.Select(recordColumns...).
		From(recordsTable).
		Where(squirrel.Eq{"node_id": nodeID}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return domain.ReconciliationRecord{}, fmt.Errorf("build query: %w", err)
	}

	rec, err := scanRecord(r.pool.QueryRow(ctx, sql, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ReconciliationRecord{}, ErrNotFound
	}
	return rec, err
}

// List возвращает записи всех узлов, отсортированные по ID узла.
func (r *RecordRepo) List(ctx context.Context) ([]domain.ReconciliationRecord, error) {
	sql, args, err := squirrel.Select(recordColumns...).
		From(recordsTable).
		OrderBy("node_id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var out []domain.ReconciliationRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanRecord(row pgx.Row) (domain.ReconciliationRecord, error) {
	var (
		rec       domain.ReconciliationRecord
		state     string
		lastError *string
	)
	err := row.Scan(
		&rec.NodeID,
		&state,
		&rec.LastCheckedAt,
		&rec.DriftDetected,
		&rec.CorrectiveActionApplied,
		&rec.ConsecutiveFailures,
		&rec.Ticks,
		&rec.Alerting,
		&lastError,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return rec, err
		}
		return rec, fmt.Errorf("scan record: %w", err)
	}
	rec.State = domain.GuardState(state)
	if lastError != nil {
		rec.LastError = *lastError
	}
	return rec, nil
}
