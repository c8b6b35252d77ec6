package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Armada/internal/orchestrator"
)

// DeploymentRepo — история деплоев флота.
type DeploymentRepo struct {
	pool *pgxpool.Pool
}

// NewDeploymentRepo создаёт новый DeploymentRepo.
func NewDeploymentRepo(pool *pgxpool.Pool) *DeploymentRepo {
	return &DeploymentRepo{pool: pool}
}

// SaveDeployment сохраняет отчёт деплоя.
func (r *DeploymentRepo) SaveDeployment(ctx context.Context, res *orchestrator.FleetDeployResult) error {
	report, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	query := `
		INSERT INTO deployments (id, topology, started_at, finished_at, failed, report)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET finished_at = EXCLUDED.finished_at,
			failed = EXCLUDED.failed, report = EXCLUDED.report
	`
	_, err = r.pool.Exec(ctx, query,
		res.ID,
		nullString(res.Topology),
		res.StartedAt,
		res.FinishedAt,
		res.Failed,
		report,
	)
	if err != nil {
		return fmt.Errorf("insert deployment: %w", err)
	}
	return nil
}

// Latest возвращает последний деплой.
func (r *DeploymentRepo) Latest(ctx context.Context) (*orchestrator.FleetDeployResult, error) {
	var report []byte
	err := r.pool.QueryRow(ctx, `SELECT report FROM deployments ORDER BY started_at DESC LIMIT 1`).Scan(&report)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest deployment: %w", err)
	}
	return decodeReport(report)
}

// List возвращает последние limit деплоев, новые первыми.
func (r *DeploymentRepo) List(ctx context.Context, limit int) ([]*orchestrator.FleetDeployResult, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := r.pool.Query(ctx, `SELECT report FROM deployments ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list deployments: %w", err)
	}
	defer rows.Close()

	var out []*orchestrator.FleetDeployResult
	for rows.Next() {
		var report []byte
		if err := rows.Scan(&report); err != nil {
			return nil, fmt.Errorf("scan deployment: %w", err)
		}
		res, err := decodeReport(report)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

func decodeReport(data []byte) (*orchestrator.FleetDeployResult, error) {
	var res orchestrator.FleetDeployResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("unmarshal report: %w", err)
	}
	return &res, nil
}
