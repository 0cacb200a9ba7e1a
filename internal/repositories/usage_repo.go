package repositories

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// UsageRepo persists per-agent operation counters. It is written by the
// worker process consuming the usage event stream, never inline with a
// lifecycle call.
type UsageRepo struct {
	pool *pgxpool.Pool
}

func NewUsageRepo(pool *pgxpool.Pool) *UsageRepo {
	return &UsageRepo{pool: pool}
}

func (r *UsageRepo) Increment(ctx context.Context, agentID, operation string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO usage_counters (agent_id, operation, count)
		VALUES ($1, $2, 1)
		ON CONFLICT (agent_id, operation)
		DO UPDATE SET count = usage_counters.count + 1, updated_at = now()
	`, agentID, operation)
	return err
}

type UsageCount struct {
	AgentID   string `json:"agent_id"`
	Operation string `json:"operation"`
	Count     int64  `json:"count"`
}

func (r *UsageRepo) GetByAgent(ctx context.Context, agentID string) ([]UsageCount, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT agent_id, operation, count FROM usage_counters WHERE agent_id = $1
	`, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []UsageCount
	for rows.Next() {
		var c UsageCount
		if err := rows.Scan(&c.AgentID, &c.Operation, &c.Count); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}
