package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

// All returns the cross-table invariants of the custody schema. Each query
// selects violating rows; an empty result set means the invariant holds.
func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_one_active_sale_per_car",
			SQL: `SELECT car_id, COUNT(*) FROM transactions
                  WHERE status IN ('created','funds_held','negotiating')
                  GROUP BY car_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_settlement_conservation",
			SQL: `SELECT t.id FROM transactions t
                  WHERE t.status = 'released'
                    AND (SELECT COALESCE(SUM(p.amount),0) FROM payout_instructions p
                         WHERE p.transaction_id = t.id AND p.kind = 'payout')
                        <> t.car_price - COALESCE(
                            (SELECT q.total_amount FROM repair_quotations q
                             WHERE q.transaction_id = t.id
                               AND q.status IN ('accepted_by_buyer','in_repair')), 0)`,
		},
		{
			Name: "O3_timeline_seq_monotonic",
			SQL: `WITH seqs AS (
                      SELECT transaction_id, seq,
                             LAG(seq) OVER (PARTITION BY transaction_id ORDER BY seq) AS prev
                      FROM timeline_events)
                  SELECT * FROM seqs WHERE prev IS NOT NULL AND seq <= prev`,
		},
		{
			Name: "O4_release_requires_gates",
			SQL: `SELECT t.id FROM transactions t
                  WHERE t.status = 'released'
                    AND (
                      NOT EXISTS (SELECT 1 FROM document_cases c
                                  WHERE c.car_id = t.car_id AND c.status = 'certified')
                      OR NOT EXISTS (SELECT 1 FROM verification_gates g
                                     WHERE g.transaction_id = t.id
                                       AND g.category = 'contract' AND g.state = 'verified')
                      OR EXISTS (SELECT 1 FROM verification_gates g
                                 WHERE g.transaction_id = t.id
                                   AND g.category = 'compliance' AND g.state = 'blocked')
                      OR EXISTS (SELECT 1 FROM repair_quotations q
                                 WHERE q.transaction_id = t.id
                                   AND q.status IN ('pending_buyer','in_repair'))
                    )`,
		},
		{
			Name: "O5_outbox_not_stale",
			SQL: `SELECT id::text FROM outbox
                  WHERE status NOT IN ('processed','dead')
                    AND now() - created_at > interval '5 minutes'`,
		},
		{
			Name: "O6_payout_refund_exclusive",
			SQL: `SELECT transaction_id FROM payout_instructions
                  GROUP BY transaction_id
                  HAVING COUNT(DISTINCT kind) > 1`,
		},
		{
			Name: "O7_released_session_complete",
			SQL: `SELECT t.id FROM transactions t
                  JOIN handover_sessions h ON h.transaction_id = t.id
                  WHERE t.status = 'released' AND h.phase <> 'complete'`,
		},
		{
			Name: "O8_funds_move_once",
			SQL: `SELECT transaction_id, kind, payee_role, COUNT(*)
                  FROM payout_instructions
                  GROUP BY transaction_id, kind, payee_role
                  HAVING COUNT(*) > 1`,
		},
		{
			Name: "O9_transaction_delete_guard",
			SQL: `SELECT 'missing_no_delete_trigger' AS detail
                  WHERE NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname='no_delete_transactions')`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
