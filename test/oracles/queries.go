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

// All returns the invariant checks. Each query selects violating rows, so an
// empty result means the invariant holds.
func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_terminal_zero_escrow",
			SQL: `SELECT id, state, escrowed_amount FROM jobs
                  WHERE state IN ('approved','rejected','cancelled','fraud_flagged','refunded')
                    AND escrowed_amount <> 0`,
		},
		{
			Name: "O2_escrow_bounds",
			SQL: `SELECT id, total_amount, escrowed_amount FROM jobs
                  WHERE escrowed_amount < 0 OR escrowed_amount > total_amount`,
		},
		{
			Name: "O3_custody_matches_open_escrow",
			SQL: `SELECT escrow_balance, open_escrow FROM
                      (SELECT balance AS escrow_balance FROM accounts WHERE id = 'escrow') a,
                      (SELECT COALESCE(SUM(escrowed_amount), 0) AS open_escrow FROM jobs) j
                  WHERE escrow_balance <> open_escrow`,
		},
		{
			Name: "O4_money_conservation",
			SQL: `SELECT balances, deposits FROM
                      (SELECT COALESCE(SUM(balance), 0) AS balances FROM accounts) a,
                      (SELECT COALESCE(SUM(amount), 0) AS deposits FROM transfers WHERE from_account = '') d
                  WHERE balances <> deposits`,
		},
		{
			Name: "O5_event_seq_monotonic",
			SQL: `WITH seqs AS (
                      SELECT job_id, seq,
                             LAG(seq) OVER (PARTITION BY job_id ORDER BY seq) AS prev
                      FROM job_events)
                  SELECT * FROM seqs WHERE prev IS NOT NULL AND seq <= prev`,
		},
		{
			Name: "O6_fraud_counter_consistency",
			SQL: `SELECT COALESCE(f.freelancer_id, j.freelancer_id) AS freelancer_id,
                         COALESCE(f.count, 0) AS counted,
                         COALESCE(j.actual, 0) AS actual
                  FROM fraud_flags f
                  FULL JOIN (SELECT freelancer_id, COUNT(*) AS actual FROM jobs
                             WHERE fraud_flag_raised GROUP BY freelancer_id) j
                    ON j.freelancer_id = f.freelancer_id
                  WHERE COALESCE(f.count, 0) <> COALESCE(j.actual, 0)`,
		},
		{
			Name: "O7_flag_implies_flagged_state",
			SQL: `SELECT id, state FROM jobs
                  WHERE fraud_flag_raised AND state <> 'fraud_flagged'`,
		},
		{
			Name: "O8_no_phantom_initial_release",
			SQL: `SELECT id FROM jobs
                  WHERE initial_payment_released AND initial_payment_percent = 0`,
		},
		{
			Name: "O9_negative_balance",
			SQL:  `SELECT id, balance FROM accounts WHERE balance < 0`,
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
