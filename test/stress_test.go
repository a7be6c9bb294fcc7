package test

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"carvault/compliance"
	"carvault/handover"
	"carvault/notify"
	"carvault/payment"
	"carvault/test/actors"
	"carvault/test/chaos"
	"carvault/test/infra"
	"carvault/test/oracles"
	"carvault/txn"
)

var (
	flDuration    = flag.Duration("duration", 90*time.Second, "how long to run stress")
	flConcurrency = flag.Int("concurrency", 8, "number of concurrent actors")
	flSeed        = flag.Int64("seed", time.Now().UnixNano(), "random seed")
	flDSN         = flag.String("dsn", "", "existing Postgres DSN to reuse (avoids Docker)")
)

func seedRNG(seed int64) { rand.Seed(seed) }

// TestCustodyConcurrency races releasers, an intruder, cancellers and
// disputers over a single funded sale while the SQL oracles watch for a
// conservation, gate or ordering violation.
func TestCustodyConcurrency(t *testing.T) {
	flag.Parse()
	seed := *flSeed
	seedRNG(seed)

	var (
		pgC        *infra.VaultDB
		dsn        string
		err        error
		usedShared bool
	)
	ctx, cancel := context.WithTimeout(context.Background(), *flDuration+60*time.Second)
	defer cancel()

	switch {
	case *flDSN != "":
		dsn = *flDSN
		usedShared = true
		pgC = &infra.VaultDB{}
	case os.Getenv("CARVAULT_STRESS_DSN") != "":
		dsn = os.Getenv("CARVAULT_STRESS_DSN")
		usedShared = true
		pgC = &infra.VaultDB{}
	default:
		if dockerAvailable(ctx) {
			pgC, dsn, err = infra.StartPostgres(ctx, "")
			if err != nil {
				t.Fatalf("start postgres: %v", err)
			}
		} else {
			dsn, err = infra.InitLocalDatabase(ctx)
			if err != nil {
				t.Fatalf("init local database: %v", err)
			}
			pgC = &infra.VaultDB{}
		}
	}
	defer pgC.Terminate(context.Background())

	pool, teardown, err := infra.ApplyMigrations(ctx, dsn, usedShared)
	if err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	defer pool.Close()
	defer func() {
		if err := teardown(context.Background()); err != nil {
			t.Logf("teardown warning: %v", err)
		}
	}()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rail := &payment.LogRail{Log: logger}
	screener := compliance.NewListScreener(nil)
	txnService := txn.NewService(pool, nil, rail)
	handoverService := handover.NewService(pool, screener, rail, 500*time.Millisecond)
	relay := &notify.Relay{Pool: pool, Notifier: &notify.SlogNotifier{Log: logger}, Log: logger}

	seedData := mustSeed(t, ctx, pool, txnService, handoverService)
	target := actors.NewTarget(seedData.txnID, seedData.secret)

	g, ctx2 := errgroup.WithContext(ctx)
	stop := make(chan struct{})

	// releasers and cancellers battling over the same sale
	for i := 0; i < *flConcurrency; i++ {
		g.Go(func() error {
			return actors.Releaser(ctx2, handoverService, target, seedData.buyerID, stop)
		})
		g.Go(func() error {
			return actors.Canceller(ctx2, txnService, target, seedData.buyerID, stop)
		})
	}

	g.Go(func() error {
		return actors.Intruder(ctx2, handoverService, target, seedData.buyerID, stop)
	})
	g.Go(func() error {
		return actors.Disputer(ctx2, handoverService, target, seedData.buyerID, stop)
	})
	g.Go(func() error {
		return actors.ChecklistWriter(ctx2, handoverService, target, stop)
	})
	g.Go(func() error {
		return actors.ContractSigner(ctx2, txnService, target, seedData.sellerID, stop)
	})
	g.Go(func() error { return actors.OutboxWorker(ctx2, relay, stop) })
	g.Go(func() error { return actors.Sweeper(ctx2, handoverService, stop) })
	// once the current sale reaches a terminal state, aim everyone at a
	// fresh one
	g.Go(func() error {
		return reseed(ctx2, pool, txnService, handoverService, seedData, target, stop)
	})
	// chaos: kill random backend
	go chaos.KillRandomBackend(ctx2, pool, stop)

	deadline := time.Now().Add(*flDuration)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	var failed bool
loop:
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			name, row, err := oracles.Run(ctx2, pool)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					break loop
				}
				t.Fatalf("oracle error: %v", err)
			}
			if name != "" {
				failed = true
				dumpRecent(t, ctx2, pool)
				t.Fatalf("Oracle %s failed. First row: %s (seed=%d)", name, row, seed)
			}
		}
	}

	close(stop)
	if err := g.Wait(); err != nil && !failed {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("actors errored: %v", err)
		}
	}
}

func dockerAvailable(ctx context.Context) bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	c := exec.CommandContext(ctx, "docker", "info")
	c.Stdout = io.Discard
	c.Stderr = io.Discard
	return c.Run() == nil
}

type seedIDs struct {
	buyerID  string
	sellerID string
	carID    string
	txnID    string
	secret   string
}

// mustSeed creates the parties and the first releasable sale.
func mustSeed(t *testing.T, ctx context.Context, pool *pgxpool.Pool, txnService *txn.Service, handoverService *handover.Service) seedIDs {
	t.Helper()
	var s seedIDs

	if err := pool.QueryRow(ctx,
		`INSERT INTO users (email, full_name, password_hash, role) VALUES ($1,'Stress Buyer','x','buyer') RETURNING id`,
		fmt.Sprintf("buyer%d@example.com", rand.Int63())).Scan(&s.buyerID); err != nil {
		t.Fatalf("seed buyer: %v", err)
	}
	if err := pool.QueryRow(ctx,
		`INSERT INTO users (email, full_name, password_hash, role) VALUES ($1,'Stress Seller','x','seller') RETURNING id`,
		fmt.Sprintf("seller%d@example.com", rand.Int63())).Scan(&s.sellerID); err != nil {
		t.Fatalf("seed seller: %v", err)
	}

	txnID, secret, carID, err := seedSale(ctx, pool, txnService, handoverService, s.buyerID, s.sellerID)
	if err != nil {
		t.Fatalf("seed sale: %v", err)
	}
	s.txnID, s.secret, s.carID = txnID, secret, carID
	return s
}

// seedSale walks a brand-new sale through the real services up to the
// point of release: funded, documents certified, contract signed, handover
// ready.
func seedSale(ctx context.Context, pool *pgxpool.Pool, txnService *txn.Service, handoverService *handover.Service, buyerID, sellerID string) (txnID, secret, carID string, err error) {
	carID = uuid.NewString()

	rec, err := txnService.Create(ctx, buyerID, txn.CreateParams{
		CarID:            carID,
		BuyerID:          buyerID,
		SellerID:         sellerID,
		CarPrice:         200000,
		CommissionRateBP: 500,
	})
	if err != nil {
		return "", "", "", fmt.Errorf("create sale: %w", err)
	}

	if err := txnService.ConfirmIntake(ctx, txn.IntakeParams{
		TransactionID:  rec.ID,
		AmountPaid:     rec.BuyerTotal(),
		IdempotencyKey: uuid.NewString(),
	}); err != nil {
		return "", "", "", fmt.Errorf("confirm intake: %w", err)
	}

	// certified case, signed contract and captured documentation make the
	// sale releasable
	if _, err := pool.Exec(ctx,
		`INSERT INTO document_cases (car_id, status, certified_at, certified_by)
		 VALUES ($1, 'certified', now(), $2)`, carID, sellerID); err != nil {
		return "", "", "", fmt.Errorf("seed certified case: %w", err)
	}
	if err := txnService.SignContract(ctx, rec.ID, sellerID); err != nil {
		return "", "", "", fmt.Errorf("sign contract: %w", err)
	}
	if err := handoverService.CaptureDocumentation(ctx, rec.ID, sellerID); err != nil {
		return "", "", "", fmt.Errorf("capture documentation: %w", err)
	}

	if err := pool.QueryRow(ctx,
		`SELECT secret FROM handover_sessions WHERE transaction_id = $1`, rec.ID).Scan(&secret); err != nil {
		return "", "", "", fmt.Errorf("read secret: %w", err)
	}
	return rec.ID, secret, carID, nil
}

// reseed swaps the shared target for a fresh releasable sale once the
// current one is terminal. Seeding failures are retried on the next tick;
// the chaos actor makes them expected.
func reseed(ctx context.Context, pool *pgxpool.Pool, txnService *txn.Service, handoverService *handover.Service, seed seedIDs, target *actors.Target, stop <-chan struct{}) error {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		case <-ticker.C:
		}

		txnID, _ := target.Load()
		var status string
		if err := pool.QueryRow(ctx, `SELECT status FROM transactions WHERE id = $1`, txnID).Scan(&status); err != nil {
			continue
		}
		if status != string(txn.StatusReleased) && status != string(txn.StatusCancelled) {
			continue
		}

		newID, newSecret, _, err := seedSale(ctx, pool, txnService, handoverService, seed.buyerID, seed.sellerID)
		if err != nil {
			continue
		}
		target.Store(newID, newSecret)
	}
}

func dumpRecent(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	type dump struct {
		name string
		sql  string
	}
	dumps := []dump{
		{"transactions", `SELECT id, car_id, status, updated_at FROM transactions ORDER BY updated_at DESC LIMIT 20`},
		{"timeline_events", `SELECT id, transaction_id, seq, type, created_at FROM timeline_events ORDER BY id DESC LIMIT 50`},
		{"payout_instructions", `SELECT transaction_id, kind, payee_role, amount, created_at FROM payout_instructions ORDER BY created_at DESC LIMIT 20`},
		{"outbox", `SELECT id, topic, status, attempts, created_at FROM outbox ORDER BY created_at DESC LIMIT 50`},
	}
	for _, d := range dumps {
		rows, err := pool.Query(ctx, d.sql)
		if err != nil {
			t.Logf("dump %s error: %v", d.name, err)
			continue
		}
		cols := rows.FieldDescriptions()
		t.Logf("-- %s --", d.name)
		for rows.Next() {
			vals, _ := rows.Values()
			buf := make([]any, 0, len(vals))
			for i := range vals {
				buf = append(buf, fmt.Sprintf("%s=%v", string(cols[i].Name), vals[i]))
			}
			t.Logf("%s", buf)
		}
		rows.Close()
	}
}
