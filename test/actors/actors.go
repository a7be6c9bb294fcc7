// Package actors hosts the concurrent workloads for the custody stress
// test. Actors hammer the real services; they never assert anything
// themselves. Correctness is judged by the SQL oracles, so every actor
// swallows domain rejections and transient connection errors alike.
package actors

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"carvault/handover"
	"carvault/notify"
	"carvault/txn"
)

// Target is the sale currently under attack. The reseeder swaps it for a
// fresh one once a canceller or releaser wins, so the actors never idle.
type Target struct {
	mu     sync.RWMutex
	txnID  string
	secret string
}

func NewTarget(txnID, secret string) *Target {
	return &Target{txnID: txnID, secret: secret}
}

func (t *Target) Load() (txnID, secret string) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.txnID, t.secret
}

func (t *Target) Store(txnID, secret string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.txnID = txnID
	t.secret = secret
}

// Releaser keeps presenting the correct secret with fresh idempotency keys.
// Per sale at most one attempt may ever move funds; the rest must bounce
// off the transition guard.
func Releaser(ctx context.Context, svc *handover.Service, target *Target, actorID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		txnID, secret := target.Load()
		_ = svc.Confirm(ctx, handover.ConfirmParams{
			TransactionID:   txnID,
			PresentedSecret: secret,
			IdempotencyKey:  uuid.NewString(),
			ActorID:         actorID,
		})
		time.Sleep(time.Duration(10+rand.Intn(30)) * time.Millisecond)
	}
}

// Intruder presents wrong secrets. Every attempt must be rejected without
// touching state.
func Intruder(ctx context.Context, svc *handover.Service, target *Target, actorID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		txnID, _ := target.Load()
		_ = svc.Confirm(ctx, handover.ConfirmParams{
			TransactionID:   txnID,
			PresentedSecret: fmt.Sprintf("guess-%d", rand.Int63()),
			IdempotencyKey:  uuid.NewString(),
			ActorID:         actorID,
		})
		time.Sleep(time.Duration(15+rand.Intn(30)) * time.Millisecond)
	}
}

// Canceller races the release with withdrawal attempts. Exactly one of
// release and cancel may win; oracle O6 catches a sale that both refunded
// and paid out.
func Canceller(ctx context.Context, svc *txn.Service, target *Target, actorID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		txnID, _ := target.Load()
		_ = svc.Cancel(ctx, txn.CancelParams{
			TransactionID: txnID,
			ActorID:       actorID,
			Reason:        "stress withdrawal",
		})
		time.Sleep(time.Duration(25+rand.Intn(50)) * time.Millisecond)
	}
}

// Disputer opens and resolves negotiation detours, bouncing the sale
// between funds_held and negotiating under the releaser's feet.
func Disputer(ctx context.Context, svc *handover.Service, target *Target, actorID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		txnID, _ := target.Load()
		_ = svc.Dispute(ctx, handover.DisputeParams{
			TransactionID: txnID,
			ActorID:       actorID,
			Reason:        "stress objection",
		})
		time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
		_ = svc.Resolve(ctx, handover.ResolveParams{
			TransactionID: txnID,
			ActorID:       actorID,
			Note:          "stress resolution",
		})
		time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
	}
}

// ChecklistWriter ticks random inspection items while everything else is
// going on.
func ChecklistWriter(ctx context.Context, svc *handover.Service, target *Target, stop <-chan struct{}) error {
	items := []string{"body", "engine", "interior", "papers", "keys"}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		txnID, _ := target.Load()
		item := items[rand.Intn(len(items))]
		_, _ = svc.UpdateChecklist(ctx, txnID, map[string]bool{item: rand.Intn(2) == 0})
		time.Sleep(time.Duration(15+rand.Intn(35)) * time.Millisecond)
	}
}

// ContractSigner re-signs the contract gate; only the first flip may write
// a timeline event.
func ContractSigner(ctx context.Context, svc *txn.Service, target *Target, actorID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		txnID, _ := target.Load()
		_ = svc.SignContract(ctx, txnID, actorID)
		time.Sleep(time.Duration(40+rand.Intn(60)) * time.Millisecond)
	}
}

// OutboxWorker drains the outbox the way the production relay does.
func OutboxWorker(ctx context.Context, relay *notify.Relay, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if n, _ := relay.DrainOnce(ctx); n == 0 {
			time.Sleep(100 * time.Millisecond)
		}
	}
}

// Sweeper runs the negotiation expiry sweep on a tight loop.
func Sweeper(ctx context.Context, svc *handover.Service, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_, _ = svc.ExpireNegotiations(ctx)
		time.Sleep(250 * time.Millisecond)
	}
}
