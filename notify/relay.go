package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	relayBatchSize   = 10
	relayMaxAttempts = 5
	relayIdleSleep   = 250 * time.Millisecond
)

// Relay drains the transactional outbox. Messages are claimed with
// SKIP LOCKED so several relays can run side by side without double
// delivery; a message that keeps failing is parked as dead after
// relayMaxAttempts.
type Relay struct {
	Pool     *pgxpool.Pool
	Notifier Notifier
	Log      *slog.Logger
}

type outboxRow struct {
	id       string
	topic    string
	payload  []byte
	attempts int
}

// Run polls until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		n, err := r.DrainOnce(ctx)
		if err != nil {
			r.log().Error("outbox drain failed", "error", err)
		}
		if n == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(relayIdleSleep):
			}
		}
	}
}

// DrainOnce claims and processes one batch. It returns the number of
// messages handled, delivered or parked.
func (r *Relay) DrainOnce(ctx context.Context) (int, error) {
	tx, err := r.Pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id, topic, payload, attempts
		FROM outbox
		WHERE status = 'pending'
		ORDER BY created_at
		FOR UPDATE SKIP LOCKED
		LIMIT $1`, relayBatchSize)
	if err != nil {
		return 0, err
	}
	batch := make([]outboxRow, 0, relayBatchSize)
	for rows.Next() {
		var m outboxRow
		if err := rows.Scan(&m.id, &m.topic, &m.payload, &m.attempts); err != nil {
			rows.Close()
			return 0, err
		}
		batch = append(batch, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, m := range batch {
		if err := r.deliver(ctx, m); err != nil {
			r.log().Warn("outbox delivery failed", "id", m.id, "topic", m.topic, "error", err)
			status := "pending"
			if m.attempts+1 >= relayMaxAttempts {
				status = "dead"
			}
			if _, err := tx.Exec(ctx, `UPDATE outbox SET status=$2, attempts=attempts+1, last_attempt=NOW() WHERE id=$1`, m.id, status); err != nil {
				return 0, err
			}
			continue
		}
		if _, err := tx.Exec(ctx, `UPDATE outbox SET status='processed', attempts=attempts+1, last_attempt=NOW() WHERE id=$1`, m.id); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return len(batch), nil
}

func (r *Relay) deliver(ctx context.Context, m outboxRow) error {
	var body struct {
		TransactionID string `json:"transaction_id"`
		BuyerID       string `json:"buyer_id"`
		SellerID      string `json:"seller_id"`
	}
	if err := json.Unmarshal(m.payload, &body); err != nil {
		return err
	}
	if body.TransactionID != "" && (body.BuyerID == "" || body.SellerID == "") {
		err := r.Pool.QueryRow(ctx,
			`SELECT buyer_id, seller_id FROM transactions WHERE id = $1`,
			body.TransactionID).Scan(&body.BuyerID, &body.SellerID)
		if err != nil {
			return err
		}
	}
	for _, n := range fanOut(m.topic, body.TransactionID, body.BuyerID, body.SellerID) {
		if err := r.Notifier.Notify(ctx, n); err != nil {
			return err
		}
	}
	return nil
}

// fanOut maps a topic to the notifications each party should receive.
// Topics without a recipient mapping are consumed silently.
func fanOut(topic, txnID, buyerID, sellerID string) []Notification {
	link := "/transactions/" + txnID
	both := func(title, msg string) []Notification {
		out := make([]Notification, 0, 2)
		if buyerID != "" {
			out = append(out, Notification{UserID: buyerID, Title: title, Message: msg, Type: topic, Link: link})
		}
		if sellerID != "" {
			out = append(out, Notification{UserID: sellerID, Title: title, Message: msg, Type: topic, Link: link})
		}
		return out
	}
	switch topic {
	case "txn.created":
		if sellerID == "" {
			return nil
		}
		return []Notification{{UserID: sellerID, Title: "Sale created", Message: "A buyer opened a custody transaction for your car.", Type: topic, Link: link}}
	case "txn.funds_held":
		return both("Funds secured", "The buyer's payment is held in custody.")
	case "txn.released":
		return both("Funds released", "Handover confirmed. Settlement has been paid out.")
	case "txn.cancelled":
		return both("Sale cancelled", "The transaction was cancelled.")
	case "txn.negotiating":
		return both("Dispute opened", "The release is paused while the parties negotiate.")
	case "txn.negotiation_closed":
		return both("Dispute closed", "The transaction is back in custody.")
	case "documents.certified":
		return both("Documents certified", "The documentation case passed final review.")
	case "compliance.blocked":
		return both("Transaction blocked", "A compliance review is required before funds can move.")
	default:
		return nil
	}
}

func (r *Relay) log() *slog.Logger {
	if r.Log != nil {
		return r.Log
	}
	return slog.Default()
}
