package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
)

const (
	defaultTxAttempts = 5
	defaultTxTimeout  = 15 * time.Second
)

// TxFunc is executed within a Firestore transaction.
type TxFunc func(ctx context.Context, tx *firestore.Transaction) error

// RunTransaction executes fn within a transaction on the provided client. A
// timeout is applied unless the caller's context already carries a tighter
// deadline.
func RunTransaction(ctx context.Context, client *firestore.Client, fn TxFunc) error {
	if client == nil {
		return WrapError("transaction", errors.New("firestore: client is nil"))
	}
	if fn == nil {
		return WrapError("transaction", errors.New("firestore: transaction function is nil"))
	}

	txnCtx := ctx
	deadline, hasDeadline := ctx.Deadline()
	if !hasDeadline || time.Until(deadline) > defaultTxTimeout {
		var cancel context.CancelFunc
		txnCtx, cancel = context.WithTimeout(ctx, defaultTxTimeout)
		defer cancel()
	}

	err := client.RunTransaction(txnCtx, func(ctx context.Context, tx *firestore.Transaction) error {
		return fn(ctx, tx)
	}, firestore.MaxAttempts(defaultTxAttempts))

	return WrapError("transaction", err)
}
