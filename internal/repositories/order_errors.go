package repositories

import "errors"

var (
	// ErrDuplicateIdempotencyKey indicates the idempotency key was already consumed by an earlier submission.
	ErrDuplicateIdempotencyKey = errors.New("order repository: idempotency key already used")
	// ErrInvalidStatusTransition indicates the requested status change is forbidden by the order state machine.
	ErrInvalidStatusTransition = errors.New("order repository: invalid status transition")
	// ErrUploadSessionAttached indicates the upload session is already linked to another order.
	ErrUploadSessionAttached = errors.New("upload session repository: session already attached")
)
