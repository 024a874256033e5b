package status

import "errors"

var (
	ErrOrderNotFound  = errors.New("order: not found")
	ErrTicketNotFound = errors.New("ticket: not found")

	// ErrRetryLater tells the worker loop to leave the delivery unacked so
	// the visibility timeout redelivers it.
	ErrRetryLater = errors.New("job: retry later")
)
