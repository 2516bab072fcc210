package billing

import "errors"

var (
	// ErrSignatureInvalid marks a webhook payload whose signature did not
	// verify. Nothing about the payload may be trusted or processed.
	ErrSignatureInvalid = errors.New("webhook signature invalid")

	// ErrProviderUnavailable marks a transient provider failure (network,
	// 5xx). It is retried only at the sync invocation layer, never inside a
	// single webhook delivery.
	ErrProviderUnavailable = errors.New("payment provider unavailable")

	// ErrCustomerNotFound means the provider has no such customer. A deleted
	// customer is reported the same way: deleted means gone, not broken.
	ErrCustomerNotFound = errors.New("provider customer not found")

	// ErrRecordNotFound means no local billing record matched any lookup key.
	ErrRecordNotFound = errors.New("billing record not found")

	// ErrMalformedEvent marks an event missing required metadata. It cannot
	// be recovered from the data present, so it is logged and dropped.
	ErrMalformedEvent = errors.New("malformed webhook event")

	// ErrSweepInProgress means another full reconciliation sweep holds the
	// sweep lock.
	ErrSweepInProgress = errors.New("reconciliation sweep already in progress")
)
