package model

import "errors"

// Sentinel errors from the taxonomy in the confirmation-lifecycle spec. Callers
// classify with errors.Is/errors.As rather than string matching.
var (
	// ErrMalformedTx is returned by the address extractor when raw transaction
	// bytes cannot be parsed as a well-formed transaction.
	ErrMalformedTx = errors.New("malformed transaction")

	// ErrTxTooLarge is returned when a raw transaction exceeds the configured
	// maximum byte length before any parsing is attempted.
	ErrTxTooLarge = errors.New("transaction exceeds maximum size")

	// ErrStoreUnavailable indicates the persistent store could not be reached.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrStoreConflict indicates a duplicate-key write that an upsert or
	// unordered bulk insert is expected to swallow.
	ErrStoreConflict = errors.New("store conflict")

	// ErrRpcTimeout indicates a node RPC call was cancelled by its per-call
	// timeout.
	ErrRpcTimeout = errors.New("rpc timeout")

	// ErrRpcUnavailable indicates a transport-level failure reaching the node.
	ErrRpcUnavailable = errors.New("rpc unavailable")

	// ErrRateLimited indicates the block explorer responded 429.
	ErrRateLimited = errors.New("rate limited")

	// ErrUpstreamError indicates a non-2xx, non-404, non-429 explorer response.
	ErrUpstreamError = errors.New("upstream error")

	// ErrConfigInvalid indicates a fatal startup configuration error.
	ErrConfigInvalid = errors.New("invalid configuration")

	// ErrNotFound indicates a lookup by primary key found no record.
	ErrNotFound = errors.New("not found")
)

// RpcError wraps a JSON-RPC application-level error returned by the node.
type RpcError struct {
	Code    int
	Message string
}

func (e *RpcError) Error() string {
	return e.Message
}
