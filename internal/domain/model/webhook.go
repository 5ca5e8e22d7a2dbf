package model

import "time"

// Webhook is a registered subscriber for transaction lifecycle events.
// Invariant: MonitorAll == true implies len(Addresses) == 0.
type Webhook struct {
	ID            string     `bson:"_id" json:"id"`
	URL           string     `bson:"url" json:"url"`
	Addresses     []string   `bson:"addresses" json:"addresses"`
	MonitorAll    bool       `bson:"monitor_all" json:"monitorAll"`
	Active        bool       `bson:"active" json:"active"`
	CreatedAt     time.Time  `bson:"created_at" json:"createdAt"`
	TriggerCount  int64      `bson:"trigger_count" json:"triggerCount"`
	LastTriggered *time.Time `bson:"last_triggered,omitempty" json:"lastTriggered,omitempty"`
}

// Matches reports whether the webhook should be notified for a transaction
// touching the given watched addresses.
func (w *Webhook) Matches(addresses []string) bool {
	if w.MonitorAll {
		return true
	}
	if len(w.Addresses) == 0 {
		return false
	}
	watched := make(map[string]struct{}, len(w.Addresses))
	for _, a := range w.Addresses {
		watched[a] = struct{}{}
	}
	for _, a := range addresses {
		if _, ok := watched[a]; ok {
			return true
		}
	}
	return false
}

// Intersect returns the subset of addresses this webhook is scoped to. For a
// monitor-all webhook the full set is returned unfiltered.
func (w *Webhook) Intersect(addresses []string) []string {
	if w.MonitorAll {
		out := make([]string, len(addresses))
		copy(out, addresses)
		return out
	}
	watched := make(map[string]struct{}, len(w.Addresses))
	for _, a := range w.Addresses {
		watched[a] = struct{}{}
	}
	out := make([]string, 0, len(addresses))
	for _, a := range addresses {
		if _, ok := watched[a]; ok {
			out = append(out, a)
		}
	}
	return out
}

// DeliveryStatus is the lifecycle state of a WebhookDelivery.
type DeliveryStatus string

const (
	DeliveryStatusPending    DeliveryStatus = "pending"
	DeliveryStatusProcessing DeliveryStatus = "processing"
	DeliveryStatusRetry      DeliveryStatus = "retry"
	DeliveryStatusCompleted  DeliveryStatus = "completed"
	DeliveryStatusFailed     DeliveryStatus = "failed"
	DeliveryStatusCancelled  DeliveryStatus = "cancelled"
)

// IsTerminal reports whether the status never transitions again.
func (s DeliveryStatus) IsTerminal() bool {
	switch s {
	case DeliveryStatusCompleted, DeliveryStatusFailed, DeliveryStatusCancelled:
		return true
	default:
		return false
	}
}

// CancelReason explains why a delivery was cancelled without being sent.
type CancelReason string

const (
	CancelReasonSuperseded CancelReason = "superseded"
	CancelReasonManual     CancelReason = "manual"
)

// WebhookDelivery is a single queued/attempted delivery of a webhook payload.
type WebhookDelivery struct {
	ID              string          `bson:"_id" json:"id"`
	WebhookID       string          `bson:"webhook_id" json:"webhookId"`
	URL             string          `bson:"url" json:"url"`
	Payload         WebhookPayload  `bson:"payload" json:"payload"`
	TransactionID   *string         `bson:"transaction_id,omitempty" json:"transactionId,omitempty"`
	Status          DeliveryStatus  `bson:"status" json:"status"`
	Attempts        int             `bson:"attempts" json:"attempts"`
	NextRetry       time.Time       `bson:"next_retry" json:"nextRetry"`
	LastError       string          `bson:"last_error,omitempty" json:"lastError,omitempty"`
	CancelReason    CancelReason    `bson:"cancel_reason,omitempty" json:"cancelReason,omitempty"`
	ResponseStatus  int             `bson:"response_status,omitempty" json:"responseStatus,omitempty"`
	ResponseExcerpt string          `bson:"response_excerpt,omitempty" json:"responseExcerpt,omitempty"`
	CreatedAt       time.Time       `bson:"created_at" json:"createdAt"`
	LastAttempt     *time.Time      `bson:"last_attempt,omitempty" json:"lastAttempt,omitempty"`
	CompletedAt     *time.Time      `bson:"completed_at,omitempty" json:"completedAt,omitempty"`
	FailedAt        *time.Time      `bson:"failed_at,omitempty" json:"failedAt,omitempty"`
}

// WebhookPayload is the JSON body POSTed to a webhook's URL.
type WebhookPayload struct {
	Timestamp   time.Time         `bson:"timestamp" json:"timestamp"`
	Transaction WebhookPayloadTx  `bson:"transaction" json:"transaction"`
	Changes     map[string]any    `bson:"changes" json:"changes"`
}

// WebhookPayloadTx is the transaction snapshot embedded in a webhook payload.
type WebhookPayloadTx struct {
	ID            string     `bson:"_id" json:"_id"`
	Addresses     []string   `bson:"addresses" json:"addresses"`
	Confirmations int64      `bson:"confirmations" json:"confirmations"`
	Status        string     `bson:"status" json:"status"`
	BlockHeight   *int64     `bson:"block_height,omitempty" json:"block_height,omitempty"`
	BlockHash     *string    `bson:"block_hash,omitempty" json:"block_hash,omitempty"`
	FirstSeen     time.Time  `bson:"first_seen" json:"first_seen"`
}
