package event

import "time"

// WebhookEnqueue is the request a producer (intake or the confirmation
// tracker) hands to the webhook dispatcher to schedule a delivery.
type WebhookEnqueue struct {
	WebhookID     string
	URL           string
	TransactionID string
	Addresses     []string
	Confirmations int64
	Status        string
	BlockHeight   *int64
	BlockHash     *string
	FirstSeen     time.Time
	Changes       map[string]any
}
