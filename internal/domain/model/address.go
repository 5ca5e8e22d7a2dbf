package model

import "time"

// WatchedAddress is a base58 address the tracker follows for on-chain activity.
// Invariant: HistoricalFetchedAt is set if and only if HistoricalFetched is true.
type WatchedAddress struct {
	Address             string         `bson:"_id" json:"address"`
	Active              bool           `bson:"active" json:"active"`
	CreatedAt           time.Time      `bson:"created_at" json:"createdAt"`
	LastActivity        *time.Time     `bson:"last_activity,omitempty" json:"lastActivity,omitempty"`
	TransactionCount    int64          `bson:"transaction_count" json:"transactionCount"`
	HistoricalFetched   bool           `bson:"historical_fetched" json:"historicalFetched"`
	HistoricalFetchedAt *time.Time     `bson:"historical_fetched_at,omitempty" json:"historicalFetchedAt,omitempty"`
	Label               string         `bson:"label,omitempty" json:"label,omitempty"`
	Metadata            map[string]any `bson:"metadata,omitempty" json:"metadata,omitempty"`
}
