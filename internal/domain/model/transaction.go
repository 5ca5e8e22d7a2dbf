package model

import "time"

// TxStatus is the lifecycle state of an ActiveTransaction.
type TxStatus string

const (
	TxStatusPending    TxStatus = "pending"
	TxStatusConfirming TxStatus = "confirming"
)

// ActiveTransaction is a transaction touching at least one watched address
// that has not yet reached the archive threshold.
//
// Invariants:
//   - Status == pending  <=> BlockHeight == nil && Confirmations == 0
//   - BlockHash == nil   <=> BlockHeight == nil
//   - len(Addresses) >= 1
type ActiveTransaction struct {
	TxID          string     `bson:"_id" json:"txid"`
	Addresses     []string   `bson:"addresses" json:"addresses"`
	BlockHeight   *int64     `bson:"block_height,omitempty" json:"blockHeight,omitempty"`
	BlockHash     *string    `bson:"block_hash,omitempty" json:"blockHash,omitempty"`
	BlockTime     *time.Time `bson:"block_time,omitempty" json:"blockTime,omitempty"`
	Confirmations int64      `bson:"confirmations" json:"confirmations"`
	FirstSeen     time.Time  `bson:"first_seen" json:"firstSeen"`
	Status        TxStatus   `bson:"status" json:"status"`
	IsHistorical  bool       `bson:"is_historical" json:"isHistorical"`
	LastVerified  *time.Time `bson:"last_verified,omitempty" json:"lastVerified,omitempty"`
	Hex           *string    `bson:"hex,omitempty" json:"-"`
}

// AddressSet returns the transaction's watched addresses as a lookup set.
func (t *ActiveTransaction) AddressSet() map[string]struct{} {
	set := make(map[string]struct{}, len(t.Addresses))
	for _, a := range t.Addresses {
		set[a] = struct{}{}
	}
	return set
}

// ArchivedTransaction mirrors an ActiveTransaction once it reaches
// ARCHIVE_THRESHOLD confirmations. FinalConfirmations >= ARCHIVE_THRESHOLD.
type ArchivedTransaction struct {
	TxID               string    `bson:"_id" json:"txid"`
	Addresses          []string  `bson:"addresses" json:"addresses"`
	BlockHeight        int64     `bson:"block_height" json:"blockHeight"`
	BlockHash          string    `bson:"block_hash" json:"blockHash"`
	FinalConfirmations int64     `bson:"final_confirmations" json:"finalConfirmations"`
	FirstSeen          time.Time `bson:"first_seen" json:"firstSeen"`
	IsHistorical       bool      `bson:"is_historical" json:"isHistorical"`
	ArchivedAt         time.Time `bson:"archived_at" json:"archivedAt"`
	ArchiveHeight      int64     `bson:"archive_height" json:"archiveHeight"`
}
