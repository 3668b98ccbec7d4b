package credits

import (
	"time"

	"gorm.io/datatypes"
)

// EntryType enumerates the kinds of ledger movements.
type EntryType string

const (
	// EntryTypeEarn credits points to a user; always a positive delta.
	EntryTypeEarn EntryType = "EARN"
	// EntryTypeSpend debits points; recorded with a negative delta.
	EntryTypeSpend EntryType = "SPEND"
	// EntryTypeAdjust is an administrative correction of either sign.
	EntryTypeAdjust EntryType = "ADJUST"
)

// LedgerEntry is one append-only row of the signed-point journal. Entries are
// never mutated or deleted; corrections append offsetting entries and the
// balance is always derived by summing.
type LedgerEntry struct {
	ID       uint64            `gorm:"column:id;primaryKey;autoIncrement"`
	UserID   uint64            `gorm:"column:user_id;not null;index:idx_credit_entries_user_time,priority:1"`
	RefLogID *uint64           `gorm:"column:ref_log_id"`
	Type     EntryType         `gorm:"column:type;size:16;not null"`
	Points   int64             `gorm:"column:points;not null"`
	Reason   string            `gorm:"column:reason;size:120;not null"`
	Metadata datatypes.JSONMap `gorm:"column:metadata"`

	CreatedAt time.Time `gorm:"column:created_at;not null;index:idx_credit_entries_user_time,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (LedgerEntry) TableName() string {
	return "credit_entries"
}

// BalanceSummary aggregates a user's ledger position.
type BalanceSummary struct {
	UserID       uint64    `json:"user_id"`
	TotalPoints  int64     `json:"total_points"`
	RecentEarned int64     `json:"recent_earned"`
	AsOf         time.Time `json:"as_of"`
}
