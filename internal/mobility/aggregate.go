package mobility

import (
	"time"

	"github.com/greenloop-labs/greenloop/backend/internal/carbon"
	"gorm.io/gorm"
)

// Aggregator answers the trip aggregates the challenge engines measure
// progress with. Separate from Service so consumers depend only on reads.
type Aggregator struct{}

// NewAggregator constructs an Aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

func scopedQuery(tx *gorm.DB, userID uint64, mode carbon.TransportMode, from, to time.Time) *gorm.DB {
	// A trip counts only when it lies entirely inside the window; a trip
	// that starts before the window opens or ends after it closes is out.
	query := tx.Model(&MobilityLog{}).
		Where("user_id = ? AND started_at >= ? AND ended_at <= ?", userID, from, to)
	if mode != carbon.ModeAny {
		query = query.Where("mode = ?", mode)
	}
	return query
}

// SumCO2SavedTx totals grams saved by the user's trips in the window.
func (a *Aggregator) SumCO2SavedTx(tx *gorm.DB, userID uint64, mode carbon.TransportMode, from, to time.Time) (float64, error) {
	var total float64
	err := scopedQuery(tx, userID, mode, from, to).
		Select("COALESCE(SUM(co2_saved_g), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}

// SumDistanceTx totals kilometres covered by the user's trips in the window.
func (a *Aggregator) SumDistanceTx(tx *gorm.DB, userID uint64, mode carbon.TransportMode, from, to time.Time) (float64, error) {
	var total float64
	err := scopedQuery(tx, userID, mode, from, to).
		Select("COALESCE(SUM(distance_km), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}

// CountTripsTx counts the user's trips in the window.
func (a *Aggregator) CountTripsTx(tx *gorm.DB, userID uint64, mode carbon.TransportMode, from, to time.Time) (int64, error) {
	var count int64
	err := scopedQuery(tx, userID, mode, from, to).Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}
