package mobility

import (
	"time"

	"github.com/greenloop-labs/greenloop/backend/internal/carbon"
)

// MobilityLog is one recorded trip with its frozen accounting outcome. The
// CO2 and points columns are computed once at logging time; later factor
// changes never rewrite history.
type MobilityLog struct {
	ID           uint64               `gorm:"column:id;primaryKey;autoIncrement"`
	UserID       uint64               `gorm:"column:user_id;not null;index:idx_mobility_user_time,priority:1"`
	Mode         carbon.TransportMode `gorm:"column:mode;size:16;not null"`
	DistanceKM   float64              `gorm:"column:distance_km;not null"`
	StartedAt    time.Time            `gorm:"column:started_at;not null;index:idx_mobility_user_time,priority:2"`
	EndedAt      time.Time            `gorm:"column:ended_at;not null"`
	StartPoint   string               `gorm:"column:start_point;size:120"`
	EndPoint     string               `gorm:"column:end_point;size:120"`
	CO2BaselineG float64              `gorm:"column:co2_baseline_g;not null"`
	CO2ActualG   float64              `gorm:"column:co2_actual_g;not null"`
	CO2SavedG    float64              `gorm:"column:co2_saved_g;not null"`
	PointsEarned int64                `gorm:"column:points_earned;not null"`
	CreatedAt    time.Time            `gorm:"column:created_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (MobilityLog) TableName() string {
	return "mobility_logs"
}

// UserTotals aggregates a user's lifetime trip footprint.
type UserTotals struct {
	UserID     uint64  `json:"user_id"`
	TotalTrips int64   `json:"total_trips"`
	DistanceKM float64 `json:"distance_km"`
	CO2SavedG  float64 `json:"co2_saved_g"`
	Points     int64   `json:"points"`
}

// LeaderboardRow is one line of the global trip leaderboard.
type LeaderboardRow struct {
	UserID    uint64  `json:"user_id"`
	Username  string  `json:"username"`
	CO2SavedG float64 `json:"co2_saved_g"`
	Rank      int     `json:"rank"`
}
