package challenges

import (
	"time"

	"github.com/greenloop-labs/greenloop/backend/internal/carbon"
)

// Scope separates personal challenges from group-wide ones.
type Scope string

const (
	ScopePersonal Scope = "PERSONAL"
	ScopeGroup    Scope = "GROUP"
)

// GoalType selects the aggregate a challenge measures progress against.
type GoalType string

const (
	GoalCO2Saved   GoalType = "CO2_SAVED"
	GoalDistanceKM GoalType = "DISTANCE_KM"
	GoalTripCount  GoalType = "TRIP_COUNT"
)

// Status is the lifecycle state of a challenge.
type Status string

const (
	StatusUpcoming  Status = "UPCOMING"
	StatusActive    Status = "ACTIVE"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

// Challenge is a goal over a time window that users join and progress toward.
type Challenge struct {
	ID              uint64               `gorm:"column:id;primaryKey;autoIncrement"`
	Title           string               `gorm:"column:title;size:100;not null"`
	Description     string               `gorm:"column:description;size:255"`
	Scope           Scope                `gorm:"column:scope;size:16;not null;default:PERSONAL"`
	TargetMode      carbon.TransportMode `gorm:"column:target_mode;size:16;not null;default:ANY"`
	GoalType        GoalType             `gorm:"column:goal_type;size:16;not null"`
	GoalTargetValue float64              `gorm:"column:goal_target_value;not null"`
	StartAt         time.Time            `gorm:"column:start_at;not null"`
	EndAt           time.Time            `gorm:"column:end_at;not null"`
	Reward          string               `gorm:"column:reward;size:255"`
	Status          Status               `gorm:"column:status;size:16;not null;default:UPCOMING;index"`
	CreatedBy       uint64               `gorm:"column:created_by"`
	CreatedAt       time.Time            `gorm:"column:created_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Challenge) TableName() string {
	return "challenges"
}

// Membership records that a user joined a challenge. One row per pair.
type Membership struct {
	ChallengeID uint64    `gorm:"column:challenge_id;primaryKey"`
	UserID      uint64    `gorm:"column:user_id;primaryKey"`
	JoinedAt    time.Time `gorm:"column:joined_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Membership) TableName() string {
	return "challenge_members"
}

// Progress is a point-in-time view of a user's standing in a challenge.
type Progress struct {
	ChallengeID uint64
	Value       float64
	Percent     float64
	Status      Status
}

// View is a challenge annotated with the caller's participation.
type View struct {
	Challenge Challenge
	IsJoined  bool
	Progress  float64
}
