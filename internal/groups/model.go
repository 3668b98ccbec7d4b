package groups

import (
	"time"

	"github.com/greenloop-labs/greenloop/backend/internal/carbon"
	"github.com/greenloop-labs/greenloop/backend/internal/challenges"
)

// MemberRole separates the group leader from regular members.
type MemberRole string

const (
	RoleLeader MemberRole = "LEADER"
	RoleMember MemberRole = "MEMBER"
)

// Group is a named circle of users competing and collaborating together.
type Group struct {
	ID          uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	Name        string    `gorm:"column:name;size:100;not null"`
	Description string    `gorm:"column:description;size:255"`
	InviteCode  string    `gorm:"column:invite_code;size:36;not null;uniqueIndex"`
	CreatedBy   uint64    `gorm:"column:created_by;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Group) TableName() string {
	return "groups"
}

// Member binds a user to a group. Leaving flips is_active rather than
// deleting the row so past contributions stay attributable.
type Member struct {
	ID       uint64     `gorm:"column:id;primaryKey;autoIncrement"`
	GroupID  uint64     `gorm:"column:group_id;not null;index:idx_group_members_pair,priority:1,unique"`
	UserID   uint64     `gorm:"column:user_id;not null;index:idx_group_members_pair,priority:2,unique"`
	Role     MemberRole `gorm:"column:role;size:16;not null;default:MEMBER"`
	IsActive bool       `gorm:"column:is_active;not null;default:true"`
	JoinedAt time.Time  `gorm:"column:joined_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Member) TableName() string {
	return "group_members"
}

// GroupChallenge is a collective goal scoped to one group. Progress is the
// sum of every participant's contribution.
type GroupChallenge struct {
	ID              uint64               `gorm:"column:id;primaryKey;autoIncrement"`
	GroupID         uint64               `gorm:"column:group_id;not null;index"`
	Title           string               `gorm:"column:title;size:100;not null"`
	Description     string               `gorm:"column:description;size:255"`
	TargetMode      carbon.TransportMode `gorm:"column:target_mode;size:16;not null;default:ANY"`
	GoalType        challenges.GoalType  `gorm:"column:goal_type;size:16;not null"`
	GoalTargetValue float64              `gorm:"column:goal_target_value;not null"`
	StartAt         time.Time            `gorm:"column:start_at;not null"`
	EndAt           time.Time            `gorm:"column:end_at;not null"`
	Reward          string               `gorm:"column:reward;size:255"`
	Status          challenges.Status    `gorm:"column:status;size:16;not null;default:UPCOMING;index"`
	CreatedBy       uint64               `gorm:"column:created_by;not null"`
	CreatedAt       time.Time            `gorm:"column:created_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (GroupChallenge) TableName() string {
	return "group_challenges"
}

// GroupChallengeMember records participation in a group challenge along with
// the participant's accrued contribution toward the collective goal.
type GroupChallengeMember struct {
	ID               uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	GroupChallengeID uint64    `gorm:"column:group_challenge_id;not null;index:idx_gc_members_pair,priority:1,unique"`
	UserID           uint64    `gorm:"column:user_id;not null;index:idx_gc_members_pair,priority:2,unique"`
	Contribution     float64   `gorm:"column:contribution;not null;default:0"`
	JoinedAt         time.Time `gorm:"column:joined_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (GroupChallengeMember) TableName() string {
	return "group_challenge_members"
}

// MemberView is a group member joined with their account identity.
type MemberView struct {
	UserID   uint64     `json:"user_id"`
	Username string     `json:"username"`
	Role     MemberRole `json:"role"`
	JoinedAt time.Time  `json:"joined_at"`
}

// Detail is a group with its active membership expanded.
type Detail struct {
	Group   Group        `json:"group"`
	Members []MemberView `json:"members"`
}

// RankingRow is one line of the group leaderboard.
type RankingRow struct {
	UserID     uint64  `json:"user_id"`
	Username   string  `json:"username"`
	CO2SavedG  float64 `json:"co2_saved_g"`
	TotalTrips int64   `json:"total_trips"`
	Rank       int     `json:"rank"`
}

// GroupRankingRow is one line of the global group leaderboard.
type GroupRankingRow struct {
	GroupID     uint64  `json:"group_id"`
	Name        string  `json:"name"`
	MemberCount int     `json:"member_count"`
	CO2SavedG   float64 `json:"co2_saved_g"`
	Rank        int     `json:"rank"`
}

// ChallengeView is a group challenge annotated with collective progress and
// the caller's participation.
type ChallengeView struct {
	Challenge       GroupChallenge `json:"challenge"`
	IsJoined        bool           `json:"is_joined"`
	CollectiveValue float64        `json:"collective_value"`
	Percent         float64        `json:"percent"`
}

// ParticipantProgress is one participant's share of a group challenge.
type ParticipantProgress struct {
	UserID       uint64  `json:"user_id"`
	Username     string  `json:"username"`
	Contribution float64 `json:"contribution"`
	SharePercent float64 `json:"share_percent"`
}
