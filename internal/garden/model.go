package garden

import "time"

// Level is one rung of the garden progression ladder. The terminal level
// carries required_waters = 0 and is never advanced past.
type Level struct {
	Level          int    `gorm:"column:level;primaryKey"`
	Name           string `gorm:"column:name;size:50;not null"`
	ImageKey       string `gorm:"column:image_key;size:50;not null"`
	RequiredWaters int    `gorm:"column:required_waters;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Level) TableName() string {
	return "garden_levels"
}

// Garden is one user's plant. Created lazily on first touch.
type Garden struct {
	ID            uint64     `gorm:"column:id;primaryKey;autoIncrement"`
	UserID        uint64     `gorm:"column:user_id;not null;uniqueIndex"`
	Level         int        `gorm:"column:level;not null;default:1"`
	WatersCount   int        `gorm:"column:waters_count;not null;default:0"`
	TotalWaters   int        `gorm:"column:total_waters;not null;default:0"`
	LastWateredAt *time.Time `gorm:"column:last_watered_at"`
	CreatedAt     time.Time  `gorm:"column:created_at;not null"`
	UpdatedAt     time.Time  `gorm:"column:updated_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Garden) TableName() string {
	return "gardens"
}

// WateringLog records one watering and the level it left the garden at.
type WateringLog struct {
	ID         uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	GardenID   uint64    `gorm:"column:garden_id;not null;index"`
	UserID     uint64    `gorm:"column:user_id;not null;index"`
	PointsCost int64     `gorm:"column:points_cost;not null"`
	LevelAfter int       `gorm:"column:level_after;not null"`
	CreatedAt  time.Time `gorm:"column:created_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (WateringLog) TableName() string {
	return "garden_watering_logs"
}

// Status is the client-facing view of a garden.
type Status struct {
	Garden         Garden `json:"garden"`
	LevelName      string `json:"level_name"`
	ImageKey       string `json:"image_key"`
	RequiredWaters int    `json:"required_waters"`
	IsMaxLevel     bool   `json:"is_max_level"`
}

// WaterOutcome reports the result of one watering.
type WaterOutcome struct {
	Status      Status `json:"status"`
	LeveledUp   bool   `json:"leveled_up"`
	PointsSpent int64  `json:"points_spent"`
	Balance     int64  `json:"balance"`
}
