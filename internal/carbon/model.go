package carbon

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// TransportMode enumerates the trip modes the factor table knows about.
type TransportMode string

const (
	ModeBus    TransportMode = "BUS"
	ModeSubway TransportMode = "SUBWAY"
	ModeBike   TransportMode = "BIKE"
	ModeWalk   TransportMode = "WALK"
	ModeCar    TransportMode = "CAR"
	// ModeAny is only valid as a challenge target, never as a trip mode.
	ModeAny TransportMode = "ANY"
)

// ErrUnknownMode indicates a transport mode outside the supported set.
var ErrUnknownMode = errors.New("carbon: unknown transport mode")

// ParseMode validates raw input and returns a TransportMode.
func ParseMode(rawInput string) (TransportMode, error) {
	switch mode := TransportMode(strings.ToUpper(strings.TrimSpace(rawInput))); mode {
	case ModeBus, ModeSubway, ModeBike, ModeWalk, ModeCar:
		return mode, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, rawInput)
	}
}

// ParseTargetMode is ParseMode extended with the ANY wildcard.
func ParseTargetMode(rawInput string) (TransportMode, error) {
	if strings.ToUpper(strings.TrimSpace(rawInput)) == string(ModeAny) {
		return ModeAny, nil
	}
	return ParseMode(rawInput)
}

// Factor models a grams-per-kilometre emission rate for a transport mode,
// bounded by a validity window. Past rows are immutable; rate changes append
// new rows.
type Factor struct {
	ID         uint64        `gorm:"column:id;primaryKey;autoIncrement"`
	Mode       TransportMode `gorm:"column:mode;size:16;not null;index:idx_factors_mode_window,priority:1"`
	GramsPerKM float64       `gorm:"column:grams_per_km;not null"`
	ValidFrom  time.Time     `gorm:"column:valid_from;not null;index:idx_factors_mode_window,priority:2"`
	ValidTo    time.Time     `gorm:"column:valid_to;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Factor) TableName() string {
	return "carbon_factors"
}
