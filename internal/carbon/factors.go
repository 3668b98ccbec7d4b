package carbon

import (
	"errors"
	"math"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

// FactorTableConfig describes the dependencies of the factor table.
type FactorTableConfig struct {
	Database *gorm.DB
	// CreditPerGram converts grams of CO2 saved into whole points, floored.
	CreditPerGram float64
	Logger        *zap.Logger
}

// FactorTable resolves emission factors and computes trip savings. Savings
// are measured against the car baseline: a trip by a cleaner mode saves the
// difference between the car rate and the mode rate over the distance.
type FactorTable struct {
	db            *gorm.DB
	creditPerGram float64
	logger        *zap.Logger
}

// NewFactorTable constructs a FactorTable.
func NewFactorTable(cfg FactorTableConfig) (*FactorTable, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	perGram := cfg.CreditPerGram
	if perGram < 0 {
		perGram = 0
	}
	return &FactorTable{
		db:            cfg.Database,
		creditPerGram: perGram,
		logger:        logger,
	}, nil
}

// Savings is the accounting outcome for a single trip.
type Savings struct {
	BaselineG float64
	ActualG   float64
	SavedG    float64
	Points    int64
}

// FactorForTx returns the grams-per-km rate whose validity window covers the
// trip interval. A missing factor is not fatal: the zero rate is returned
// with found=false so callers can degrade to zero savings.
func (t *FactorTable) FactorForTx(tx *gorm.DB, mode TransportMode, startedAt, endedAt time.Time) (float64, bool, error) {
	var factor Factor
	err := tx.
		Where("mode = ? AND valid_from <= ? AND valid_to >= ?", mode, startedAt, endedAt).
		Order("valid_from DESC").
		Take(&factor).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return factor.GramsPerKM, true, nil
}

// SavingsForTx computes CO2 saved and points earned for a trip within the
// supplied transaction. A trip saves max(0, (car − mode) × distance) grams;
// car trips therefore save nothing. Missing factor rows degrade to zero
// savings with a logged warning rather than failing the trip.
func (t *FactorTable) SavingsForTx(tx *gorm.DB, mode TransportMode, distanceKM float64, startedAt, endedAt time.Time) (Savings, error) {
	modeRate, found, err := t.FactorForTx(tx, mode, startedAt, endedAt)
	if err != nil {
		return Savings{}, err
	}
	if !found {
		t.logger.Warn("no carbon factor covers trip; savings set to zero",
			zap.String("mode", string(mode)),
			zap.Time("started_at", startedAt),
			zap.Time("ended_at", endedAt))
		return Savings{}, nil
	}

	carRate, carFound, err := t.FactorForTx(tx, ModeCar, startedAt, endedAt)
	if err != nil {
		return Savings{}, err
	}
	if !carFound {
		t.logger.Warn("no car baseline factor covers trip; savings set to zero",
			zap.Time("started_at", startedAt),
			zap.Time("ended_at", endedAt))
		return Savings{}, nil
	}

	saved := (carRate - modeRate) * distanceKM
	if saved < 0 {
		saved = 0
	}

	return Savings{
		BaselineG: carRate * distanceKM,
		ActualG:   modeRate * distanceKM,
		SavedG:    saved,
		Points:    int64(math.Floor(saved * t.creditPerGram)),
	}, nil
}

// Savings computes trip savings outside an enclosing transaction.
func (t *FactorTable) Savings(mode TransportMode, distanceKM float64, startedAt, endedAt time.Time) (Savings, error) {
	return t.SavingsForTx(t.db, mode, distanceKM, startedAt, endedAt)
}
