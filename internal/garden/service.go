package garden

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/greenloop-labs/greenloop/backend/internal/credits"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var noOpLogger = zap.NewNop()

const wateringReason = "GARDEN_WATERING"

// Publisher emits a realtime event when a garden reaches a new level.
type Publisher interface {
	GardenLeveledUp(userID uint64, newLevel int, levelName string)
}

// ServiceConfig describes the dependencies of the garden service.
type ServiceConfig struct {
	Database     *gorm.DB
	Ledger       *credits.Service
	WateringCost int64
	Publisher    Publisher
	Clock        func() time.Time
	Logger       *zap.Logger
}

// Service manages garden watering and level progression.
type Service struct {
	db           *gorm.DB
	ledger       *credits.Service
	wateringCost int64
	publisher    Publisher
	clock        func() time.Time
	logger       *zap.Logger
}

// NewService constructs the garden service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("garden: database connection required")
	}
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("garden: credit ledger required")
	}
	if cfg.WateringCost <= 0 {
		return nil, fmt.Errorf("garden: watering cost must be positive")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:           cfg.Database,
		ledger:       cfg.Ledger,
		wateringCost: cfg.WateringCost,
		publisher:    cfg.Publisher,
		clock:        clock,
		logger:       logger,
	}, nil
}

// Status returns the caller's garden, creating it at level one on first
// touch.
func (s *Service) Status(ctx context.Context, userID uint64) (Status, error) {
	var status Status
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		garden, err := s.getOrCreateTx(tx, userID)
		if err != nil {
			return err
		}
		status, err = s.statusTx(tx, garden)
		return err
	})
	return status, err
}

// Water spends points and waters the garden. The spend, the watering log and
// the counter update share one transaction so the balance can never go
// negative and a level-up can never be lost. Reaching the required watering
// count advances the level and resets the counter; excess waters are not
// carried over.
func (s *Service) Water(ctx context.Context, userID uint64) (WaterOutcome, error) {
	var outcome WaterOutcome
	var leveledTo *Level

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		garden, err := s.getOrCreateTx(tx, userID)
		if err != nil {
			return err
		}

		if _, err := s.ledger.SpendTx(tx, userID, s.wateringCost, wateringReason, map[string]interface{}{
			"garden_id": garden.ID,
			"level":     garden.Level,
		}); err != nil {
			return err
		}

		now := s.clock().UTC()
		garden.WatersCount++
		garden.TotalWaters++
		garden.LastWateredAt = &now
		garden.UpdatedAt = now

		current, err := s.levelTx(tx, garden.Level)
		if err != nil {
			return err
		}

		// The terminal level carries required_waters = 0; the > 0 guard
		// keeps it from ever advancing.
		if current.RequiredWaters > 0 && garden.WatersCount >= current.RequiredWaters {
			var next Level
			err := tx.Where("level = ?", garden.Level+1).Take(&next).Error
			if err == nil {
				garden.Level = next.Level
				garden.WatersCount = 0
				leveledTo = &next
			} else if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
		}

		if err := tx.Save(garden).Error; err != nil {
			return err
		}

		if err := tx.Create(&WateringLog{
			GardenID:   garden.ID,
			UserID:     userID,
			PointsCost: s.wateringCost,
			LevelAfter: garden.Level,
			CreatedAt:  now,
		}).Error; err != nil {
			return err
		}

		balance, err := s.ledger.BalanceTx(tx, userID)
		if err != nil {
			return err
		}

		status, err := s.statusTx(tx, garden)
		if err != nil {
			return err
		}

		outcome = WaterOutcome{
			Status:      status,
			LeveledUp:   leveledTo != nil,
			PointsSpent: s.wateringCost,
			Balance:     balance,
		}
		return nil
	})
	if err != nil {
		return WaterOutcome{}, err
	}

	if leveledTo != nil {
		s.logger.Info("garden leveled up",
			zap.Uint64("user_id", userID),
			zap.Int("level", leveledTo.Level))
		if s.publisher != nil {
			s.publisher.GardenLeveledUp(userID, leveledTo.Level, leveledTo.Name)
		}
	}
	return outcome, nil
}

// History lists the user's waterings newest first.
func (s *Service) History(ctx context.Context, userID uint64, limit, offset int) ([]WateringLog, error) {
	if limit <= 0 {
		limit = 20
	}
	var logs []WateringLog
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Offset(offset).
		Find(&logs).Error
	if err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Service) getOrCreateTx(tx *gorm.DB, userID uint64) (*Garden, error) {
	var garden Garden
	err := tx.Where("user_id = ?", userID).Take(&garden).Error
	if err == nil {
		return &garden, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	now := s.clock().UTC()
	garden = Garden{
		UserID:    userID,
		Level:     1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.Create(&garden).Error; err != nil {
		return nil, err
	}
	return &garden, nil
}

func (s *Service) levelTx(tx *gorm.DB, level int) (*Level, error) {
	var row Level
	err := tx.Where("level = ?", level).Take(&row).Error
	if err != nil {
		return nil, fmt.Errorf("garden: level %d is not defined: %w", level, err)
	}
	return &row, nil
}

func (s *Service) statusTx(tx *gorm.DB, garden *Garden) (Status, error) {
	level, err := s.levelTx(tx, garden.Level)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Garden:         *garden,
		LevelName:      level.Name,
		ImageKey:       level.ImageKey,
		RequiredWaters: level.RequiredWaters,
		IsMaxLevel:     level.RequiredWaters == 0,
	}, nil
}
