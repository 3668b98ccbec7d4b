package mobility

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/greenloop-labs/greenloop/backend/internal/carbon"
	"github.com/greenloop-labs/greenloop/backend/internal/credits"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrInvalidTrip indicates a malformed trip payload.
	ErrInvalidTrip = errors.New("mobility: invalid trip")

	noOpLogger = zap.NewNop()
)

// ChallengeRefresher recomputes the user's personal challenge progress
// inside the trip-logging transaction.
type ChallengeRefresher interface {
	RefreshUserChallengesTx(tx *gorm.DB, userID uint64, asOf time.Time) error
}

// ContributionRecorder accrues the trip onto group challenge contributions
// inside the trip-logging transaction.
type ContributionRecorder interface {
	RecordContributionTx(tx *gorm.DB, userID uint64, mode carbon.TransportMode, co2SavedG, distanceKM float64, asOf time.Time) error
}

// Publisher emits a realtime event after the trip commits.
type Publisher interface {
	TripLogged(userID uint64, log *MobilityLog)
}

// ServiceConfig describes the dependencies of the trip service.
type ServiceConfig struct {
	Database      *gorm.DB
	Factors       *carbon.FactorTable
	Ledger        *credits.Service
	Challenges    ChallengeRefresher
	Contributions ContributionRecorder
	Publisher     Publisher
	Clock         func() time.Time
	Logger        *zap.Logger
}

// Service records trips and drives the downstream accounting that hangs off
// each one.
type Service struct {
	db            *gorm.DB
	factors       *carbon.FactorTable
	ledger        *credits.Service
	challenges    ChallengeRefresher
	contributions ContributionRecorder
	publisher     Publisher
	clock         func() time.Time
	logger        *zap.Logger
}

// NewService constructs the trip service. Challenges, Contributions and
// Publisher are optional consumers.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("mobility: database connection required")
	}
	if cfg.Factors == nil {
		return nil, fmt.Errorf("mobility: factor table required")
	}
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("mobility: credit ledger required")
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
		db:            cfg.Database,
		factors:       cfg.Factors,
		ledger:        cfg.Ledger,
		challenges:    cfg.Challenges,
		contributions: cfg.Contributions,
		publisher:     cfg.Publisher,
		clock:         clock,
		logger:        logger,
	}, nil
}

// TripInput is one trip as submitted by the client.
type TripInput struct {
	Mode       carbon.TransportMode
	DistanceKM float64
	StartedAt  time.Time
	EndedAt    time.Time
	StartPoint string
	EndPoint   string
}

func (input TripInput) validate() error {
	if _, err := carbon.ParseMode(string(input.Mode)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTrip, err)
	}
	if input.DistanceKM <= 0 {
		return fmt.Errorf("%w: distance must be positive", ErrInvalidTrip)
	}
	if input.StartedAt.IsZero() || input.EndedAt.IsZero() {
		return fmt.Errorf("%w: trip interval is required", ErrInvalidTrip)
	}
	if input.EndedAt.Before(input.StartedAt) {
		return fmt.Errorf("%w: trip cannot end before it starts", ErrInvalidTrip)
	}
	return nil
}

// LogTrip records a trip atomically with every downstream effect: the trip
// row, the EARN ledger entry, group challenge contributions, and personal
// challenge refresh all commit or roll back together. The realtime event is
// published only after the commit.
func (s *Service) LogTrip(ctx context.Context, userID uint64, input TripInput) (*MobilityLog, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}

	now := s.clock().UTC()
	log := &MobilityLog{
		UserID:     userID,
		Mode:       input.Mode,
		DistanceKM: input.DistanceKM,
		StartedAt:  input.StartedAt.UTC(),
		EndedAt:    input.EndedAt.UTC(),
		StartPoint: input.StartPoint,
		EndPoint:   input.EndPoint,
		CreatedAt:  now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		savings, err := s.factors.SavingsForTx(tx, log.Mode, log.DistanceKM, log.StartedAt, log.EndedAt)
		if err != nil {
			return err
		}
		log.CO2BaselineG = savings.BaselineG
		log.CO2ActualG = savings.ActualG
		log.CO2SavedG = savings.SavedG
		log.PointsEarned = savings.Points

		if err := tx.Create(log).Error; err != nil {
			return err
		}

		if log.PointsEarned > 0 {
			reason := fmt.Sprintf("Mobility: %s for %.2f km", log.Mode, log.DistanceKM)
			refID := log.ID
			_, err := s.ledger.EarnTx(tx, userID, log.PointsEarned, reason, &refID, map[string]interface{}{
				"mode":        string(log.Mode),
				"distance_km": log.DistanceKM,
				"co2_saved_g": log.CO2SavedG,
			})
			if err != nil {
				return err
			}
		}

		if s.contributions != nil {
			err := s.contributions.RecordContributionTx(tx, userID, log.Mode, log.CO2SavedG, log.DistanceKM, now)
			if err != nil {
				return err
			}
		}
		if s.challenges != nil {
			if err := s.challenges.RefreshUserChallengesTx(tx, userID, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("trip logged",
		zap.Uint64("user_id", userID),
		zap.String("mode", string(log.Mode)),
		zap.Float64("distance_km", log.DistanceKM),
		zap.Float64("co2_saved_g", log.CO2SavedG),
		zap.Int64("points", log.PointsEarned))

	if s.publisher != nil {
		s.publisher.TripLogged(userID, log)
	}
	return log, nil
}

// History lists the user's trips newest first.
func (s *Service) History(ctx context.Context, userID uint64, limit, offset int) ([]MobilityLog, error) {
	if limit <= 0 {
		limit = 20
	}
	var logs []MobilityLog
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("started_at DESC, id DESC").
		Limit(limit).
		Offset(offset).
		Find(&logs).Error
	if err != nil {
		return nil, err
	}
	return logs, nil
}

// Totals aggregates a user's lifetime trip footprint.
func (s *Service) Totals(ctx context.Context, userID uint64) (UserTotals, error) {
	totals := UserTotals{UserID: userID}
	err := s.db.WithContext(ctx).Model(&MobilityLog{}).
		Where("user_id = ?", userID).
		Select("COUNT(*) AS total_trips, COALESCE(SUM(distance_km), 0) AS distance_km, COALESCE(SUM(co2_saved_g), 0) AS co2_saved_g, COALESCE(SUM(points_earned), 0) AS points").
		Scan(&totals).Error
	if err != nil {
		return UserTotals{}, err
	}
	return totals, nil
}

// Leaderboard ranks all users by CO2 saved since the supplied instant.
func (s *Service) Leaderboard(ctx context.Context, since time.Time, limit int) ([]LeaderboardRow, error) {
	if limit <= 0 {
		limit = 10
	}
	var rows []LeaderboardRow
	err := s.db.WithContext(ctx).Model(&MobilityLog{}).
		Select("mobility_logs.user_id, users.username, COALESCE(SUM(mobility_logs.co2_saved_g), 0) AS co2_saved_g").
		Joins("JOIN users ON users.id = mobility_logs.user_id").
		Where("mobility_logs.started_at >= ?", since).
		Group("mobility_logs.user_id, users.username").
		Order("co2_saved_g DESC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for i := range rows {
		rows[i].Rank = i + 1
	}
	return rows, nil
}
