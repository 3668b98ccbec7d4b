package challenges

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/greenloop-labs/greenloop/backend/internal/carbon"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrNotFound indicates a lookup for a challenge that does not exist.
	ErrNotFound = errors.New("challenges: challenge not found")
	// ErrAlreadyJoined indicates a duplicate join attempt for the same pair.
	ErrAlreadyJoined = errors.New("challenges: already joined")
	// ErrNotJoinable indicates a join against a completed or cancelled challenge.
	ErrNotJoinable = errors.New("challenges: challenge is not joinable")
	// ErrInvalidInput indicates a malformed challenge definition.
	ErrInvalidInput = errors.New("challenges: invalid input")

	noOpLogger = zap.NewNop()
)

// TripAggregator exposes the mobility-ledger aggregates the engine measures
// progress with. ModeAny matches trips of every mode.
type TripAggregator interface {
	SumCO2SavedTx(tx *gorm.DB, userID uint64, mode carbon.TransportMode, from, to time.Time) (float64, error)
	SumDistanceTx(tx *gorm.DB, userID uint64, mode carbon.TransportMode, from, to time.Time) (float64, error)
	CountTripsTx(tx *gorm.DB, userID uint64, mode carbon.TransportMode, from, to time.Time) (int64, error)
}

// Events receives completion notifications. Optional.
type Events interface {
	ChallengeCompleted(userID, challengeID uint64, title string)
}

// ServiceConfig describes the dependencies of the challenge engine.
type ServiceConfig struct {
	Database *gorm.DB
	Trips    TripAggregator
	Clock    func() time.Time
	Events   Events
	Logger   *zap.Logger
}

// Service drives personal challenge membership and progress accounting.
type Service struct {
	db     *gorm.DB
	trips  TripAggregator
	clock  func() time.Time
	events Events
	logger *zap.Logger
}

// NewService constructs the challenge engine.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("challenges: database connection required")
	}
	if cfg.Trips == nil {
		return nil, fmt.Errorf("challenges: trip aggregator required")
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
		db:     cfg.Database,
		trips:  cfg.Trips,
		clock:  clock,
		events: cfg.Events,
		logger: logger,
	}, nil
}

// CreateInput defines a new challenge.
type CreateInput struct {
	Title           string
	Description     string
	Scope           Scope
	TargetMode      carbon.TransportMode
	GoalType        GoalType
	GoalTargetValue float64
	StartAt         time.Time
	EndAt           time.Time
	Reward          string
	CreatedBy       uint64
}

// Create persists a new challenge in UPCOMING or ACTIVE state depending on
// its window.
func (s *Service) Create(ctx context.Context, input CreateInput) (*Challenge, error) {
	if input.Title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if !input.EndAt.After(input.StartAt) {
		return nil, fmt.Errorf("%w: end must be after start", ErrInvalidInput)
	}
	switch input.GoalType {
	case GoalCO2Saved, GoalDistanceKM, GoalTripCount:
	default:
		return nil, fmt.Errorf("%w: unknown goal type %q", ErrInvalidInput, input.GoalType)
	}

	scope := input.Scope
	if scope == "" {
		scope = ScopePersonal
	}
	targetMode := input.TargetMode
	if targetMode == "" {
		targetMode = carbon.ModeAny
	}

	now := s.clock().UTC()
	challenge := &Challenge{
		Title:           input.Title,
		Description:     input.Description,
		Scope:           scope,
		TargetMode:      targetMode,
		GoalType:        input.GoalType,
		GoalTargetValue: input.GoalTargetValue,
		StartAt:         input.StartAt.UTC(),
		EndAt:           input.EndAt.UTC(),
		Reward:          input.Reward,
		Status:          statusAsOf(input.StartAt.UTC(), input.EndAt.UTC(), now),
		CreatedBy:       input.CreatedBy,
		CreatedAt:       now,
	}
	if err := s.db.WithContext(ctx).Create(challenge).Error; err != nil {
		return nil, err
	}
	return challenge, nil
}

// SuggestedChallenge is the shape produced by the chatbot recommendation flow.
type SuggestedChallenge struct {
	Title            string
	Description      string
	Reward           string
	TargetMode       carbon.TransportMode
	TargetSavedG     float64
	TargetDistanceKM float64
}

const suggestedChallengeDays = 7

// CreateAndJoin creates a week-long personal challenge from a chatbot
// suggestion and enrolls the user in it.
func (s *Service) CreateAndJoin(ctx context.Context, userID uint64, suggestion SuggestedChallenge) (*Challenge, error) {
	goalType := GoalCO2Saved
	goalValue := suggestion.TargetSavedG
	if suggestion.TargetDistanceKM > 0 {
		goalType = GoalDistanceKM
		goalValue = suggestion.TargetDistanceKM
	}
	if goalValue <= 0 {
		goalType = GoalTripCount
		goalValue = 1
	}

	targetMode := suggestion.TargetMode
	if targetMode == "" {
		targetMode = carbon.ModeAny
	}

	now := s.clock().UTC()
	challenge := &Challenge{
		Title:           suggestion.Title,
		Description:     suggestion.Description,
		Scope:           ScopePersonal,
		TargetMode:      targetMode,
		GoalType:        goalType,
		GoalTargetValue: goalValue,
		StartAt:         now,
		EndAt:           now.AddDate(0, 0, suggestedChallengeDays),
		Reward:          suggestion.Reward,
		Status:          StatusActive,
		CreatedBy:       userID,
		CreatedAt:       now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(challenge).Error; err != nil {
			return err
		}
		return tx.Create(&Membership{
			ChallengeID: challenge.ID,
			UserID:      userID,
			JoinedAt:    now,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return challenge, nil
}

// Join enrolls a user once per challenge. Completed and cancelled challenges
// reject joins; duplicates conflict without touching the existing row.
func (s *Service) Join(ctx context.Context, userID, challengeID uint64) error {
	now := s.clock().UTC()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var challenge Challenge
		err := tx.Where("id = ?", challengeID).Take(&challenge).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if challenge.Status == StatusCompleted || challenge.Status == StatusCancelled {
			return ErrNotJoinable
		}

		var count int64
		if err := tx.Model(&Membership{}).
			Where("challenge_id = ? AND user_id = ?", challengeID, userID).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrAlreadyJoined
		}

		return tx.Create(&Membership{
			ChallengeID: challengeID,
			UserID:      userID,
			JoinedAt:    now,
		}).Error
	})
}

// Cancel marks a challenge cancelled. Cancellation is only ever externally
// triggered; no automatic transition produces it.
func (s *Service) Cancel(ctx context.Context, challengeID uint64) error {
	result := s.db.WithContext(ctx).Model(&Challenge{}).
		Where("id = ? AND status IN ?", challengeID, []Status{StatusUpcoming, StatusActive}).
		Update("status", StatusCancelled)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Progress computes the caller's standing in a challenge, completing the
// challenge when the goal is reached.
func (s *Service) Progress(ctx context.Context, userID, challengeID uint64) (Progress, error) {
	var progress Progress
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var challenge Challenge
		err := tx.Where("id = ?", challengeID).Take(&challenge).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		progress, err = s.progressTx(tx, userID, &challenge)
		return err
	})
	return progress, err
}

// List returns every challenge annotated with the caller's participation and
// live progress. The status sweep runs first so date-driven transitions are
// visible before progress is read.
func (s *Service) List(ctx context.Context, userID uint64) ([]View, error) {
	var views []View
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.AdvanceStatusesTx(tx, s.clock().UTC()); err != nil {
			return err
		}

		var all []Challenge
		if err := tx.Where("scope = ?", ScopePersonal).Order("id").Find(&all).Error; err != nil {
			return err
		}

		var memberships []Membership
		if err := tx.Where("user_id = ?", userID).Find(&memberships).Error; err != nil {
			return err
		}
		joined := make(map[uint64]bool, len(memberships))
		for _, m := range memberships {
			joined[m.ChallengeID] = true
		}

		views = make([]View, 0, len(all))
		for i := range all {
			view := View{Challenge: all[i], IsJoined: joined[all[i].ID]}
			if view.IsJoined {
				progress, err := s.progressTx(tx, userID, &all[i])
				if err != nil {
					return err
				}
				view.Progress = progress.Percent
				view.Challenge.Status = progress.Status
			}
			views = append(views, view)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return views, nil
}

// RefreshUserChallengesTx recomputes progress for every joined challenge
// whose window covers asOf, completing those that reached their goal. Called
// from mobility logging inside the same transaction as the trip insert.
func (s *Service) RefreshUserChallengesTx(tx *gorm.DB, userID uint64, asOf time.Time) error {
	var joinedChallenges []Challenge
	err := tx.
		Joins("JOIN challenge_members ON challenge_members.challenge_id = challenges.id").
		Where("challenge_members.user_id = ?", userID).
		Where("challenges.status IN ?", []Status{StatusUpcoming, StatusActive}).
		Where("challenges.start_at <= ? AND challenges.end_at >= ?", asOf, asOf).
		Find(&joinedChallenges).Error
	if err != nil {
		return err
	}

	for i := range joinedChallenges {
		if _, err := s.progressTx(tx, userID, &joinedChallenges[i]); err != nil {
			return err
		}
	}
	return nil
}

// AdvanceStatusesTx applies the idempotent date sweep as of the supplied
// instant: UPCOMING challenges whose window opened become ACTIVE, ACTIVE
// challenges whose window closed become COMPLETED.
func (s *Service) AdvanceStatusesTx(tx *gorm.DB, asOf time.Time) error {
	err := tx.Model(&Challenge{}).
		Where("status = ? AND start_at <= ?", StatusUpcoming, asOf).
		Update("status", StatusActive).Error
	if err != nil {
		return err
	}
	return tx.Model(&Challenge{}).
		Where("status = ? AND end_at < ?", StatusActive, asOf).
		Update("status", StatusCompleted).Error
}

// AdvanceStatuses runs the date sweep in its own transaction.
func (s *Service) AdvanceStatuses(ctx context.Context, asOf time.Time) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.AdvanceStatusesTx(tx, asOf)
	})
}

func (s *Service) progressTx(tx *gorm.DB, userID uint64, challenge *Challenge) (Progress, error) {
	var value float64
	var err error
	switch challenge.GoalType {
	case GoalCO2Saved:
		value, err = s.trips.SumCO2SavedTx(tx, userID, challenge.TargetMode, challenge.StartAt, challenge.EndAt)
	case GoalDistanceKM:
		value, err = s.trips.SumDistanceTx(tx, userID, challenge.TargetMode, challenge.StartAt, challenge.EndAt)
	case GoalTripCount:
		var count int64
		count, err = s.trips.CountTripsTx(tx, userID, challenge.TargetMode, challenge.StartAt, challenge.EndAt)
		value = float64(count)
	default:
		return Progress{}, fmt.Errorf("%w: unknown goal type %q", ErrInvalidInput, challenge.GoalType)
	}
	if err != nil {
		return Progress{}, err
	}

	percent := 0.0
	if challenge.GoalTargetValue > 0 {
		percent = math.Min(100, value/challenge.GoalTargetValue*100)
	}

	status := challenge.Status
	if percent >= 100 && status != StatusCompleted && status != StatusCancelled {
		if err := tx.Model(&Challenge{}).
			Where("id = ?", challenge.ID).
			Update("status", StatusCompleted).Error; err != nil {
			return Progress{}, err
		}
		status = StatusCompleted
		challenge.Status = StatusCompleted
		if s.events != nil {
			s.events.ChallengeCompleted(userID, challenge.ID, challenge.Title)
		}
		s.logger.Info("challenge completed",
			zap.Uint64("user_id", userID),
			zap.Uint64("challenge_id", challenge.ID))
	}

	return Progress{
		ChallengeID: challenge.ID,
		Value:       value,
		Percent:     percent,
		Status:      status,
	}, nil
}

func statusAsOf(startAt, endAt, now time.Time) Status {
	switch {
	case now.Before(startAt):
		return StatusUpcoming
	case now.After(endAt):
		return StatusCompleted
	default:
		return StatusActive
	}
}
