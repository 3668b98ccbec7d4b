package groups

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/greenloop-labs/greenloop/backend/internal/carbon"
	"github.com/greenloop-labs/greenloop/backend/internal/challenges"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrChallengeNotFound indicates a lookup for a group challenge that does
	// not exist.
	ErrChallengeNotFound = errors.New("groups: group challenge not found")
	// ErrChallengeNotJoinable indicates a join against a completed or
	// cancelled group challenge.
	ErrChallengeNotJoinable = errors.New("groups: group challenge is not joinable")
	// ErrAlreadyParticipating indicates a duplicate join for the same pair.
	ErrAlreadyParticipating = errors.New("groups: already participating")
)

// ChallengeEvents receives collective completion notifications. Optional.
type ChallengeEvents interface {
	GroupChallengeCompleted(groupID, challengeID uint64, title string, participantIDs []uint64)
}

// ChallengeServiceConfig describes the dependencies of the group challenge
// engine.
type ChallengeServiceConfig struct {
	Database *gorm.DB
	Groups   *Service
	Clock    func() time.Time
	Events   ChallengeEvents
	Logger   *zap.Logger
}

// ChallengeService drives collective challenges scoped to groups. Progress
// is not recomputed from trip history; each logged trip accrues onto the
// participant's contribution row as it happens.
type ChallengeService struct {
	db     *gorm.DB
	groups *Service
	clock  func() time.Time
	events ChallengeEvents
	logger *zap.Logger
}

// NewChallengeService constructs the group challenge engine.
func NewChallengeService(cfg ChallengeServiceConfig) (*ChallengeService, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("groups: database connection required")
	}
	if cfg.Groups == nil {
		return nil, fmt.Errorf("groups: group service required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &ChallengeService{
		db:     cfg.Database,
		groups: cfg.Groups,
		clock:  clock,
		events: cfg.Events,
		logger: logger,
	}, nil
}

// ChallengeInput defines a new group challenge.
type ChallengeInput struct {
	Title           string
	Description     string
	TargetMode      carbon.TransportMode
	GoalType        challenges.GoalType
	GoalTargetValue float64
	StartAt         time.Time
	EndAt           time.Time
	Reward          string
}

// CreateChallenge creates a collective challenge for the group. Leader only;
// the creator is enrolled as the first participant.
func (s *ChallengeService) CreateChallenge(ctx context.Context, userID, groupID uint64, input ChallengeInput) (*GroupChallenge, error) {
	if input.Title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if !input.EndAt.After(input.StartAt) {
		return nil, fmt.Errorf("%w: end must be after start", ErrInvalidInput)
	}
	if input.GoalTargetValue <= 0 {
		return nil, fmt.Errorf("%w: goal target must be positive", ErrInvalidInput)
	}
	switch input.GoalType {
	case challenges.GoalCO2Saved, challenges.GoalDistanceKM, challenges.GoalTripCount:
	default:
		return nil, fmt.Errorf("%w: unknown goal type %q", ErrInvalidInput, input.GoalType)
	}

	targetMode := input.TargetMode
	if targetMode == "" {
		targetMode = carbon.ModeAny
	}

	now := s.clock().UTC()
	status := challenges.StatusUpcoming
	if !now.Before(input.StartAt.UTC()) {
		status = challenges.StatusActive
	}

	challenge := &GroupChallenge{
		GroupID:         groupID,
		Title:           input.Title,
		Description:     input.Description,
		TargetMode:      targetMode,
		GoalType:        input.GoalType,
		GoalTargetValue: input.GoalTargetValue,
		StartAt:         input.StartAt.UTC(),
		EndAt:           input.EndAt.UTC(),
		Reward:          input.Reward,
		Status:          status,
		CreatedBy:       userID,
		CreatedAt:       now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		member, err := s.groups.memberTx(tx, userID, groupID)
		if err != nil {
			return err
		}
		if member.Role != RoleLeader {
			return ErrNotLeader
		}
		if err := tx.Create(challenge).Error; err != nil {
			return err
		}
		return tx.Create(&GroupChallengeMember{
			GroupChallengeID: challenge.ID,
			UserID:           userID,
			JoinedAt:         now,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return challenge, nil
}

// ListChallenges returns the group's challenges annotated with collective
// progress and the caller's participation. The date sweep runs first.
func (s *ChallengeService) ListChallenges(ctx context.Context, userID, groupID uint64) ([]ChallengeView, error) {
	var views []ChallengeView
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.groups.requireMemberTx(tx, userID, groupID); err != nil {
			return err
		}
		if err := s.AdvanceStatusesTx(tx, s.clock().UTC()); err != nil {
			return err
		}

		var all []GroupChallenge
		if err := tx.Where("group_id = ?", groupID).Order("id").Find(&all).Error; err != nil {
			return err
		}

		views = make([]ChallengeView, 0, len(all))
		for i := range all {
			view, err := s.viewTx(tx, userID, &all[i])
			if err != nil {
				return err
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

// ChallengeDetails returns one group challenge with collective progress and
// every participant's share, highest contribution first.
func (s *ChallengeService) ChallengeDetails(ctx context.Context, userID, challengeID uint64) (*ChallengeView, []ParticipantProgress, error) {
	var view ChallengeView
	var participants []ParticipantProgress
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		challenge, err := s.challengeTx(tx, challengeID)
		if err != nil {
			return err
		}
		if err := s.groups.requireMemberTx(tx, userID, challenge.GroupID); err != nil {
			return err
		}
		if err := s.AdvanceStatusesTx(tx, s.clock().UTC()); err != nil {
			return err
		}
		if err := tx.Where("id = ?", challengeID).Take(challenge).Error; err != nil {
			return err
		}

		view, err = s.viewTx(tx, userID, challenge)
		if err != nil {
			return err
		}

		err = tx.Model(&GroupChallengeMember{}).
			Select("group_challenge_members.user_id, users.username, group_challenge_members.contribution").
			Joins("JOIN users ON users.id = group_challenge_members.user_id").
			Where("group_challenge_members.group_challenge_id = ?", challengeID).
			Order("group_challenge_members.contribution DESC, group_challenge_members.user_id").
			Scan(&participants).Error
		if err != nil {
			return err
		}
		for i := range participants {
			if view.CollectiveValue > 0 {
				participants[i].SharePercent = participants[i].Contribution / view.CollectiveValue * 100
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return &view, participants, nil
}

// JoinChallenge enrolls a group member as a participant. Non-members are
// forbidden, closed challenges reject joins, duplicates conflict.
func (s *ChallengeService) JoinChallenge(ctx context.Context, userID, challengeID uint64) error {
	now := s.clock().UTC()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		challenge, err := s.challengeTx(tx, challengeID)
		if err != nil {
			return err
		}
		if err := s.groups.requireMemberTx(tx, userID, challenge.GroupID); err != nil {
			return err
		}
		if challenge.Status == challenges.StatusCompleted || challenge.Status == challenges.StatusCancelled {
			return ErrChallengeNotJoinable
		}

		var count int64
		err = tx.Model(&GroupChallengeMember{}).
			Where("group_challenge_id = ? AND user_id = ?", challengeID, userID).
			Count(&count).Error
		if err != nil {
			return err
		}
		if count > 0 {
			return ErrAlreadyParticipating
		}

		return tx.Create(&GroupChallengeMember{
			GroupChallengeID: challengeID,
			UserID:           userID,
			JoinedAt:         now,
		}).Error
	})
}

// RecordContributionTx accrues one trip onto every matching contribution
// row: the trip must fall inside an ACTIVE challenge window, the challenge
// target mode must cover the trip mode, and the user must already be a
// participant. Runs inside the trip-logging transaction.
func (s *ChallengeService) RecordContributionTx(tx *gorm.DB, userID uint64, mode carbon.TransportMode, co2SavedG, distanceKM float64, asOf time.Time) error {
	var matches []GroupChallenge
	err := tx.
		Joins("JOIN group_challenge_members ON group_challenge_members.group_challenge_id = group_challenges.id").
		Where("group_challenge_members.user_id = ?", userID).
		Where("group_challenges.status = ?", challenges.StatusActive).
		Where("group_challenges.start_at <= ? AND group_challenges.end_at >= ?", asOf, asOf).
		Where("group_challenges.target_mode IN ?", []carbon.TransportMode{carbon.ModeAny, mode}).
		Find(&matches).Error
	if err != nil {
		return err
	}

	for i := range matches {
		challenge := &matches[i]
		var delta float64
		switch challenge.GoalType {
		case challenges.GoalCO2Saved:
			delta = co2SavedG
		case challenges.GoalDistanceKM:
			delta = distanceKM
		case challenges.GoalTripCount:
			delta = 1
		}
		if delta <= 0 {
			continue
		}

		err := tx.Model(&GroupChallengeMember{}).
			Where("group_challenge_id = ? AND user_id = ?", challenge.ID, userID).
			Update("contribution", gorm.Expr("contribution + ?", delta)).Error
		if err != nil {
			return err
		}

		total, err := s.collectiveTx(tx, challenge.ID)
		if err != nil {
			return err
		}
		if total >= challenge.GoalTargetValue {
			err := tx.Model(&GroupChallenge{}).
				Where("id = ? AND status = ?", challenge.ID, challenges.StatusActive).
				Update("status", challenges.StatusCompleted).Error
			if err != nil {
				return err
			}
			if s.events != nil {
				var participantIDs []uint64
				err := tx.Model(&GroupChallengeMember{}).
					Where("group_challenge_id = ?", challenge.ID).
					Pluck("user_id", &participantIDs).Error
				if err != nil {
					return err
				}
				s.events.GroupChallengeCompleted(challenge.GroupID, challenge.ID, challenge.Title, participantIDs)
			}
			s.logger.Info("group challenge completed",
				zap.Uint64("group_id", challenge.GroupID),
				zap.Uint64("group_challenge_id", challenge.ID))
		}
	}
	return nil
}

// AdvanceStatusesTx applies the idempotent date sweep to group challenges.
func (s *ChallengeService) AdvanceStatusesTx(tx *gorm.DB, asOf time.Time) error {
	err := tx.Model(&GroupChallenge{}).
		Where("status = ? AND start_at <= ?", challenges.StatusUpcoming, asOf).
		Update("status", challenges.StatusActive).Error
	if err != nil {
		return err
	}
	return tx.Model(&GroupChallenge{}).
		Where("status = ? AND end_at < ?", challenges.StatusActive, asOf).
		Update("status", challenges.StatusCompleted).Error
}

// AdvanceStatuses runs the date sweep in its own transaction.
func (s *ChallengeService) AdvanceStatuses(ctx context.Context, asOf time.Time) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.AdvanceStatusesTx(tx, asOf)
	})
}

func (s *ChallengeService) challengeTx(tx *gorm.DB, challengeID uint64) (*GroupChallenge, error) {
	var challenge GroupChallenge
	err := tx.Where("id = ?", challengeID).Take(&challenge).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrChallengeNotFound
	}
	if err != nil {
		return nil, err
	}
	return &challenge, nil
}

func (s *ChallengeService) collectiveTx(tx *gorm.DB, challengeID uint64) (float64, error) {
	var total float64
	err := tx.Model(&GroupChallengeMember{}).
		Where("group_challenge_id = ?", challengeID).
		Select("COALESCE(SUM(contribution), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (s *ChallengeService) viewTx(tx *gorm.DB, userID uint64, challenge *GroupChallenge) (ChallengeView, error) {
	total, err := s.collectiveTx(tx, challenge.ID)
	if err != nil {
		return ChallengeView{}, err
	}

	var joined int64
	err = tx.Model(&GroupChallengeMember{}).
		Where("group_challenge_id = ? AND user_id = ?", challenge.ID, userID).
		Count(&joined).Error
	if err != nil {
		return ChallengeView{}, err
	}

	percent := 0.0
	if challenge.GoalTargetValue > 0 {
		percent = math.Min(100, total/challenge.GoalTargetValue*100)
	}

	return ChallengeView{
		Challenge:       *challenge,
		IsJoined:        joined > 0,
		CollectiveValue: total,
		Percent:         percent,
	}, nil
}
