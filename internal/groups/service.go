package groups

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/greenloop-labs/greenloop/backend/internal/carbon"
	"github.com/greenloop-labs/greenloop/backend/internal/challenges"
	"github.com/greenloop-labs/greenloop/backend/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrNotFound indicates a lookup for a group that does not exist.
	ErrNotFound = errors.New("groups: group not found")
	// ErrNotMember indicates an operation by a user outside the group.
	ErrNotMember = errors.New("groups: not a member of this group")
	// ErrNotLeader indicates a leader-only operation by a regular member.
	ErrNotLeader = errors.New("groups: leader role required")
	// ErrLeaderCannotLeave indicates a leader leaving a group that still has
	// other active members.
	ErrLeaderCannotLeave = errors.New("groups: leader cannot leave while other members remain")
	// ErrUnknownUsername indicates a member list naming an unregistered user.
	ErrUnknownUsername = errors.New("groups: unknown username")
	// ErrInvalidInput indicates a malformed group definition.
	ErrInvalidInput = errors.New("groups: invalid input")

	noOpLogger = zap.NewNop()
)

// ServiceConfig describes the dependencies of the group service.
type ServiceConfig struct {
	Database *gorm.DB
	Trips    challenges.TripAggregator
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service manages group membership and the group leaderboard.
type Service struct {
	db     *gorm.DB
	trips  challenges.TripAggregator
	clock  func() time.Time
	logger *zap.Logger
}

// NewService constructs the group service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("groups: database connection required")
	}
	if cfg.Trips == nil {
		return nil, fmt.Errorf("groups: trip aggregator required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{db: cfg.Database, trips: cfg.Trips, clock: clock, logger: logger}, nil
}

// CreateWithUsernames creates a group seeded with the named members. The
// creator is always enrolled as LEADER whether or not the list names them;
// everyone else joins as MEMBER. Unknown usernames fail the whole creation.
func (s *Service) CreateWithUsernames(ctx context.Context, creatorID uint64, name, description string, usernames []string) (*Detail, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}

	now := s.clock().UTC()
	group := &Group{
		Name:        name,
		Description: description,
		InviteCode:  uuid.NewString(),
		CreatedBy:   creatorID,
		CreatedAt:   now,
	}

	var detail *Detail
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		memberIDs := map[uint64]bool{creatorID: true}
		for _, raw := range usernames {
			username := strings.TrimSpace(raw)
			if username == "" {
				continue
			}
			var user users.User
			err := tx.Where("username = ?", username).Take(&user).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %q", ErrUnknownUsername, username)
			}
			if err != nil {
				return err
			}
			memberIDs[user.ID] = true
		}

		if err := tx.Create(group).Error; err != nil {
			return err
		}

		for userID := range memberIDs {
			role := RoleMember
			if userID == creatorID {
				role = RoleLeader
			}
			member := &Member{
				GroupID:  group.ID,
				UserID:   userID,
				Role:     role,
				IsActive: true,
				JoinedAt: now,
			}
			if err := tx.Create(member).Error; err != nil {
				return err
			}
		}

		var err error
		detail, err = s.detailTx(tx, group.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("group created",
		zap.Uint64("group_id", group.ID),
		zap.Uint64("created_by", creatorID),
		zap.Int("members", len(detail.Members)))
	return detail, nil
}

// ListMine returns every group the user is an active member of.
func (s *Service) ListMine(ctx context.Context, userID uint64) ([]Group, error) {
	var result []Group
	err := s.db.WithContext(ctx).
		Joins("JOIN group_members ON group_members.group_id = groups.id").
		Where("group_members.user_id = ? AND group_members.is_active = ?", userID, true).
		Order("groups.id").
		Find(&result).Error
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Get returns a group with its active membership. Callers outside the group
// are rejected.
func (s *Service) Get(ctx context.Context, userID, groupID uint64) (*Detail, error) {
	db := s.db.WithContext(ctx)
	if err := s.requireMemberTx(db, userID, groupID); err != nil {
		return nil, err
	}
	return s.detailTx(db, groupID)
}

// Leave deactivates the caller's membership. A leader may only leave when no
// other active members remain, in which case the group is deleted outright.
func (s *Service) Leave(ctx context.Context, userID, groupID uint64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		member, err := s.memberTx(tx, userID, groupID)
		if err != nil {
			return err
		}

		if member.Role == RoleLeader {
			var others int64
			err := tx.Model(&Member{}).
				Where("group_id = ? AND user_id != ? AND is_active = ?", groupID, userID, true).
				Count(&others).Error
			if err != nil {
				return err
			}
			if others > 0 {
				return ErrLeaderCannotLeave
			}
			return s.deleteGroupTx(tx, groupID)
		}

		return tx.Model(&Member{}).
			Where("id = ?", member.ID).
			Update("is_active", false).Error
	})
}

// Delete removes a group and everything scoped to it. Leader only.
func (s *Service) Delete(ctx context.Context, userID, groupID uint64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		member, err := s.memberTx(tx, userID, groupID)
		if err != nil {
			return err
		}
		if member.Role != RoleLeader {
			return ErrNotLeader
		}
		return s.deleteGroupTx(tx, groupID)
	})
}

const rankingWindowDays = 30

// Ranking orders the group's active members by CO2 saved over the last
// thirty days, any mode.
func (s *Service) Ranking(ctx context.Context, userID, groupID uint64) ([]RankingRow, error) {
	var rows []RankingRow
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.requireMemberTx(tx, userID, groupID); err != nil {
			return err
		}

		detail, err := s.detailTx(tx, groupID)
		if err != nil {
			return err
		}

		now := s.clock().UTC()
		from := now.AddDate(0, 0, -rankingWindowDays)

		rows = make([]RankingRow, 0, len(detail.Members))
		for _, member := range detail.Members {
			saved, err := s.trips.SumCO2SavedTx(tx, member.UserID, carbon.ModeAny, from, now)
			if err != nil {
				return err
			}
			trips, err := s.trips.CountTripsTx(tx, member.UserID, carbon.ModeAny, from, now)
			if err != nil {
				return err
			}
			rows = append(rows, RankingRow{
				UserID:     member.UserID,
				Username:   member.Username,
				CO2SavedG:  saved,
				TotalTrips: trips,
			})
		}

		sort.SliceStable(rows, func(i, j int) bool {
			return rows[i].CO2SavedG > rows[j].CO2SavedG
		})
		for i := range rows {
			rows[i].Rank = i + 1
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// GlobalRanking orders every group by the lifetime CO2 its active members
// saved together. Visible to any authenticated user.
func (s *Service) GlobalRanking(ctx context.Context) ([]GroupRankingRow, error) {
	var rows []GroupRankingRow
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var allGroups []Group
		if err := tx.Order("id").Find(&allGroups).Error; err != nil {
			return err
		}

		now := s.clock().UTC()
		rows = make([]GroupRankingRow, 0, len(allGroups))
		for _, group := range allGroups {
			var memberIDs []uint64
			err := tx.Model(&Member{}).
				Where("group_id = ? AND is_active = ?", group.ID, true).
				Pluck("user_id", &memberIDs).Error
			if err != nil {
				return err
			}

			total := 0.0
			for _, memberID := range memberIDs {
				saved, err := s.trips.SumCO2SavedTx(tx, memberID, carbon.ModeAny, time.Time{}, now)
				if err != nil {
					return err
				}
				total += saved
			}
			rows = append(rows, GroupRankingRow{
				GroupID:     group.ID,
				Name:        group.Name,
				MemberCount: len(memberIDs),
				CO2SavedG:   total,
			})
		}

		sort.SliceStable(rows, func(i, j int) bool {
			return rows[i].CO2SavedG > rows[j].CO2SavedG
		})
		for i := range rows {
			rows[i].Rank = i + 1
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// ActiveGroupIDsTx lists the groups the user actively belongs to, for use
// inside an enclosing transaction.
func (s *Service) ActiveGroupIDsTx(tx *gorm.DB, userID uint64) ([]uint64, error) {
	var ids []uint64
	err := tx.Model(&Member{}).
		Where("user_id = ? AND is_active = ?", userID, true).
		Pluck("group_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *Service) memberTx(tx *gorm.DB, userID, groupID uint64) (*Member, error) {
	var count int64
	if err := tx.Model(&Group{}).Where("id = ?", groupID).Count(&count).Error; err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, ErrNotFound
	}

	var member Member
	err := tx.
		Where("group_id = ? AND user_id = ? AND is_active = ?", groupID, userID, true).
		Take(&member).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotMember
	}
	if err != nil {
		return nil, err
	}
	return &member, nil
}

func (s *Service) requireMemberTx(tx *gorm.DB, userID, groupID uint64) error {
	_, err := s.memberTx(tx, userID, groupID)
	return err
}

func (s *Service) detailTx(tx *gorm.DB, groupID uint64) (*Detail, error) {
	var group Group
	err := tx.Where("id = ?", groupID).Take(&group).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var members []MemberView
	err = tx.Model(&Member{}).
		Select("group_members.user_id, users.username, group_members.role, group_members.joined_at").
		Joins("JOIN users ON users.id = group_members.user_id").
		Where("group_members.group_id = ? AND group_members.is_active = ?", groupID, true).
		Order("group_members.joined_at, group_members.user_id").
		Scan(&members).Error
	if err != nil {
		return nil, err
	}

	return &Detail{Group: group, Members: members}, nil
}

func (s *Service) deleteGroupTx(tx *gorm.DB, groupID uint64) error {
	var challengeIDs []uint64
	err := tx.Model(&GroupChallenge{}).
		Where("group_id = ?", groupID).
		Pluck("id", &challengeIDs).Error
	if err != nil {
		return err
	}
	if len(challengeIDs) > 0 {
		if err := tx.Where("group_challenge_id IN ?", challengeIDs).
			Delete(&GroupChallengeMember{}).Error; err != nil {
			return err
		}
		if err := tx.Where("id IN ?", challengeIDs).
			Delete(&GroupChallenge{}).Error; err != nil {
			return err
		}
	}
	if err := tx.Where("group_id = ?", groupID).Delete(&Member{}).Error; err != nil {
		return err
	}
	return tx.Where("id = ?", groupID).Delete(&Group{}).Error
}
