package credits

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()

	// ErrInsufficientBalance indicates a spend that would overdraw the ledger.
	ErrInsufficientBalance = errors.New("credits: insufficient balance")
	// ErrNonPositivePoints indicates an earn or spend of zero or negative points.
	ErrNonPositivePoints = errors.New("credits: points must be positive")
)

// ServiceError carries a dotted operation code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the dotted operation code.
func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew = "credits.service.new"
	opBalance    = "credits.balance"
	opHistory    = "credits.history"
	opEarn       = "credits.earn"
	opSpend      = "credits.spend"
	opAdjust     = "credits.adjust"
)

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

const recentEarnedWindow = 30 * 24 * time.Hour

// ServiceConfig describes the dependencies of the ledger service.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service owns the append-only credit ledger.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewService constructs the ledger service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{db: cfg.Database, clock: clock, logger: logger}, nil
}

// BalanceTx sums all signed entries for the user within the transaction.
func (s *Service) BalanceTx(tx *gorm.DB, userID uint64) (int64, error) {
	var total int64
	err := tx.Model(&LedgerEntry{}).
		Where("user_id = ?", userID).
		Select("COALESCE(SUM(points), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, newServiceError(opBalance, "sum_failed", err)
	}
	return total, nil
}

// Balance returns the user's current point balance.
func (s *Service) Balance(ctx context.Context, userID uint64) (int64, error) {
	return s.BalanceTx(s.db.WithContext(ctx), userID)
}

// Summary returns the balance together with the points earned over the last
// thirty days.
func (s *Service) Summary(ctx context.Context, userID uint64) (BalanceSummary, error) {
	db := s.db.WithContext(ctx)
	now := s.clock().UTC()

	total, err := s.BalanceTx(db, userID)
	if err != nil {
		return BalanceSummary{}, err
	}

	var recent int64
	err = db.Model(&LedgerEntry{}).
		Where("user_id = ? AND type = ? AND created_at >= ?", userID, EntryTypeEarn, now.Add(-recentEarnedWindow)).
		Select("COALESCE(SUM(points), 0)").
		Scan(&recent).Error
	if err != nil {
		return BalanceSummary{}, newServiceError(opBalance, "recent_sum_failed", err)
	}

	return BalanceSummary{
		UserID:       userID,
		TotalPoints:  total,
		RecentEarned: recent,
		AsOf:         now,
	}, nil
}

// History lists ledger entries newest first.
func (s *Service) History(ctx context.Context, userID uint64, limit, offset int) ([]LedgerEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	var entries []LedgerEntry
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Offset(offset).
		Find(&entries).Error
	if err != nil {
		return nil, newServiceError(opHistory, "query_failed", err)
	}
	return entries, nil
}

// EarnTx appends a positive entry within the supplied transaction.
func (s *Service) EarnTx(tx *gorm.DB, userID uint64, points int64, reason string, refLogID *uint64, metadata map[string]interface{}) (*LedgerEntry, error) {
	if points <= 0 {
		return nil, newServiceError(opEarn, "non_positive_points", ErrNonPositivePoints)
	}
	entry := &LedgerEntry{
		UserID:    userID,
		RefLogID:  refLogID,
		Type:      EntryTypeEarn,
		Points:    points,
		Reason:    reason,
		Metadata:  metadata,
		CreatedAt: s.clock().UTC(),
	}
	if err := tx.Create(entry).Error; err != nil {
		s.logError(opEarn, "insert_failed", err, zap.Uint64("user_id", userID))
		return nil, newServiceError(opEarn, "insert_failed", err)
	}
	return entry, nil
}

// Earn appends a positive entry in its own transaction.
func (s *Service) Earn(ctx context.Context, userID uint64, points int64, reason string, refLogID *uint64, metadata map[string]interface{}) (*LedgerEntry, error) {
	var entry *LedgerEntry
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		entry, txErr = s.EarnTx(tx, userID, points, reason, refLogID, metadata)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// SpendTx appends a negative entry within the supplied transaction, refusing
// any spend that would drive the balance below zero. The balance check and
// the insert share one transaction so concurrent spends serialize on the
// database rather than racing in the application.
func (s *Service) SpendTx(tx *gorm.DB, userID uint64, points int64, reason string, metadata map[string]interface{}) (*LedgerEntry, error) {
	if points <= 0 {
		return nil, newServiceError(opSpend, "non_positive_points", ErrNonPositivePoints)
	}

	balance, err := s.BalanceTx(tx, userID)
	if err != nil {
		return nil, err
	}
	if balance < points {
		return nil, newServiceError(opSpend, "insufficient_balance", ErrInsufficientBalance)
	}

	entry := &LedgerEntry{
		UserID:    userID,
		Type:      EntryTypeSpend,
		Points:    -points,
		Reason:    reason,
		Metadata:  metadata,
		CreatedAt: s.clock().UTC(),
	}
	if err := tx.Create(entry).Error; err != nil {
		s.logError(opSpend, "insert_failed", err, zap.Uint64("user_id", userID))
		return nil, newServiceError(opSpend, "insert_failed", err)
	}
	return entry, nil
}

// Spend appends a negative entry in its own transaction.
func (s *Service) Spend(ctx context.Context, userID uint64, points int64, reason string, metadata map[string]interface{}) (*LedgerEntry, error) {
	var entry *LedgerEntry
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		entry, txErr = s.SpendTx(tx, userID, points, reason, metadata)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Adjust appends an administrative correction of either sign.
func (s *Service) Adjust(ctx context.Context, userID uint64, points int64, reason string, metadata map[string]interface{}) (*LedgerEntry, error) {
	if points == 0 {
		return nil, newServiceError(opAdjust, "zero_points", ErrNonPositivePoints)
	}
	entry := &LedgerEntry{
		UserID:    userID,
		Type:      EntryTypeAdjust,
		Points:    points,
		Reason:    reason,
		Metadata:  metadata,
		CreatedAt: s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		s.logError(opAdjust, "insert_failed", err, zap.Uint64("user_id", userID))
		return nil, newServiceError(opAdjust, "insert_failed", err)
	}
	return entry, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("credits service error", attrs...)
}
