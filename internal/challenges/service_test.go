package challenges

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/greenloop-labs/greenloop/backend/internal/carbon"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&Challenge{}, &Membership{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

// stubAggregator returns fixed aggregates regardless of the window.
type stubAggregator struct {
	co2SavedG  float64
	distanceKM float64
	tripCount  int64
}

func (s stubAggregator) SumCO2SavedTx(*gorm.DB, uint64, carbon.TransportMode, time.Time, time.Time) (float64, error) {
	return s.co2SavedG, nil
}

func (s stubAggregator) SumDistanceTx(*gorm.DB, uint64, carbon.TransportMode, time.Time, time.Time) (float64, error) {
	return s.distanceKM, nil
}

func (s stubAggregator) CountTripsTx(*gorm.DB, uint64, carbon.TransportMode, time.Time, time.Time) (int64, error) {
	return s.tripCount, nil
}

type completionRecorder struct {
	completed []uint64
}

func (r *completionRecorder) ChallengeCompleted(userID, challengeID uint64, title string) {
	r.completed = append(r.completed, challengeID)
}

func newTestService(t *testing.T, db *gorm.DB, trips TripAggregator, now time.Time, events Events) *Service {
	t.Helper()
	service, err := NewService(ServiceConfig{
		Database: db,
		Trips:    trips,
		Clock:    func() time.Time { return now },
		Events:   events,
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return service
}

func activeWindow(now time.Time) (time.Time, time.Time) {
	return now.Add(-24 * time.Hour), now.Add(24 * time.Hour)
}

func mustCreate(t *testing.T, service *Service, input CreateInput) *Challenge {
	t.Helper()
	challenge, err := service.Create(context.Background(), input)
	if err != nil {
		t.Fatalf("failed to create challenge: %v", err)
	}
	return challenge
}

func TestJoinOncePerChallenge(t *testing.T) {
	db := openTestDB(t)
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	service := newTestService(t, db, stubAggregator{}, now, nil)
	ctx := context.Background()

	start, end := activeWindow(now)
	challenge := mustCreate(t, service, CreateInput{
		Title:           "Car-Free Commuter",
		GoalType:        GoalCO2Saved,
		GoalTargetValue: 5000,
		StartAt:         start,
		EndAt:           end,
	})

	if err := service.Join(ctx, 1, challenge.ID); err != nil {
		t.Fatalf("join failed: %v", err)
	}
	if err := service.Join(ctx, 1, challenge.ID); !errors.Is(err, ErrAlreadyJoined) {
		t.Fatalf("expected duplicate join conflict, got %v", err)
	}
	if err := service.Join(ctx, 1, 9999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestJoinRejectsClosedChallenges(t *testing.T) {
	db := openTestDB(t)
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	service := newTestService(t, db, stubAggregator{}, now, nil)
	ctx := context.Background()

	start, end := activeWindow(now)
	challenge := mustCreate(t, service, CreateInput{
		Title:           "Finished",
		GoalType:        GoalTripCount,
		GoalTargetValue: 10,
		StartAt:         start,
		EndAt:           end,
	})
	if err := service.Cancel(ctx, challenge.ID); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if err := service.Join(ctx, 1, challenge.ID); !errors.Is(err, ErrNotJoinable) {
		t.Fatalf("expected not joinable, got %v", err)
	}
}

func TestProgressClampsAtHundredAndCompletes(t *testing.T) {
	db := openTestDB(t)
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	recorder := &completionRecorder{}
	service := newTestService(t, db, stubAggregator{co2SavedG: 7500}, now, recorder)
	ctx := context.Background()

	start, end := activeWindow(now)
	challenge := mustCreate(t, service, CreateInput{
		Title:           "Car-Free Commuter",
		GoalType:        GoalCO2Saved,
		GoalTargetValue: 5000,
		StartAt:         start,
		EndAt:           end,
	})
	if err := service.Join(ctx, 1, challenge.ID); err != nil {
		t.Fatalf("join failed: %v", err)
	}

	progress, err := service.Progress(ctx, 1, challenge.ID)
	if err != nil {
		t.Fatalf("progress failed: %v", err)
	}
	if progress.Percent != 100 {
		t.Fatalf("expected percent clamped to 100, got %f", progress.Percent)
	}
	if progress.Status != StatusCompleted {
		t.Fatalf("expected completion at goal, got %s", progress.Status)
	}
	if len(recorder.completed) != 1 || recorder.completed[0] != challenge.ID {
		t.Fatalf("expected a completion event, got %v", recorder.completed)
	}

	// Completion is sticky: a second read fires no second event.
	if _, err := service.Progress(ctx, 1, challenge.ID); err != nil {
		t.Fatalf("second progress failed: %v", err)
	}
	if len(recorder.completed) != 1 {
		t.Fatalf("expected exactly one completion event, got %d", len(recorder.completed))
	}
}

func TestProgressPartialGoal(t *testing.T) {
	db := openTestDB(t)
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	service := newTestService(t, db, stubAggregator{distanceKM: 12}, now, nil)
	ctx := context.Background()

	start, end := activeWindow(now)
	challenge := mustCreate(t, service, CreateInput{
		Title:           "Pedal Power",
		TargetMode:      carbon.ModeBike,
		GoalType:        GoalDistanceKM,
		GoalTargetValue: 30,
		StartAt:         start,
		EndAt:           end,
	})
	if err := service.Join(ctx, 1, challenge.ID); err != nil {
		t.Fatalf("join failed: %v", err)
	}

	progress, err := service.Progress(ctx, 1, challenge.ID)
	if err != nil {
		t.Fatalf("progress failed: %v", err)
	}
	if progress.Value != 12 {
		t.Fatalf("expected value 12, got %f", progress.Value)
	}
	if progress.Percent != 40 {
		t.Fatalf("expected 40 percent, got %f", progress.Percent)
	}
	if progress.Status != StatusActive {
		t.Fatalf("expected still active, got %s", progress.Status)
	}
}

func TestListAnnotatesMembership(t *testing.T) {
	db := openTestDB(t)
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	service := newTestService(t, db, stubAggregator{tripCount: 4}, now, nil)
	ctx := context.Background()

	start, end := activeWindow(now)
	joined := mustCreate(t, service, CreateInput{
		Title:           "Ten Green Trips",
		GoalType:        GoalTripCount,
		GoalTargetValue: 10,
		StartAt:         start,
		EndAt:           end,
	})
	mustCreate(t, service, CreateInput{
		Title:           "Untouched",
		GoalType:        GoalTripCount,
		GoalTargetValue: 5,
		StartAt:         start,
		EndAt:           end,
	})
	if err := service.Join(ctx, 1, joined.ID); err != nil {
		t.Fatalf("join failed: %v", err)
	}

	views, err := service.List(ctx, 1)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("expected 2 challenges, got %d", len(views))
	}
	if !views[0].IsJoined || views[0].Progress != 40 {
		t.Fatalf("expected joined challenge at 40 percent, got %+v", views[0])
	}
	if views[1].IsJoined || views[1].Progress != 0 {
		t.Fatalf("expected unjoined challenge without progress, got %+v", views[1])
	}
}

func TestAdvanceStatusesSweepIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	service := newTestService(t, db, stubAggregator{}, now, nil)
	ctx := context.Background()

	upcoming := mustCreate(t, service, CreateInput{
		Title:           "Starts tomorrow",
		GoalType:        GoalTripCount,
		GoalTargetValue: 5,
		StartAt:         now.Add(24 * time.Hour),
		EndAt:           now.Add(48 * time.Hour),
	})
	if upcoming.Status != StatusUpcoming {
		t.Fatalf("expected upcoming, got %s", upcoming.Status)
	}

	for sweep := 0; sweep < 2; sweep++ {
		if err := service.AdvanceStatuses(ctx, now.Add(25*time.Hour)); err != nil {
			t.Fatalf("sweep %d failed: %v", sweep, err)
		}
	}
	var afterStart Challenge
	if err := db.Where("id = ?", upcoming.ID).Take(&afterStart).Error; err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if afterStart.Status != StatusActive {
		t.Fatalf("expected active after window opened, got %s", afterStart.Status)
	}

	if err := service.AdvanceStatuses(ctx, now.Add(49*time.Hour)); err != nil {
		t.Fatalf("closing sweep failed: %v", err)
	}
	var afterEnd Challenge
	if err := db.Where("id = ?", upcoming.ID).Take(&afterEnd).Error; err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if afterEnd.Status != StatusCompleted {
		t.Fatalf("expected completed after window closed, got %s", afterEnd.Status)
	}
}

func TestCancelNeverHappensAutomatically(t *testing.T) {
	db := openTestDB(t)
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	service := newTestService(t, db, stubAggregator{}, now, nil)
	ctx := context.Background()

	start, end := activeWindow(now)
	challenge := mustCreate(t, service, CreateInput{
		Title:           "Cancelled by admin",
		GoalType:        GoalTripCount,
		GoalTargetValue: 5,
		StartAt:         start,
		EndAt:           end,
	})
	if err := service.Cancel(ctx, challenge.ID); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	// The sweep must leave cancelled challenges alone.
	if err := service.AdvanceStatuses(ctx, end.Add(time.Hour)); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	var reloaded Challenge
	if err := db.Where("id = ?", challenge.ID).Take(&reloaded).Error; err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if reloaded.Status != StatusCancelled {
		t.Fatalf("expected cancelled to stick, got %s", reloaded.Status)
	}

	if err := service.Cancel(ctx, challenge.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected cancel of a closed challenge to report not found, got %v", err)
	}
}

func TestCreateAndJoinBuildsWeekLongChallenge(t *testing.T) {
	db := openTestDB(t)
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	service := newTestService(t, db, stubAggregator{}, now, nil)
	ctx := context.Background()

	challenge, err := service.CreateAndJoin(ctx, 7, SuggestedChallenge{
		Title:        "Walk to work week",
		Description:  "Swap five commutes for walks.",
		TargetMode:   carbon.ModeWalk,
		TargetSavedG: 2000,
	})
	if err != nil {
		t.Fatalf("create and join failed: %v", err)
	}
	if challenge.Status != StatusActive {
		t.Fatalf("expected an immediately active challenge, got %s", challenge.Status)
	}
	if !challenge.EndAt.Equal(now.AddDate(0, 0, 7)) {
		t.Fatalf("expected a seven-day window, got end %v", challenge.EndAt)
	}

	var membership Membership
	err = db.Where("challenge_id = ? AND user_id = ?", challenge.ID, 7).Take(&membership).Error
	if err != nil {
		t.Fatalf("expected the user enrolled: %v", err)
	}
}
