package carbon

import (
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
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
	if err := db.AutoMigrate(&Factor{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func seedTestFactors(t *testing.T, db *gorm.DB) {
	t.Helper()
	validFrom := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	validTo := time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)
	factors := []Factor{
		{Mode: ModeWalk, GramsPerKM: 0, ValidFrom: validFrom, ValidTo: validTo},
		{Mode: ModeBike, GramsPerKM: 0, ValidFrom: validFrom, ValidTo: validTo},
		{Mode: ModeSubway, GramsPerKM: 50, ValidFrom: validFrom, ValidTo: validTo},
		{Mode: ModeBus, GramsPerKM: 100, ValidFrom: validFrom, ValidTo: validTo},
		{Mode: ModeCar, GramsPerKM: 170, ValidFrom: validFrom, ValidTo: validTo},
	}
	if err := db.Create(&factors).Error; err != nil {
		t.Fatalf("failed to seed factors: %v", err)
	}
}

func TestSavingsAgainstCarBaseline(t *testing.T) {
	db := openTestDB(t)
	seedTestFactors(t, db)

	table, err := NewFactorTable(FactorTableConfig{Database: db, CreditPerGram: 0.1})
	if err != nil {
		t.Fatalf("failed to create factor table: %v", err)
	}

	start := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	end := start.Add(30 * time.Minute)

	testCases := []struct {
		name       string
		mode       TransportMode
		distanceKM float64
		wantSavedG float64
		wantPoints int64
	}{
		{name: "walk five km", mode: ModeWalk, distanceKM: 5, wantSavedG: 850, wantPoints: 85},
		{name: "bike ten km", mode: ModeBike, distanceKM: 10, wantSavedG: 1700, wantPoints: 170},
		{name: "bus saves the difference", mode: ModeBus, distanceKM: 10, wantSavedG: 700, wantPoints: 70},
		{name: "subway saves more than bus", mode: ModeSubway, distanceKM: 10, wantSavedG: 1200, wantPoints: 120},
		{name: "car saves nothing", mode: ModeCar, distanceKM: 10, wantSavedG: 0, wantPoints: 0},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			savings, err := table.Savings(testCase.mode, testCase.distanceKM, start, end)
			if err != nil {
				t.Fatalf("savings failed: %v", err)
			}
			if savings.SavedG != testCase.wantSavedG {
				t.Fatalf("expected %.0f g saved, got %.0f", testCase.wantSavedG, savings.SavedG)
			}
			if savings.Points != testCase.wantPoints {
				t.Fatalf("expected %d points, got %d", testCase.wantPoints, savings.Points)
			}
		})
	}
}

func TestSavingsFloorsFractionalPoints(t *testing.T) {
	db := openTestDB(t)
	seedTestFactors(t, db)

	table, err := NewFactorTable(FactorTableConfig{Database: db, CreditPerGram: 0.1})
	if err != nil {
		t.Fatalf("failed to create factor table: %v", err)
	}

	start := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	savings, err := table.Savings(ModeWalk, 0.05, start, start.Add(time.Minute))
	if err != nil {
		t.Fatalf("savings failed: %v", err)
	}
	// 0.05 km saves 8.5 g, worth 0.85 points, floored to zero.
	if savings.Points != 0 {
		t.Fatalf("expected fractional points floored to zero, got %d", savings.Points)
	}
	if savings.SavedG != 8.5 {
		t.Fatalf("expected 8.5 g saved, got %f", savings.SavedG)
	}
}

func TestSavingsMissingFactorDegradesToZero(t *testing.T) {
	db := openTestDB(t)

	table, err := NewFactorTable(FactorTableConfig{Database: db, CreditPerGram: 0.1})
	if err != nil {
		t.Fatalf("failed to create factor table: %v", err)
	}

	start := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	savings, err := table.Savings(ModeWalk, 5, start, start.Add(time.Minute))
	if err != nil {
		t.Fatalf("savings failed: %v", err)
	}
	if savings.SavedG != 0 || savings.Points != 0 {
		t.Fatalf("expected zero savings without factors, got %+v", savings)
	}
}

func TestParseModeRejectsUnknown(t *testing.T) {
	if _, err := ParseMode("TELEPORT"); err == nil {
		t.Fatalf("expected unknown mode to be rejected")
	}
	mode, err := ParseMode(" walk ")
	if err != nil {
		t.Fatalf("expected trimmed lowercase mode to parse: %v", err)
	}
	if mode != ModeWalk {
		t.Fatalf("expected WALK, got %q", mode)
	}
	if _, err := ParseMode("ANY"); err == nil {
		t.Fatalf("expected ANY to be rejected as a trip mode")
	}
	target, err := ParseTargetMode("any")
	if err != nil || target != ModeAny {
		t.Fatalf("expected ANY as a target mode, got %q err %v", target, err)
	}
}
