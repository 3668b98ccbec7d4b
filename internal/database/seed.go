package database

import (
	"time"

	"github.com/greenloop-labs/greenloop/backend/internal/carbon"
	"github.com/greenloop-labs/greenloop/backend/internal/challenges"
	"github.com/greenloop-labs/greenloop/backend/internal/chat"
	"github.com/greenloop-labs/greenloop/backend/internal/garden"
	"gorm.io/gorm"
)

// Seed fills the reference tables on first boot. Each seeder skips its table
// when rows already exist, so repeated startups are harmless.
func Seed(db *gorm.DB, now time.Time) error {
	return db.Transaction(func(tx *gorm.DB) error {
		if err := seedGardenLevels(tx); err != nil {
			return err
		}
		if err := seedCarbonFactors(tx); err != nil {
			return err
		}
		if err := seedChallenges(tx, now); err != nil {
			return err
		}
		return seedEcoTips(tx, now)
	})
}

func seedGardenLevels(tx *gorm.DB) error {
	var count int64
	if err := tx.Model(&garden.Level{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	levels := []garden.Level{
		{Level: 1, Name: "Seed", ImageKey: "garden_seed", RequiredWaters: 3},
		{Level: 2, Name: "Sprout", ImageKey: "garden_sprout", RequiredWaters: 5},
		{Level: 3, Name: "Seedling", ImageKey: "garden_seedling", RequiredWaters: 8},
		{Level: 4, Name: "Young Plant", ImageKey: "garden_young_plant", RequiredWaters: 12},
		{Level: 5, Name: "Budding Plant", ImageKey: "garden_budding", RequiredWaters: 16},
		{Level: 6, Name: "Flowering Plant", ImageKey: "garden_flowering", RequiredWaters: 20},
		{Level: 7, Name: "Small Tree", ImageKey: "garden_small_tree", RequiredWaters: 25},
		{Level: 8, Name: "Growing Tree", ImageKey: "garden_growing_tree", RequiredWaters: 30},
		{Level: 9, Name: "Mature Tree", ImageKey: "garden_mature_tree", RequiredWaters: 40},
		{Level: 10, Name: "Blossoming Tree", ImageKey: "garden_blossoming", RequiredWaters: 50},
		{Level: 11, Name: "Ancient Tree", ImageKey: "garden_ancient", RequiredWaters: 0},
	}
	return tx.Create(&levels).Error
}

func seedCarbonFactors(tx *gorm.DB) error {
	var count int64
	if err := tx.Model(&carbon.Factor{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	validFrom := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	validTo := time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)
	factors := []carbon.Factor{
		{Mode: carbon.ModeWalk, GramsPerKM: 0, ValidFrom: validFrom, ValidTo: validTo},
		{Mode: carbon.ModeBike, GramsPerKM: 0, ValidFrom: validFrom, ValidTo: validTo},
		{Mode: carbon.ModeSubway, GramsPerKM: 50, ValidFrom: validFrom, ValidTo: validTo},
		{Mode: carbon.ModeBus, GramsPerKM: 100, ValidFrom: validFrom, ValidTo: validTo},
		{Mode: carbon.ModeCar, GramsPerKM: 170, ValidFrom: validFrom, ValidTo: validTo},
	}
	return tx.Create(&factors).Error
}

func seedChallenges(tx *gorm.DB, now time.Time) error {
	var count int64
	if err := tx.Model(&challenges.Challenge{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	monthEnd := monthStart.AddDate(0, 1, 0)
	seeded := []challenges.Challenge{
		{
			Title:           "Car-Free Commuter",
			Description:     "Save 5 kg of CO2 this month by choosing anything but the car.",
			Scope:           challenges.ScopePersonal,
			TargetMode:      carbon.ModeAny,
			GoalType:        challenges.GoalCO2Saved,
			GoalTargetValue: 5000,
			StartAt:         monthStart,
			EndAt:           monthEnd,
			Reward:          "Car-Free Commuter badge",
			Status:          challenges.StatusActive,
			CreatedAt:       now,
		},
		{
			Title:           "Pedal Power",
			Description:     "Cover 30 km by bike this month.",
			Scope:           challenges.ScopePersonal,
			TargetMode:      carbon.ModeBike,
			GoalType:        challenges.GoalDistanceKM,
			GoalTargetValue: 30,
			StartAt:         monthStart,
			EndAt:           monthEnd,
			Reward:          "Pedal Power badge",
			Status:          challenges.StatusActive,
			CreatedAt:       now,
		},
		{
			Title:           "Ten Green Trips",
			Description:     "Log ten walking trips this month.",
			Scope:           challenges.ScopePersonal,
			TargetMode:      carbon.ModeWalk,
			GoalType:        challenges.GoalTripCount,
			GoalTargetValue: 10,
			StartAt:         monthStart,
			EndAt:           monthEnd,
			Reward:          "Walker badge",
			Status:          challenges.StatusActive,
			CreatedAt:       now,
		},
	}
	return tx.Create(&seeded).Error
}

func seedEcoTips(tx *gorm.DB, now time.Time) error {
	var count int64
	if err := tx.Model(&chat.EcoTip{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	tips := []chat.EcoTip{
		{
			Topic: "commute",
			Title: "Swap short car trips",
			Body:  "Trips under 3 km are the easiest to replace: walking or cycling them cuts the highest-emission cold-start phase of a car journey entirely.",
		},
		{
			Topic: "commute",
			Title: "Public transport beats driving alone",
			Body:  "A bus at average occupancy emits well under half the CO2 per passenger-kilometre of a single-occupant car, and a subway under a third.",
		},
		{
			Topic: "home",
			Title: "Heat the person, not the room",
			Body:  "Dropping the thermostat by one degree saves roughly six percent of heating energy. A warm layer is the cheapest insulation there is.",
		},
		{
			Topic: "food",
			Title: "Plan a plant-forward week",
			Body:  "Replacing beef with legumes or poultry for just two meals a week cuts a typical diet's footprint by a noticeable margin without an all-or-nothing switch.",
		},
		{
			Topic: "waste",
			Title: "Refuse before you recycle",
			Body:  "Recycling helps, but the bigger win is upstream: reusable bottles, bags and containers avoid the production footprint in the first place.",
		},
		{
			Topic: "energy",
			Title: "Hunt standby power",
			Body:  "Chargers, consoles and set-top boxes idle at a few watts each around the clock. A switchable power strip turns that steady trickle off overnight.",
		},
	}
	for i := range tips {
		tips[i].CreatedAt = now
	}
	return tx.Create(&tips).Error
}
