package database

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"github.com/greenloop-labs/greenloop/backend/internal/carbon"
	"github.com/greenloop-labs/greenloop/backend/internal/challenges"
	"github.com/greenloop-labs/greenloop/backend/internal/chat"
	"github.com/greenloop-labs/greenloop/backend/internal/credits"
	"github.com/greenloop-labs/greenloop/backend/internal/garden"
	"github.com/greenloop-labs/greenloop/backend/internal/groups"
	"github.com/greenloop-labs/greenloop/backend/internal/mobility"
	"github.com/greenloop-labs/greenloop/backend/internal/users"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// OpenSQLite opens the database and migrates the schema. The connection pool
// is pinned to a single connection so transactions serialize at the driver
// instead of failing on SQLITE_BUSY.
func OpenSQLite(databasePath string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("database: open %q: %w", databasePath, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("database: underlying handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&users.User{},
		&carbon.Factor{},
		&mobility.MobilityLog{},
		&credits.LedgerEntry{},
		&garden.Level{},
		&garden.Garden{},
		&garden.WateringLog{},
		&challenges.Challenge{},
		&challenges.Membership{},
		&groups.Group{},
		&groups.Member{},
		&groups.GroupChallenge{},
		&groups.GroupChallengeMember{},
		&chat.EcoTip{},
	); err != nil {
		return nil, fmt.Errorf("database: migrate: %w", err)
	}
	return db, nil
}
