package users

import (
	"context"
	"errors"
	"testing"

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
	if err := db.AutoMigrate(&User{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func TestRegisterHashesPasswordAndNormalizesEmail(t *testing.T) {
	db := openTestDB(t)
	service, err := NewService(ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	ctx := context.Background()

	user, err := service.Register(ctx, " alice ", "Alice@Example.COM", "s3cret")
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if user.Username != "alice" {
		t.Fatalf("expected trimmed username, got %q", user.Username)
	}
	if user.Email != "alice@example.com" {
		t.Fatalf("expected lowercased email, got %q", user.Email)
	}
	if user.PasswordHash == "s3cret" || user.PasswordHash == "" {
		t.Fatalf("expected a hashed password")
	}
	if user.Role != RoleUser {
		t.Fatalf("expected default USER role, got %q", user.Role)
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	db := openTestDB(t)
	service, err := NewService(ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	ctx := context.Background()

	if _, err := service.Register(ctx, "alice", "alice@example.com", "s3cret"); err != nil {
		t.Fatalf("first register failed: %v", err)
	}
	if _, err := service.Register(ctx, "alice", "other@example.com", "s3cret"); !errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("expected duplicate username rejection, got %v", err)
	}
	if _, err := service.Register(ctx, "alice2", "alice@example.com", "s3cret"); !errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("expected duplicate email rejection, got %v", err)
	}
}

func TestAuthenticateByUsernameOrEmail(t *testing.T) {
	db := openTestDB(t)
	service, err := NewService(ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	ctx := context.Background()

	registered, err := service.Register(ctx, "alice", "alice@example.com", "s3cret")
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	byUsername, err := service.Authenticate(ctx, "alice", "s3cret")
	if err != nil {
		t.Fatalf("authenticate by username failed: %v", err)
	}
	if byUsername.ID != registered.ID {
		t.Fatalf("expected the registered account")
	}

	byEmail, err := service.Authenticate(ctx, "Alice@Example.com", "s3cret")
	if err != nil {
		t.Fatalf("authenticate by email failed: %v", err)
	}
	if byEmail.ID != registered.ID {
		t.Fatalf("expected the registered account")
	}

	if _, err := service.Authenticate(ctx, "alice", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials for a bad password, got %v", err)
	}
	if _, err := service.Authenticate(ctx, "nobody", "s3cret"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials for an unknown account, got %v", err)
	}
}
