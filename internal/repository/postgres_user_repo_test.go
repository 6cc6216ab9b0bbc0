package repository

import (
	"testing"
	"time"

	"github.com/hitoshi/authd/internal/model"
)

// PostgresUserRepoはUserRepositoryインターフェースを満たすことを検証
func TestPostgresUserRepo_ImplementsInterface(t *testing.T) {
	var _ UserRepository = (*PostgresUserRepo)(nil)
}

// NewPostgresUserRepoが正しく初期化されることを検証
func TestNewPostgresUserRepo_Initializes(t *testing.T) {
	repo := NewPostgresUserRepo(nil)
	if repo == nil {
		t.Fatal("expected non-nil repo")
	}
}

// Userモデルのフィールドが正しく構築されることを検証
func TestPostgresUserRepo_UserModel_Fields(t *testing.T) {
	now := time.Now()
	hash := "$2a$10$hash"
	user := &model.User{
		ID:           1,
		FirstName:    "Taro",
		LastName:     "Yamada",
		Email:        "taro@example.com",
		PasswordHash: &hash,
		CreatedAt:    now,
	}

	if user.Email != "taro@example.com" {
		t.Errorf("user.Email = %q, want %q", user.Email, "taro@example.com")
	}
	if !user.HasPassword() {
		t.Error("user with password hash should have HasPassword() == true")
	}
	if user.GoogleID != nil {
		t.Error("GoogleID should be nil by default")
	}
}

// OAuth専用ユーザーはパスワードログイン不可であることの期待動作
func TestPostgresUserRepo_OAuthOnlyUser_Concept(t *testing.T) {
	googleID := "google-sub-123"
	user := &model.User{
		ID:       2,
		Email:    "oauth@example.com",
		GoogleID: &googleID,
	}

	if user.HasPassword() {
		t.Error("OAuth-only user should not have a usable password")
	}
	if user.GoogleID == nil || *user.GoogleID != "google-sub-123" {
		t.Error("GoogleID should be preserved")
	}
}
