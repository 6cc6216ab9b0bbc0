// Package auth はパスワード認証、Google OAuth認証、パスワード再設定の
// ビジネスロジックを提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/authd/internal/metrics"
	"github.com/hitoshi/authd/internal/model"
	"github.com/hitoshi/authd/internal/repository"
	"github.com/hitoshi/authd/internal/security"
)

// OAuthUserInfo はOAuthプロバイダーから取得したユーザー情報を表す。
type OAuthUserInfo struct {
	ProviderUserID string
	Email          string
	GivenName      string
	FamilyName     string
}

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
// 将来的に複数IdP（Google, GitHub等）に対応するための抽象化。
type OAuthProvider interface {
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、ユーザー情報を取得する。
	ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	ResetTokenTTL time.Duration // 再設定トークンの有効期間
	ResetBaseURL  string        // 再設定リンクのベースURL
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	userRepo  repository.UserRepository
	resetRepo repository.PasswordResetRepository
	tracker   *Tracker
	mailer    Mailer
	metrics   metrics.MetricsCollector
	config    ServiceConfig
}

// NewService はServiceを生成する。
func NewService(
	userRepo repository.UserRepository,
	resetRepo repository.PasswordResetRepository,
	tracker *Tracker,
	mailer Mailer,
	collector metrics.MetricsCollector,
	config ServiceConfig,
) *Service {
	if config.ResetTokenTTL <= 0 {
		config.ResetTokenTTL = time.Hour
	}
	return &Service{
		userRepo:  userRepo,
		resetRepo: resetRepo,
		tracker:   tracker,
		mailer:    mailer,
		metrics:   collector,
		config:    config,
	}
}

// Register は新規ユーザーをパスワード認証で登録する。
// メールアドレスが既に使われている場合はDUPLICATE_IDENTITYを返す。
func (s *Service) Register(ctx context.Context, firstName, lastName, email, password string) (*model.User, error) {
	hash, err := security.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &model.User{
		FirstName:    firstName,
		LastName:     lastName,
		Email:        strings.ToLower(email),
		PasswordHash: &hash,
		CreatedAt:    time.Now(),
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewDuplicateIdentityError()
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.metrics.RecordRegistration()
	slog.Info("user registered",
		slog.Int64("user_id", user.ID),
		slog.String("email", user.Email),
	)

	return user, nil
}

// Login はメールアドレスとパスワードで認証する。
// メール不存在・OAuth専用アカウント・パスワード不一致はいずれも
// 同一のINVALID_CREDENTIALSとなり、アカウントの存在は漏れない。
// 試行は成否を問わず記録される。直近15分間の失敗が閾値に達している場合、
// 資格情報を評価する前にTOO_MANY_ATTEMPTSで拒否する。
// 正しいパスワードでもロックアウト中はログインできない。
func (s *Service) Login(ctx context.Context, email, password, ipAddress string) (*model.User, error) {
	email = strings.ToLower(email)

	// 1. 資格情報の評価前にロックアウトを判定
	locked, err := s.tracker.LockedOut(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to check lockout: %w", err)
	}
	if locked {
		s.metrics.RecordLockout()
		slog.Warn("login rejected by lockout",
			slog.String("email", email),
			slog.String("ip_address", ipAddress),
		)
		return nil, model.NewTooManyAttemptsError()
	}

	// 2. 資格情報を評価
	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	ok := user != nil && user.HasPassword() && security.VerifyPassword(password, *user.PasswordHash)

	// 3. 成否を問わず試行を記録
	if err := s.tracker.Record(ctx, email, ok, ipAddress); err != nil {
		return nil, err
	}

	if !ok {
		s.metrics.RecordLoginFailure()
		slog.Info("login failed",
			slog.String("email", email),
			slog.String("ip_address", ipAddress),
		)

		// 4. 今回の失敗で閾値に達した場合は資格情報エラーではなく
		//    ロックアウトを返す
		locked, err := s.tracker.LockedOut(ctx, email)
		if err != nil {
			return nil, fmt.Errorf("failed to check lockout: %w", err)
		}
		if locked {
			s.metrics.RecordLockout()
			return nil, model.NewTooManyAttemptsError()
		}
		return nil, model.NewInvalidCredentialsError()
	}

	s.metrics.RecordLoginSuccess()
	slog.Info("login succeeded",
		slog.Int64("user_id", user.ID),
		slog.String("ip_address", ipAddress),
	)

	return user, nil
}

// ResolveGoogleIdentity はGoogle OAuthで取得したユーザー情報をローカルユーザーに解決する。
// 解決は3段階で行う:
//  1. Google IDに紐付く既存ユーザーがいればそれを返す
//  2. 同一メールアドレスの既存ユーザーがいればGoogle IDを紐付けて返す
//  3. どちらもいなければパスワードなしの新規ユーザーを作成する
//
// プロバイダーがメールアドレスを提供せず既存の紐付けもない場合はMISSING_EMAILとなる。
func (s *Service) ResolveGoogleIdentity(ctx context.Context, info *OAuthUserInfo) (*model.User, error) {
	// 1. Google IDで既存ユーザーを検索
	user, err := s.userRepo.FindByGoogleID(ctx, info.ProviderUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by google ID: %w", err)
	}
	if user != nil {
		slog.Info("oauth user resolved by google ID", slog.Int64("user_id", user.ID))
		return user, nil
	}

	if info.Email == "" {
		return nil, model.NewMissingEmailError()
	}
	email := strings.ToLower(info.Email)

	// 2. メールアドレスで既存ユーザーを検索し、未紐付けなら紐付ける
	user, err = s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	if user != nil {
		if user.GoogleID != nil {
			// メールは一致するがGoogle IDが別ユーザーとして登録済み。
			// 自動で付け替えるとアカウント乗っ取りに繋がるため拒否する。
			slog.Warn("oauth identity conflict",
				slog.Int64("user_id", user.ID),
				slog.String("email", email),
			)
			return nil, model.NewUpstreamAuthFailedError()
		}

		if err := s.userRepo.LinkGoogleID(ctx, user.ID, info.ProviderUserID); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return nil, model.NewDuplicateIdentityError()
			}
			return nil, fmt.Errorf("failed to link google ID: %w", err)
		}
		user.GoogleID = &info.ProviderUserID
		slog.Info("google ID linked to existing user", slog.Int64("user_id", user.ID))
		return user, nil
	}

	// 3. 新規ユーザーを作成（パスワードなし、OAuth専用）
	googleID := info.ProviderUserID
	user = &model.User{
		FirstName: info.GivenName,
		LastName:  info.FamilyName,
		Email:     email,
		GoogleID:  &googleID,
		CreatedAt: time.Now(),
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewDuplicateIdentityError()
		}
		return nil, fmt.Errorf("failed to create oauth user: %w", err)
	}

	s.metrics.RecordRegistration()
	slog.Info("new oauth user created",
		slog.Int64("user_id", user.ID),
		slog.String("email", email),
	)

	return user, nil
}

// RequestPasswordReset はパスワード再設定トークンを発行しメールで送信する。
// メールアドレスが未登録でもエラーにはならず、呼び出し側は結果に
// かかわらず同一の応答を返すことでアカウント列挙を防ぐ。
// 発行前に当該ユーザーの既存トークンをすべて無効化するため、
// 有効なトークンは常に最新の1件のみとなる。
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	email = strings.ToLower(email)
	s.metrics.RecordResetRequest()

	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		slog.Info("password reset requested for unknown email")
		return nil
	}

	// 1. 既存の未使用トークンをすべて無効化
	if err := s.resetRepo.InvalidateAllForUser(ctx, user.ID); err != nil {
		return fmt.Errorf("failed to invalidate prior tokens: %w", err)
	}

	// 2. 新しいトークンを生成し、ダイジェストのみ永続化
	plaintext, err := security.GenerateResetToken()
	if err != nil {
		return err
	}
	digest, err := security.HashResetToken(plaintext)
	if err != nil {
		return fmt.Errorf("failed to hash reset token: %w", err)
	}

	now := time.Now()
	token := &model.PasswordResetToken{
		ID:          uuid.New().String(),
		UserID:      user.ID,
		TokenDigest: digest,
		ExpiresAt:   now.Add(s.config.ResetTokenTTL),
		Used:        false,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.resetRepo.Create(ctx, token); err != nil {
		return fmt.Errorf("failed to create reset token: %w", err)
	}

	// 3. 平文トークンを含むリンクをメールで送信
	resetURL := fmt.Sprintf("%s/reset-password?token=%s", strings.TrimRight(s.config.ResetBaseURL, "/"), plaintext)
	if err := s.mailer.SendPasswordReset(ctx, user.Email, user.FirstName, user.LastName, resetURL); err != nil {
		return fmt.Errorf("failed to send reset email: %w", err)
	}

	slog.Info("password reset token issued",
		slog.Int64("user_id", user.ID),
		slog.Time("expires_at", token.ExpiresAt),
	)

	return nil
}

// ResetPassword は再設定トークンを償還し、新しいパスワードを設定する。
// 平文トークンは保存されていないため、未使用かつ有効期限内の候補の
// ダイジェストと順に照合して特定する。一致しない場合、期限切れ・使用済み・
// 改ざんのいずれであってもINVALID_OR_EXPIRED_TOKENを返す。
// 償還に成功すると、パスワード更新・トークンの使用済み化・当該ユーザーの
// 全セッション削除が単一トランザクションで行われる。
func (s *Service) ResetPassword(ctx context.Context, plaintext, newPassword string) error {
	candidates, err := s.resetRepo.ListRedeemable(ctx)
	if err != nil {
		return fmt.Errorf("failed to list reset tokens: %w", err)
	}

	var matched *model.PasswordResetToken
	for _, candidate := range candidates {
		if security.VerifyResetToken(plaintext, candidate.TokenDigest) {
			matched = candidate
			break
		}
	}
	if matched == nil {
		slog.Info("password reset with invalid token")
		return model.NewInvalidOrExpiredTokenError()
	}

	hash, err := security.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	if err := s.resetRepo.Redeem(ctx, matched, hash); err != nil {
		// 並行する償還に敗れた場合を含め、詳細は外に出さない
		slog.Error("failed to redeem reset token",
			slog.Int64("user_id", matched.UserID),
			slog.String("error", err.Error()),
		)
		return model.NewInvalidOrExpiredTokenError()
	}

	s.metrics.RecordResetRedemption()
	slog.Info("password reset completed", slog.Int64("user_id", matched.UserID))

	return nil
}
