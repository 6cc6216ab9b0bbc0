// Package session はサーバー側で追跡するセッションのライフサイクル管理を提供する。
//
// セッションIDは暗号乱数による推測不可能な不透明トークンであり、
// クライアントにはHttpOnlyクッキーとしてのみ渡される。
// 認証状態の変化（ログイン）時にはIDを再生成し、セッション固定攻撃を防ぐ。
package session

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/authd/internal/metrics"
	"github.com/hitoshi/authd/internal/model"
	"github.com/hitoshi/authd/internal/repository"
	"github.com/hitoshi/authd/internal/security"
)

const (
	// defaultTTL はセッションの絶対有効期間。
	defaultTTL = 24 * time.Hour
	// defaultRenewWithin は残り有効期間がこの値を下回ったときに期限を延長する閾値。
	defaultRenewWithin = 15 * time.Minute
)

// Meta はセッションに記録するクライアント情報。
type Meta struct {
	UserAgent string
	IPAddress string
}

// MetaFromRequest はHTTPリクエストからクライアント情報を抽出する。
// IPアドレスはX-Forwarded-Forヘッダーの先頭エントリを優先し、
// なければRemoteAddrを使用する。
func MetaFromRequest(r *http.Request) Meta {
	return Meta{
		UserAgent: r.UserAgent(),
		IPAddress: clientIP(r),
	}
}

// clientIP はリクエスト元のIPアドレスを正規化して返す。
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	// RemoteAddrは "host:port" 形式のためホスト部のみ取り出す
	addr := r.RemoteAddr
	if idx := strings.LastIndex(addr, ":"); idx > 0 {
		return addr[:idx]
	}
	return addr
}

// ManagerConfig はセッションライフサイクル管理の設定。
type ManagerConfig struct {
	TTL         time.Duration // 絶対有効期間
	RenewWithin time.Duration // スライド延長の閾値
}

// Manager はセッションの作成・再生成・破棄・延長を管理する。
type Manager struct {
	sessionRepo repository.SessionRepository
	metrics     metrics.MetricsCollector
	config      ManagerConfig
}

// NewManager はManagerを生成する。
// TTLが0の場合は24時間、RenewWithinが0の場合は15分が使用される。
func NewManager(sessionRepo repository.SessionRepository, collector metrics.MetricsCollector, config ManagerConfig) *Manager {
	if config.TTL <= 0 {
		config.TTL = defaultTTL
	}
	if config.RenewWithin <= 0 {
		config.RenewWithin = defaultRenewWithin
	}
	return &Manager{
		sessionRepo: sessionRepo,
		metrics:     collector,
		config:      config,
	}
}

// Find は指定IDのセッションを取得する。見つからない場合はnilを返す。
// 期限切れの判定はTouchOrExpireで行う。
func (m *Manager) Find(ctx context.Context, id string) (*model.Session, error) {
	session, err := m.sessionRepo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	return session, nil
}

// CreateAnonymous は未認証の新規セッションを作成する。
func (m *Manager) CreateAnonymous(ctx context.Context, meta Meta) (*model.Session, error) {
	id, err := security.GenerateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := time.Now()
	session := &model.Session{
		ID:           id,
		UserAgent:    meta.UserAgent,
		IPAddress:    meta.IPAddress,
		LastActivity: now,
		ExpiresAt:    now.Add(m.config.TTL),
		CreatedAt:    now,
	}
	if err := m.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	m.metrics.RecordSessionCreated()
	return session, nil
}

// Regenerate はセッションIDを再生成する。
// 新しいセッションの作成に成功してから古いセッションを破棄する順序を守る。
// 途中で失敗してもクライアントが有効なセッションを失うことはない。
// クライアント情報は現在のリクエストから取り直す。
func (m *Manager) Regenerate(ctx context.Context, oldID string, meta Meta) (*model.Session, error) {
	fresh, err := m.CreateAnonymous(ctx, meta)
	if err != nil {
		return nil, err
	}

	if oldID != "" {
		if err := m.sessionRepo.DeleteByID(ctx, oldID); err != nil {
			// 古いIDの破棄失敗は再生成自体を失敗にはしない。
			// 残ったレコードはクリーンアップワーカーが期限切れ後に回収する。
			slog.Warn("failed to delete old session on regenerate",
				slog.String("error", err.Error()),
			)
		} else {
			m.metrics.RecordSessionDestroyed()
		}
	}

	slog.Info("session regenerated", slog.String("session_id", fresh.ID))
	return fresh, nil
}

// Bind はセッションに認証済みユーザーを紐付け、有効期限をTTLまで引き直す。
func (m *Manager) Bind(ctx context.Context, sessionID string, userID int64, meta Meta) error {
	expiresAt := time.Now().Add(m.config.TTL)
	if err := m.sessionRepo.BindUser(ctx, sessionID, userID, meta.UserAgent, meta.IPAddress, expiresAt); err != nil {
		return fmt.Errorf("failed to bind session: %w", err)
	}
	slog.Info("session bound to user",
		slog.String("session_id", sessionID),
		slog.Int64("user_id", userID),
	)
	return nil
}

// Destroy はセッションを破棄する。ストア障害時はSESSION_ERRORとなる。
func (m *Manager) Destroy(ctx context.Context, sessionID string) error {
	if err := m.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		slog.Error("failed to destroy session",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
		return model.NewSessionError()
	}
	m.metrics.RecordSessionDestroyed()
	return nil
}

// TouchOrExpire はセッションの期限判定とスライド延長を行う。
// 期限切れの場合はレコードを破棄しSESSION_EXPIREDを返す。
// 残り有効期間がRenewWithinを下回っている場合は期限を現在時刻+TTLに引き直す。
// いずれの場合も最終アクティビティ時刻を更新する。
func (m *Manager) TouchOrExpire(ctx context.Context, session *model.Session) error {
	now := time.Now()

	if session.Expired(now) {
		if err := m.sessionRepo.DeleteByID(ctx, session.ID); err != nil {
			slog.Error("failed to delete expired session",
				slog.String("session_id", session.ID),
				slog.String("error", err.Error()),
			)
		}
		m.metrics.RecordSessionExpired()
		return model.NewSessionExpiredError()
	}

	if session.ExpiresAt.Sub(now) < m.config.RenewWithin {
		newExpiry := now.Add(m.config.TTL)
		if err := m.sessionRepo.ExtendExpiry(ctx, session.ID, newExpiry); err != nil {
			return fmt.Errorf("failed to extend session expiry: %w", err)
		}
		session.ExpiresAt = newExpiry
	}

	if err := m.sessionRepo.Touch(ctx, session.ID); err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	session.LastActivity = now

	return nil
}

// ListActive は指定ユーザーの有効なセッション一覧を返す。
func (m *Manager) ListActive(ctx context.Context, userID int64) ([]*model.Session, error) {
	sessions, err := m.sessionRepo.ListActiveByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

// Terminate は指定ユーザーが所有するセッションを破棄する。
// 所有していないセッションIDを指定した場合はSESSION_NOT_FOUNDとなり、
// 他ユーザーのセッションには影響しない。
func (m *Manager) Terminate(ctx context.Context, userID int64, sessionID string) error {
	deleted, err := m.sessionRepo.DeleteByUserAndID(ctx, userID, sessionID)
	if err != nil {
		return fmt.Errorf("failed to terminate session: %w", err)
	}
	if !deleted {
		return model.NewSessionNotFoundError(sessionID)
	}

	m.metrics.RecordSessionDestroyed()
	slog.Info("session terminated",
		slog.String("session_id", sessionID),
		slog.Int64("user_id", userID),
	)
	return nil
}
