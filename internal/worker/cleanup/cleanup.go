// Package cleanup は期限切れデータの自動削除ジョブを提供する。
// 期限切れセッション、使用済み・期限切れのパスワード再設定トークン、
// 保持期間（デフォルト14日）を超過したログイン試行記録を定期削除する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/authd/internal/repository"
)

// CleanupJob は期限切れデータの自動削除ジョブ。
// 定期実行のバッチジョブとして設計されており、冪等な削除処理を保証する。
type CleanupJob struct {
	sessionRepo repository.SessionRepository
	resetRepo   repository.PasswordResetRepository
	attemptRepo repository.LoginAttemptRepository
	logger      *slog.Logger

	AttemptRetentionDays int // ログイン試行記録の保持日数（デフォルト: 14）
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(
	sessionRepo repository.SessionRepository,
	resetRepo repository.PasswordResetRepository,
	attemptRepo repository.LoginAttemptRepository,
	logger *slog.Logger,
) *CleanupJob {
	return &CleanupJob{
		sessionRepo:          sessionRepo,
		resetRepo:            resetRepo,
		attemptRepo:          attemptRepo,
		logger:               logger,
		AttemptRetentionDays: 14,
	}
}

// Run は期限切れデータを削除する。
// 冪等: 削除対象がない場合でもエラーにならない。
// いずれかの削除が失敗しても残りは実行し、最後にまとめてエラーを返す。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	var firstErr error

	// 1. 期限切れセッション
	sessions, err := j.sessionRepo.DeleteExpired(ctx)
	if err != nil {
		j.logger.Error("期限切れセッションの削除に失敗しました",
			slog.String("error", err.Error()),
		)
		firstErr = fmt.Errorf("期限切れセッションの削除に失敗: %w", err)
	}

	// 2. 使用済み・期限切れの再設定トークン
	tokens, err := j.resetRepo.DeleteStale(ctx)
	if err != nil {
		j.logger.Error("再設定トークンの削除に失敗しました",
			slog.String("error", err.Error()),
		)
		if firstErr == nil {
			firstErr = fmt.Errorf("再設定トークンの削除に失敗: %w", err)
		}
	}

	// 3. 保持期間超過のログイン試行記録
	cutoff := time.Now().AddDate(0, 0, -j.AttemptRetentionDays)
	attempts, err := j.attemptRepo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		j.logger.Error("ログイン試行記録の削除に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.AttemptRetentionDays),
		)
		if firstErr == nil {
			firstErr = fmt.Errorf("ログイン試行記録の削除に失敗: %w", err)
		}
	}

	duration := time.Since(start)
	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Int64("deleted_sessions", sessions),
		slog.Int64("deleted_reset_tokens", tokens),
		slog.Int64("deleted_login_attempts", attempts),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return firstErr
}

// Start はクリーンアップジョブを定期実行する。
// 起動直後に1回実行し、以降はinterval間隔で実行する。
// ctxのキャンセルで停止する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	if err := j.Run(ctx); err != nil {
		j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil {
				j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
			}
		}
	}
}
