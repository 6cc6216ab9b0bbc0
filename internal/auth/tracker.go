package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/authd/internal/model"
	"github.com/hitoshi/authd/internal/repository"
)

const (
	// defaultFailureWindow は失敗回数を数える時間窓。
	defaultFailureWindow = 15 * time.Minute
	// defaultFailureThreshold はこの回数以上の失敗でログインを拒否する閾値。
	defaultFailureThreshold = 5
)

// Tracker はログイン試行の記録と失敗回数の集計を提供する。
// 記録は成功・失敗を問わず無条件に追記され、成功してもそれまでの
// 失敗レコードは消されない。集計はメールアドレス単位で行う。
type Tracker struct {
	attemptRepo repository.LoginAttemptRepository
	window      time.Duration
	threshold   int
}

// NewTracker はTrackerを生成する。
// windowが0の場合は15分、thresholdが0の場合は5回が使用される。
func NewTracker(attemptRepo repository.LoginAttemptRepository, window time.Duration, threshold int) *Tracker {
	if window <= 0 {
		window = defaultFailureWindow
	}
	if threshold <= 0 {
		threshold = defaultFailureThreshold
	}
	return &Tracker{
		attemptRepo: attemptRepo,
		window:      window,
		threshold:   threshold,
	}
}

// Record はログイン試行を記録する。
func (t *Tracker) Record(ctx context.Context, email string, success bool, ipAddress string) error {
	attempt := &model.LoginAttempt{
		ID:          uuid.New().String(),
		Email:       strings.ToLower(email),
		Success:     success,
		IPAddress:   ipAddress,
		AttemptedAt: time.Now(),
	}
	if err := t.attemptRepo.Create(ctx, attempt); err != nil {
		return fmt.Errorf("failed to record login attempt: %w", err)
	}
	return nil
}

// LockedOut は時間窓内の失敗回数が閾値に達しているかを返す。
func (t *Tracker) LockedOut(ctx context.Context, email string) (bool, error) {
	count, err := t.attemptRepo.CountRecentFailures(ctx, strings.ToLower(email), t.window)
	if err != nil {
		return false, fmt.Errorf("failed to count login failures: %w", err)
	}
	return count >= t.threshold, nil
}
