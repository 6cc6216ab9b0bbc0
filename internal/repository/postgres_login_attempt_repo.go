package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/authd/internal/model"
)

// PostgresLoginAttemptRepo はPostgreSQLを使用したログイン試行リポジトリ。
type PostgresLoginAttemptRepo struct {
	db *sql.DB
}

// NewPostgresLoginAttemptRepo はPostgresLoginAttemptRepoを生成する。
func NewPostgresLoginAttemptRepo(db *sql.DB) *PostgresLoginAttemptRepo {
	return &PostgresLoginAttemptRepo{db: db}
}

// Create はログイン試行レコードを記録する。
func (r *PostgresLoginAttemptRepo) Create(ctx context.Context, attempt *model.LoginAttempt) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO login_attempts (id, email, success, ip_address, attempted_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		attempt.ID, attempt.Email, attempt.Success, attempt.IPAddress, attempt.AttemptedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create login attempt: %w", err)
	}
	return nil
}

// CountRecentFailures は指定したメールアドレスに対する直近の失敗回数を数える。
// 成功した試行は数に含まれない。
func (r *PostgresLoginAttemptRepo) CountRecentFailures(ctx context.Context, email string, window time.Duration) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM login_attempts
		 WHERE email = $1 AND success = false AND attempted_at > $2`,
		email, time.Now().Add(-window),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count login failures: %w", err)
	}
	return count, nil
}

// DeleteOlderThan は指定時刻より古い試行レコードを削除し、削除件数を返す。
func (r *PostgresLoginAttemptRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM login_attempts WHERE attempted_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old login attempts: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return deleted, nil
}

// compile-time interface check
var _ LoginAttemptRepository = (*PostgresLoginAttemptRepo)(nil)
