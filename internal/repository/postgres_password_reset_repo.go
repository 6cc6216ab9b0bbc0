package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/authd/internal/model"
)

// PostgresPasswordResetRepo はPostgreSQLを使用したパスワード再設定トークンリポジトリ。
type PostgresPasswordResetRepo struct {
	db *sql.DB
}

// NewPostgresPasswordResetRepo はPostgresPasswordResetRepoを生成する。
func NewPostgresPasswordResetRepo(db *sql.DB) *PostgresPasswordResetRepo {
	return &PostgresPasswordResetRepo{db: db}
}

// Create は再設定トークンレコードを作成する。
func (r *PostgresPasswordResetRepo) Create(ctx context.Context, token *model.PasswordResetToken) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO password_resets (id, user_id, token_digest, expires_at, used, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		token.ID, token.UserID, token.TokenDigest, token.ExpiresAt, token.Used,
		token.CreatedAt, token.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create password reset token: %w", err)
	}
	return nil
}

// InvalidateAllForUser は指定ユーザーの未使用トークンをすべて使用済みにする。
func (r *PostgresPasswordResetRepo) InvalidateAllForUser(ctx context.Context, userID int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE password_resets SET used = true, updated_at = now()
		 WHERE user_id = $1 AND used = false`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("failed to invalidate reset tokens: %w", err)
	}
	return nil
}

// ListRedeemable は未使用かつ有効期限内のトークンを新しい順に返す。
// 発行時に過去のトークンを無効化しているため、候補はユーザーあたり最大1件となる。
func (r *PostgresPasswordResetRepo) ListRedeemable(ctx context.Context) ([]*model.PasswordResetToken, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, token_digest, expires_at, used, created_at, updated_at
		 FROM password_resets
		 WHERE used = false AND expires_at > now()
		 ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list redeemable tokens: %w", err)
	}
	defer rows.Close()

	var tokens []*model.PasswordResetToken
	for rows.Next() {
		token := &model.PasswordResetToken{}
		if err := rows.Scan(&token.ID, &token.UserID, &token.TokenDigest, &token.ExpiresAt,
			&token.Used, &token.CreatedAt, &token.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan reset token: %w", err)
		}
		tokens = append(tokens, token)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate reset tokens: %w", err)
	}

	return tokens, nil
}

// Redeem はトークンの償還を単一トランザクションで実行する。
// パスワード更新・トークンの使用済み化・全セッション削除のいずれかが失敗した場合、
// すべての変更がロールバックされる。途中のクラッシュで
// 「トークンだけ使用済み」「古いセッションだけ残存」という状態は生じない。
func (r *PostgresPasswordResetRepo) Redeem(ctx context.Context, token *model.PasswordResetToken, newPasswordHash string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// 1. パスワードハッシュを更新
	result, err := tx.ExecContext(ctx,
		`UPDATE users SET password_hash = $2 WHERE id = $1`,
		token.UserID, newPasswordHash,
	)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("user not found: %d", token.UserID)
	}

	// 2. トークンを使用済みにする（false→trueの一方向遷移）
	result, err = tx.ExecContext(ctx,
		`UPDATE password_resets SET used = true, updated_at = now()
		 WHERE id = $1 AND used = false`,
		token.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark token used: %w", err)
	}
	rowsAffected, err = result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		// 並行する償還が先に完了していた場合。単回使用を厳守する。
		return fmt.Errorf("token already used: %s", token.ID)
	}

	// 3. 当該ユーザーの全セッションを破棄
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM sessions WHERE user_id = $1`,
		token.UserID,
	); err != nil {
		return fmt.Errorf("failed to delete user sessions: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// DeleteStale は使用済みまたは期限切れのトークンを削除し、削除件数を返す。
func (r *PostgresPasswordResetRepo) DeleteStale(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM password_resets WHERE used = true OR expires_at <= now()`,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale reset tokens: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return deleted, nil
}

// compile-time interface check
var _ PasswordResetRepository = (*PostgresPasswordResetRepo)(nil)
