package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"autopunch/internal/models"
)

func (db *DB) UpsertBinding(ctx context.Context, binding *models.UserBinding) error {
	query := `INSERT INTO user_bindings (
				chat_id, emp_id, company_id, internal_company_id,
				encrypted_token, token_iv, cookies, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
              ON CONFLICT(chat_id) DO UPDATE SET
                emp_id = excluded.emp_id,
                company_id = excluded.company_id,
                internal_company_id = excluded.internal_company_id,
                encrypted_token = excluded.encrypted_token,
                token_iv = excluded.token_iv,
                cookies = excluded.cookies,
                updated_at = excluded.updated_at`
	now := time.Now()
	_, err := db.ExecContext(ctx, query,
		binding.ChatID,
		binding.EmpID,
		binding.CompanyID,
		binding.InternalCompanyID,
		binding.EncryptedToken,
		binding.TokenIV,
		binding.Cookies,
		fmtTime(now),
		fmtTime(now),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert binding: %w", err)
	}

	stored, err := db.GetBindingByChatID(ctx, binding.ChatID)
	if err != nil {
		return fmt.Errorf("failed to reload binding: %w", err)
	}
	binding.ID = stored.ID
	binding.CreatedAt = stored.CreatedAt
	binding.UpdatedAt = stored.UpdatedAt
	return nil
}

const bindingColumns = `id, chat_id, emp_id, company_id, internal_company_id,
	                 encrypted_token, token_iv, cookies, created_at, updated_at`

func (db *DB) GetBindingByChatID(ctx context.Context, chatID int64) (*models.UserBinding, error) {
	query := `SELECT ` + bindingColumns + ` FROM user_bindings WHERE chat_id = ?`
	return db.queryBinding(ctx, query, chatID)
}

func (db *DB) GetBindingByID(ctx context.Context, id int64) (*models.UserBinding, error) {
	query := `SELECT ` + bindingColumns + ` FROM user_bindings WHERE id = ?`
	return db.queryBinding(ctx, query, id)
}

func (db *DB) queryBinding(ctx context.Context, query string, arg any) (*models.UserBinding, error) {
	var b models.UserBinding
	var cookies sql.NullString
	var createdAt, updatedAt string
	err := db.QueryRowContext(ctx, query, arg).Scan(
		&b.ID, &b.ChatID, &b.EmpID, &b.CompanyID, &b.InternalCompanyID,
		&b.EncryptedToken, &b.TokenIV, &cookies, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotBound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get binding: %w", err)
	}
	b.Cookies = cookies.String
	if b.CreatedAt, err = parseStoredTime(createdAt); err != nil {
		return nil, err
	}
	if b.UpdatedAt, err = parseStoredTime(updatedAt); err != nil {
		return nil, err
	}
	return &b, nil
}
