package database

import (
	"context"
	"fmt"
	"time"

	"autopunch/internal/models"
)

func (db *DB) RecordUsage(ctx context.Context, log *models.UsageLog) error {
	if log.Count <= 0 {
		log.Count = 1
	}
	query := `INSERT INTO usage_logs (user_id, action, count, details, created_at)
              VALUES (?, ?, ?, ?, ?)`
	now := time.Now()
	result, err := db.ExecContext(ctx, query, log.UserID, log.Action, log.Count, log.Details, fmtTime(now))
	if err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	log.ID = id
	log.CreatedAt = now
	return nil
}

func (db *DB) GetUsageStats(ctx context.Context, userID int64) (*models.UsageStats, error) {
	query := `SELECT action, COALESCE(SUM(count), 0) FROM usage_logs WHERE user_id = ? GROUP BY action`
	rows, err := db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get usage stats: %w", err)
	}
	defer rows.Close()

	stats := &models.UsageStats{UserID: userID, ByAction: make(map[string]int)}
	for rows.Next() {
		var action string
		var count int
		if err := rows.Scan(&action, &count); err != nil {
			return nil, fmt.Errorf("failed to scan usage stats: %w", err)
		}
		stats.ByAction[action] = count
	}
	return stats, rows.Err()
}
