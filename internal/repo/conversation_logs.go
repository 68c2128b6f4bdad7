package repo

import (
	"context"
	"fmt"
)

// InsertConversationLog appends one audit entry for a conversation turn.
func (r *PostgresRepository) InsertConversationLog(ctx context.Context, entry ConversationLog) error {
	const q = `
INSERT INTO conversation_logs (user_id, message, sender)
VALUES ($1, $2, $3);
`
	if _, err := r.pool.Exec(ctx, q, entry.UserID, entry.Message, entry.Sender); err != nil {
		return fmt.Errorf("insert conversation log: %w", err)
	}
	return nil
}

// ListRecentConversationLogs returns the latest turns exchanged with a user.
func (r *PostgresRepository) ListRecentConversationLogs(ctx context.Context, userID int64, limit int) ([]ConversationLog, error) {
	if limit <= 0 {
		limit = 10
	}
	const q = `
SELECT id, user_id, message, sender, timestamp
FROM conversation_logs
WHERE user_id = $1
ORDER BY timestamp DESC
LIMIT $2;
`
	rows, err := r.pool.Query(ctx, q, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list conversation logs: %w", err)
	}
	defer rows.Close()

	var entries []ConversationLog
	for rows.Next() {
		var entry ConversationLog
		if err := rows.Scan(&entry.ID, &entry.UserID, &entry.Message, &entry.Sender, &entry.Timestamp); err != nil {
			return nil, fmt.Errorf("scan conversation log: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversation logs: %w", err)
	}
	return entries, nil
}
