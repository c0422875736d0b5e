package store

import (
	"fmt"
	"time"
)

// ReplaceDialogs replaces the dialogs table with the given summaries.
func (db *DB) ReplaceDialogs(dialogs []Dialog) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM dialogs`); err != nil {
		return fmt.Errorf("clear dialogs: %w", err)
	}

	now := time.Now().UnixMilli()
	for _, d := range dialogs {
		if _, err := tx.Exec(`
			INSERT INTO dialogs (conversation_id, name, last_message_id, last_message, last_time, unread, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			d.ConversationID, d.Name, d.LastMessageID, d.LastMessage, d.LastTime, d.Unread, now); err != nil {
			return fmt.Errorf("insert dialog %d: %w", d.ConversationID, err)
		}
	}
	return tx.Commit()
}

// ListDialogs returns dialogs sorted by last message time descending.
// Dialogs without messages come last.
func (db *DB) ListDialogs() ([]Dialog, error) {
	rows, err := db.Query(`
		SELECT conversation_id, name, last_message_id, last_message, last_time, unread
		FROM dialogs
		ORDER BY last_message_id = 0, last_time DESC, conversation_id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var dialogs []Dialog
	for rows.Next() {
		var d Dialog
		if err := rows.Scan(&d.ConversationID, &d.Name, &d.LastMessageID, &d.LastMessage, &d.LastTime, &d.Unread); err != nil {
			return nil, err
		}
		dialogs = append(dialogs, d)
	}
	return dialogs, rows.Err()
}
