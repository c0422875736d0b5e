package store

import (
	"fmt"
	"time"
)

// UpsertMessage inserts or updates a message (idempotent on conversation_id + msg_id).
func (db *DB) UpsertMessage(m *Message) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO messages (conversation_id, msg_id, sender_id, body, timestamp, edited_at, deleted, readers, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id, msg_id) DO UPDATE SET
			sender_id = excluded.sender_id,
			body = excluded.body,
			timestamp = excluded.timestamp,
			edited_at = excluded.edited_at,
			deleted = excluded.deleted,
			readers = excluded.readers`,
		m.ConversationID, m.MsgID, m.SenderID, m.Body, m.Timestamp, m.EditedAt, m.Deleted, m.Readers, now)
	if err != nil {
		return fmt.Errorf("upsert message %d/%d: %w", m.ConversationID, m.MsgID, err)
	}
	return nil
}

// ListMessages returns messages of a conversation using keyset pagination by
// timestamp, newest first.
func (db *DB) ListMessages(convID int64, beforeTs int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		beforeTs = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT id, conversation_id, msg_id, sender_id, body, timestamp, edited_at, deleted, readers
		FROM messages
		WHERE conversation_id = ? AND timestamp < ?
		ORDER BY timestamp DESC, msg_id DESC
		LIMIT ?`, convID, beforeTs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.MsgID, &m.SenderID, &m.Body, &m.Timestamp, &m.EditedAt, &m.Deleted, &m.Readers); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// Counts returns how many messages, conversations and dialogs are mirrored.
func (db *DB) Counts() (Counts, error) {
	var c Counts
	err := db.QueryRow(`
		SELECT
			(SELECT COUNT(*) FROM messages),
			(SELECT COUNT(DISTINCT conversation_id) FROM messages),
			(SELECT COUNT(*) FROM dialogs)`).Scan(&c.Messages, &c.Conversations, &c.Dialogs)
	return c, err
}

// Reset deletes every mirrored row.
func (db *DB) Reset() error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"messages", "dialogs", "sync_state"} {
		if _, err := tx.Exec(`DELETE FROM ` + table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return tx.Commit()
}
