package store

// SearchMessages performs a full-text search on message bodies. Deleted
// messages are skipped. convID 0 searches every conversation.
func (db *DB) SearchMessages(query string, convID int64, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 50
	}

	q := `
		SELECT m.id, m.conversation_id, m.msg_id, m.sender_id, m.body,
		       m.timestamp, m.edited_at, m.deleted, m.readers,
		       snippet(messages_fts, '<<', '>>', '...', -1, 32)
		FROM messages_fts f
		JOIN messages m ON m.id = f.docid
		WHERE messages_fts MATCH ? AND m.deleted = 0`

	args := []any{query}
	if convID != 0 {
		q += " AND m.conversation_id = ?"
		args = append(args, convID)
	}
	q += " ORDER BY m.timestamp DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(
			&r.Message.ID, &r.Message.ConversationID, &r.Message.MsgID,
			&r.Message.SenderID, &r.Message.Body,
			&r.Message.Timestamp, &r.Message.EditedAt, &r.Message.Deleted,
			&r.Message.Readers, &r.Snippet,
		); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
