package store

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/matheus3301/rentchat/internal/chat"
)

// AppendMessage persists m and fills in its ID, Seq and CreatedAt.
// CreatedAt never goes backwards within a room, even if the clock does.
func (db *DB) AppendMessage(m *chat.Message) error {
	if err := m.Validate(); err != nil {
		return err
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := db.now().UnixMilli()
	customerName := ""
	if m.SenderRole == chat.RoleCustomer {
		customerName = m.SenderName
	}
	if err := ensureRoom(tx, m.Room, customerName, now); err != nil {
		return fmt.Errorf("ensure room: %w", err)
	}

	var lastSeq, lastAt int64
	if err := tx.QueryRow(`SELECT last_seq, last_message_at FROM rooms WHERE id = ?`, m.Room).
		Scan(&lastSeq, &lastAt); err != nil {
		return fmt.Errorf("read room cursor: %w", err)
	}

	m.ID = uuid.NewString()
	m.Seq = lastSeq + 1
	m.CreatedAt = max(now, lastAt)

	if _, err := tx.Exec(`
		INSERT INTO messages (msg_id, room_id, room_seq, sender_id, sender_role, sender_name, body, attachment, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Room, m.Seq, m.SenderID, string(m.SenderRole), m.SenderName, m.Body, m.Attachment, m.CreatedAt); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	if _, err := tx.Exec(`
		UPDATE rooms SET last_seq = ?, last_message_at = ?, last_message_preview = ?, updated_at = ?
		WHERE id = ?`,
		m.Seq, m.CreatedAt, m.Preview(), now, m.Room); err != nil {
		return fmt.Errorf("advance room cursor: %w", err)
	}

	return tx.Commit()
}

// ListMessages returns the full history of a room, oldest first.
func (db *DB) ListMessages(roomID string) ([]chat.Message, error) {
	return db.ListMessagesAfter(roomID, 0, 0)
}

// ListMessagesAfter returns messages with Seq > afterSeq, oldest first.
// limit <= 0 means no limit.
func (db *DB) ListMessagesAfter(roomID string, afterSeq int64, limit int) ([]chat.Message, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.Query(`
		SELECT msg_id, room_id, room_seq, sender_id, sender_role, sender_name, body, attachment, created_at
		FROM messages
		WHERE room_id = ? AND room_seq > ?
		ORDER BY room_seq ASC
		LIMIT ?`, roomID, afterSeq, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	msgs := []chat.Message{}
	for rows.Next() {
		var m chat.Message
		var role string
		if err := rows.Scan(&m.ID, &m.Room, &m.Seq, &m.SenderID, &role, &m.SenderName, &m.Body, &m.Attachment, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.SenderRole = chat.Role(role)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// MessageCount returns the total number of messages.
func (db *DB) MessageCount() (int64, error) {
	var n int64
	err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&n)
	return n, err
}
