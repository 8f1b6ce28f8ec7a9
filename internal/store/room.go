package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/matheus3301/rentchat/internal/chat"
)

// EnsureRoom creates the room for a customer if it does not exist yet and
// refreshes the stored display name when one is given.
func (db *DB) EnsureRoom(roomID, customerName string) error {
	return ensureRoom(db.DB, roomID, customerName, db.now().UnixMilli())
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func ensureRoom(ex execer, roomID, customerName string, now int64) error {
	customerID, ok := chat.CustomerIDFromRoom(roomID)
	if !ok {
		return fmt.Errorf("%w: %q", chat.ErrInvalidRoom, roomID)
	}
	_, err := ex.Exec(`
		INSERT INTO rooms (id, customer_id, customer_name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			customer_name = CASE WHEN excluded.customer_name != '' THEN excluded.customer_name ELSE rooms.customer_name END,
			updated_at = excluded.updated_at`,
		roomID, customerID, customerName, now, now)
	return err
}

// inboxSelect yields inbox rows with the admin-side unread count, i.e.
// customer messages the admins have not read.
const inboxSelect = `
	SELECT r.id, r.customer_id, r.customer_name, r.last_message_preview, r.last_message_at,
		(SELECT COUNT(*) FROM messages m
			WHERE m.room_id = r.id AND m.sender_role = 'customer' AND m.is_read = 0) AS unread
	FROM rooms r`

// ListRooms returns every room that has at least one message, most recent first.
func (db *DB) ListRooms() ([]chat.InboxEntry, error) {
	rows, err := db.Query(inboxSelect + `
		WHERE r.last_seq > 0
		ORDER BY r.last_message_at DESC, r.id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	entries := []chat.InboxEntry{}
	for rows.Next() {
		e, err := scanInbox(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// GetRoom returns the inbox entry for one room, or nil if it does not exist.
func (db *DB) GetRoom(roomID string) (*chat.InboxEntry, error) {
	e, err := scanInbox(db.QueryRow(inboxSelect+` WHERE r.id = ?`, roomID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanInbox(s scanner) (*chat.InboxEntry, error) {
	var e chat.InboxEntry
	if err := s.Scan(&e.Room, &e.Customer.ID, &e.Customer.Name, &e.LastMessage, &e.LastMessageTime, &e.UnreadCount); err != nil {
		return nil, err
	}
	return &e, nil
}

// MarkRead flags every message in the room that was not sent by role as read
// by role. It is idempotent and returns the number of messages newly marked.
func (db *DB) MarkRead(roomID string, role chat.Role) (int64, error) {
	res, err := db.Exec(`
		UPDATE messages SET is_read = 1
		WHERE room_id = ? AND sender_role != ? AND is_read = 0`,
		roomID, string(role))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// UnreadCount returns how many messages from the counterpart of role are unread.
func (db *DB) UnreadCount(roomID string, role chat.Role) (int, error) {
	var n int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM messages
		WHERE room_id = ? AND sender_role != ? AND is_read = 0`,
		roomID, string(role)).Scan(&n)
	return n, err
}

// LastSeq returns the sequence number of the newest message in the room,
// 0 for rooms without messages.
func (db *DB) LastSeq(roomID string) (int64, error) {
	var seq int64
	err := db.QueryRow(`SELECT last_seq FROM rooms WHERE id = ?`, roomID).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return seq, err
}

// RoomCount returns the number of rooms with at least one message.
func (db *DB) RoomCount() (int64, error) {
	var n int64
	err := db.QueryRow(`SELECT COUNT(*) FROM rooms WHERE last_seq > 0`).Scan(&n)
	return n, err
}
