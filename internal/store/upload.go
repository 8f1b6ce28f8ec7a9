package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/matheus3301/rentchat/internal/chat"
)

// ErrUploadNotFound is returned for names that were never recorded.
var ErrUploadNotFound = errors.New("upload not recorded")

// UploadOwner identifies who stored an image.
type UploadOwner struct {
	ID   string
	Role chat.Role
}

// RecordUpload remembers who stored the image called name.
func (db *DB) RecordUpload(name string, owner UploadOwner) error {
	_, err := db.Exec(`INSERT INTO uploads (name, owner_id, owner_role, created_at) VALUES (?, ?, ?, ?)`,
		name, owner.ID, string(owner.Role), db.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("record upload: %w", err)
	}
	return nil
}

// UploadOwnerOf returns the owner recorded for name.
func (db *DB) UploadOwnerOf(name string) (UploadOwner, error) {
	var o UploadOwner
	var role string
	err := db.QueryRow(`SELECT owner_id, owner_role FROM uploads WHERE name = ?`, name).Scan(&o.ID, &role)
	if errors.Is(err, sql.ErrNoRows) {
		return o, ErrUploadNotFound
	}
	if err != nil {
		return o, err
	}
	o.Role = chat.Role(role)
	return o, nil
}

// UploadReferenced reports whether a persisted message carries the image
// called name. Attachments may be stored as a bare path or an absolute URL.
func (db *DB) UploadReferenced(name, urlPrefix string) (bool, error) {
	var n int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM messages
		WHERE attachment = ? OR attachment LIKE ?`,
		urlPrefix+name, "%"+urlPrefix+name).Scan(&n)
	return n > 0, err
}

// ForgetUpload drops the record of name. Forgetting an unknown name is a no-op.
func (db *DB) ForgetUpload(name string) error {
	_, err := db.Exec(`DELETE FROM uploads WHERE name = ?`, name)
	return err
}
