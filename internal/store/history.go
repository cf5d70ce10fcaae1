package store

import (
	"database/sql"

	"github.com/newsave/newsave/internal/constants"
	"github.com/newsave/newsave/internal/domain"
)

func (db *DB) CreateHistoryEntry(entry *domain.HistoryEntry) error {
	query := `INSERT INTO history (id, queue_id, url, title, kind, format, quality, file_path, completed_at)
		VALUES (:id, :queue_id, :url, :title, :kind, :format, :quality, :file_path, :completed_at)`

	if _, err := db.NamedExec(query, entry); err != nil {
		return err
	}

	// Evict past the cap, oldest first.
	evict := `DELETE FROM history WHERE id IN (
		SELECT id FROM history ORDER BY completed_at DESC, id LIMIT -1 OFFSET ?)`
	_, err := db.Exec(evict, constants.MaxHistoryEntries)
	return err
}

func (db *DB) GetHistoryEntry(id string) (*domain.HistoryEntry, error) {
	query := `SELECT id, queue_id, url, title, kind, format, quality, file_path, completed_at
		FROM history WHERE id = ?`

	entry := &domain.HistoryEntry{}
	err := db.Get(entry, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (db *DB) ListHistory() ([]*domain.HistoryEntry, error) {
	query := `SELECT id, queue_id, url, title, kind, format, quality, file_path, completed_at
		FROM history ORDER BY completed_at DESC, id LIMIT ?`

	var entries []*domain.HistoryEntry
	err := db.Select(&entries, query, constants.MaxHistoryEntries)
	return entries, err
}

// ClearHistoryFilePath nulls the file path on every entry pointing at path.
// The entries themselves survive.
func (db *DB) ClearHistoryFilePath(path string) error {
	_, err := db.Exec(`UPDATE history SET file_path = NULL WHERE file_path = ?`, path)
	return err
}

func (db *DB) DeleteHistoryEntry(id string) error {
	_, err := db.Exec(`DELETE FROM history WHERE id = ?`, id)
	return err
}

func (db *DB) ClearHistory() error {
	_, err := db.Exec(`DELETE FROM history`)
	return err
}

func (db *DB) CountHistory() (int, error) {
	var count int
	err := db.Get(&count, `SELECT COUNT(*) FROM history`)
	return count, err
}
