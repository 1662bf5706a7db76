package store

import (
	"fmt"
	"time"
)

// SessionRecord is the persisted metadata for one live session.
type SessionRecord struct {
	ID        string
	Title     string
	UserID    string
	ProjectID string
	CWD       string
	CreatedAt time.Time
}

func (s *Store) PutSession(rec *SessionRecord) error {
	_, err := s.db.Exec(`INSERT INTO sessions (id, title, user_id, project_id, cwd, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET title = excluded.title`,
		rec.ID, rec.Title, rec.UserID, rec.ProjectID, rec.CWD, rec.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("put session %s: %w", rec.ID, err)
	}
	return nil
}

func (s *Store) RenameSession(id, title string) error {
	_, err := s.db.Exec("UPDATE sessions SET title = ? WHERE id = ?", title, id)
	if err != nil {
		return fmt.Errorf("rename session %s: %w", id, err)
	}
	return nil
}

func (s *Store) DeleteSession(id string) error {
	_, err := s.db.Exec("DELETE FROM sessions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}

func (s *Store) ListSessions() ([]SessionRecord, error) {
	rows, err := s.db.Query(`SELECT id, title, user_id, project_id, cwd, created_at
		FROM sessions ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var recs []SessionRecord
	for rows.Next() {
		var r SessionRecord
		if err := rows.Scan(&r.ID, &r.Title, &r.UserID, &r.ProjectID, &r.CWD, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}
