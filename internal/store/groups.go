package store

import (
	"context"
	"fmt"

	"github.com/roach88/idmerge/internal/ids"
)

// CreateGroup creates a group if missing and adds members to it. Adding an
// existing member is a no-op.
func (t *Tx) CreateGroup(ctx context.Context, groupID, title string, members ...ids.RecipientID) error {
	if _, err := t.exec(ctx, `
		INSERT INTO groups (group_id, title) VALUES (?, ?)
		ON CONFLICT(group_id) DO NOTHING
	`, groupID, title); err != nil {
		return fmt.Errorf("create group %s: %w", groupID, err)
	}
	for _, m := range members {
		if _, err := t.exec(ctx, `
			INSERT INTO group_members (group_id, recipient_id) VALUES (?, ?)
			ON CONFLICT DO NOTHING
		`, groupID, m); err != nil {
			return fmt.Errorf("add member %d to %s: %w", m, groupID, err)
		}
	}
	return nil
}

// GroupMembers returns a group's members ordered by id.
func (s *Store) GroupMembers(ctx context.Context, groupID string) ([]ids.RecipientID, error) {
	return s.recipientList(ctx,
		`SELECT recipient_id FROM group_members WHERE group_id = ? ORDER BY recipient_id ASC`, groupID)
}

func (s *Store) recipientList(ctx context.Context, query string, args ...any) ([]ids.RecipientID, error) {
	rows, err := s.reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}
	defer rows.Close()

	var out []ids.RecipientID
	for rows.Next() {
		var id ids.RecipientID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan recipient id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
