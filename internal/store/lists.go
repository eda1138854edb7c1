package store

import (
	"context"
	"fmt"

	"github.com/roach88/idmerge/internal/ids"
)

// CreateNotificationProfile creates a profile whose allow-list holds
// allowed. It returns the profile id.
func (t *Tx) CreateNotificationProfile(ctx context.Context, name string, allowed ...ids.RecipientID) (int64, error) {
	return t.createList(ctx, "notification_profiles", "notification_profile_allowed_members", "profile_id", name, allowed)
}

// CreateDistributionList creates a story distribution list with members.
func (t *Tx) CreateDistributionList(ctx context.Context, name string, members ...ids.RecipientID) (int64, error) {
	return t.createList(ctx, "distribution_lists", "distribution_list_members", "list_id", name, members)
}

// AddMessageSendLog records a sent payload and the devices it went to.
func (t *Tx) AddMessageSendLog(ctx context.Context, dateSent int64, content []byte, recipients ...ids.RecipientID) (int64, error) {
	res, err := t.exec(ctx, `INSERT INTO msl_payloads (date_sent, content) VALUES (?, ?)`, dateSent, content)
	if err != nil {
		return 0, fmt.Errorf("add msl payload: %w", err)
	}
	payload, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("add msl payload: %w", err)
	}
	for _, r := range recipients {
		if _, err := t.exec(ctx, `
			INSERT INTO msl_recipients (payload_id, recipient_id, device) VALUES (?, ?, 1)
			ON CONFLICT DO NOTHING
		`, payload, r); err != nil {
			return 0, fmt.Errorf("add msl recipient: %w", err)
		}
	}
	return payload, nil
}

func (t *Tx) createList(ctx context.Context, table, members, key, name string, recipients []ids.RecipientID) (int64, error) {
	res, err := t.exec(ctx, fmt.Sprintf(`INSERT INTO %s (name) VALUES (?)`, table), name)
	if err != nil {
		return 0, fmt.Errorf("create %s %q: %w", table, name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("create %s %q: %w", table, name, err)
	}
	insert := fmt.Sprintf(`INSERT INTO %s (%s, recipient_id) VALUES (?, ?) ON CONFLICT DO NOTHING`, members, key)
	for _, r := range recipients {
		if _, err := t.exec(ctx, insert, id, r); err != nil {
			return 0, fmt.Errorf("add %s member %d: %w", table, r, err)
		}
	}
	return id, nil
}

// NotificationProfileMembers returns the allow-list of a profile.
func (s *Store) NotificationProfileMembers(ctx context.Context, profile int64) ([]ids.RecipientID, error) {
	return s.recipientList(ctx, `
		SELECT recipient_id FROM notification_profile_allowed_members
		WHERE profile_id = ? ORDER BY recipient_id ASC
	`, profile)
}

// DistributionListMembers returns the members of a distribution list.
func (s *Store) DistributionListMembers(ctx context.Context, list int64) ([]ids.RecipientID, error) {
	return s.recipientList(ctx, `
		SELECT recipient_id FROM distribution_list_members
		WHERE list_id = ? ORDER BY recipient_id ASC
	`, list)
}

// MessageSendLogRecipients returns who a logged payload was sent to.
func (s *Store) MessageSendLogRecipients(ctx context.Context, payload int64) ([]ids.RecipientID, error) {
	return s.recipientList(ctx, `
		SELECT recipient_id FROM msl_recipients
		WHERE payload_id = ? ORDER BY recipient_id ASC
	`, payload)
}
