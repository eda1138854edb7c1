package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/idmerge/internal/ids"
	"github.com/roach88/idmerge/internal/recipient"
)

const recipientColumns = `id, aci, pni, e164, registered, unregistered_timestamp,
	blocked, profile_sharing, hidden,
	message_ringtone, message_vibrate, call_ringtone, call_vibrate,
	notification_channel, mute_until, message_expiration_time,
	chat_colors, avatar_color, mention_setting, capabilities,
	profile_key, profile_key_credential, profile_given_name, profile_family_name, profile_avatar,
	system_given_name, system_family_name, system_phone_label, system_contact_uri,
	seen_invite_reminder, default_subscription_id, storage_service_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecipient(sc rowScanner) (recipient.Record, error) {
	var (
		r         recipient.Record
		storageID sql.NullString
	)
	err := sc.Scan(
		&r.ID, &r.ACI, &r.PNI, &r.E164, &r.Registered, &r.UnregisteredTimestamp,
		&r.Blocked, &r.ProfileSharing, &r.Hidden,
		&r.MessageRingtone, &r.MessageVibrate, &r.CallRingtone, &r.CallVibrate,
		&r.NotificationChannel, &r.MuteUntil, &r.MessageExpirationTime,
		&r.ChatColors, &r.AvatarColor, &r.MentionSetting, &r.Capabilities,
		&r.ProfileKey, &r.ProfileKeyCredential, &r.ProfileGivenName, &r.ProfileFamilyName, &r.ProfileAvatar,
		&r.SystemGivenName, &r.SystemFamilyName, &r.SystemPhoneLabel, &r.SystemContactURI,
		&r.SeenInviteReminder, &r.DefaultSubscriptionID, &storageID,
	)
	if err != nil {
		return recipient.Record{}, err
	}
	r.StorageServiceID = storageID.String
	return r, nil
}

// lookupRecipient runs a single-row recipient query. A missing row is
// reported as found=false, not as an error.
func lookupRecipient(row *sql.Row) (recipient.Record, bool, error) {
	r, err := scanRecipient(row)
	if errors.Is(err, sql.ErrNoRows) {
		return recipient.Record{}, false, nil
	}
	if err != nil {
		return recipient.Record{}, false, err
	}
	return r, true, nil
}

// RecipientByID returns the row with the given id inside the transaction.
func (t *Tx) RecipientByID(ctx context.Context, id ids.RecipientID) (recipient.Record, bool, error) {
	r, ok, err := lookupRecipient(t.queryRow(ctx,
		`SELECT `+recipientColumns+` FROM recipients WHERE id = ?`, id))
	if err != nil {
		return recipient.Record{}, false, fmt.Errorf("recipient by id %d: %w", id, err)
	}
	return r, ok, nil
}

// RecipientByACI returns the row holding aci, if any.
func (t *Tx) RecipientByACI(ctx context.Context, aci ids.ACI) (recipient.Record, bool, error) {
	r, ok, err := lookupRecipient(t.queryRow(ctx,
		`SELECT `+recipientColumns+` FROM recipients WHERE aci = ?`, aci))
	if err != nil {
		return recipient.Record{}, false, fmt.Errorf("recipient by aci: %w", err)
	}
	return r, ok, nil
}

// RecipientByE164 returns the row holding e164, if any.
func (t *Tx) RecipientByE164(ctx context.Context, e164 ids.E164) (recipient.Record, bool, error) {
	r, ok, err := lookupRecipient(t.queryRow(ctx,
		`SELECT `+recipientColumns+` FROM recipients WHERE e164 = ?`, e164))
	if err != nil {
		return recipient.Record{}, false, fmt.Errorf("recipient by e164: %w", err)
	}
	return r, ok, nil
}

// Recipient returns the current row for id from the last committed state.
//
// If the row is gone because a merge retired it, the surviving row is
// returned instead; its ID differs from the one asked for. ErrNotFound means
// the id never existed.
func (s *Store) Recipient(ctx context.Context, id ids.RecipientID) (recipient.Record, error) {
	r, ok, err := lookupRecipient(s.reader.QueryRowContext(ctx,
		`SELECT `+recipientColumns+` FROM recipients WHERE id = ?`, id))
	if err != nil {
		return recipient.Record{}, fmt.Errorf("read recipient %d: %w", id, err)
	}
	if ok {
		return r, nil
	}

	next, remapped, err := s.ResolveRecipient(ctx, id)
	if err != nil {
		return recipient.Record{}, err
	}
	if !remapped {
		return recipient.Record{}, fmt.Errorf("read recipient %d: %w", id, ErrNotFound)
	}

	r, ok, err = lookupRecipient(s.reader.QueryRowContext(ctx,
		`SELECT `+recipientColumns+` FROM recipients WHERE id = ?`, next))
	if err != nil {
		return recipient.Record{}, fmt.Errorf("read recipient %d: %w", next, err)
	}
	if !ok {
		return recipient.Record{}, fmt.Errorf("read recipient %d (remapped from %d): %w", next, id, ErrNotFound)
	}
	return r, nil
}

// RecipientByACI looks up a row by ACI outside any transaction.
func (s *Store) RecipientByACI(ctx context.Context, aci ids.ACI) (recipient.Record, bool, error) {
	r, ok, err := lookupRecipient(s.reader.QueryRowContext(ctx,
		`SELECT `+recipientColumns+` FROM recipients WHERE aci = ?`, aci))
	if err != nil {
		return recipient.Record{}, false, fmt.Errorf("read recipient by aci: %w", err)
	}
	return r, ok, nil
}

// RecipientByE164 looks up a row by phone number outside any transaction.
func (s *Store) RecipientByE164(ctx context.Context, e164 ids.E164) (recipient.Record, bool, error) {
	r, ok, err := lookupRecipient(s.reader.QueryRowContext(ctx,
		`SELECT `+recipientColumns+` FROM recipients WHERE e164 = ?`, e164))
	if err != nil {
		return recipient.Record{}, false, fmt.Errorf("read recipient by e164: %w", err)
	}
	return r, ok, nil
}

// Recipients returns every row ordered by id.
func (s *Store) Recipients(ctx context.Context) ([]recipient.Record, error) {
	rows, err := s.reader.QueryContext(ctx, `SELECT `+recipientColumns+` FROM recipients ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}
	defer rows.Close()

	var out []recipient.Record
	for rows.Next() {
		r, err := scanRecipient(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recipients: %w", err)
	}
	return out, nil
}

// CountReferences returns, per dependent table and column, how many rows
// reference id. Remaps are not followed: it is used to prove a retired id
// left nothing behind.
func (s *Store) CountReferences(ctx context.Context, id ids.RecipientID) (map[string]int, error) {
	out := make(map[string]int)
	for _, ref := range recipientReferences {
		var n int
		query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = ?", ref.table, ref.column)
		if err := s.reader.QueryRowContext(ctx, query, id).Scan(&n); err != nil {
			return nil, fmt.Errorf("count %s.%s: %w", ref.table, ref.column, err)
		}
		if n > 0 {
			out[ref.table+"."+ref.column] = n
		}
	}
	return out, nil
}
