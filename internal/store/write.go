package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/roach88/idmerge/internal/ids"
	"github.com/roach88/idmerge/internal/recipient"
)

// newStorageID returns a fresh storage-service id. Rotating it marks the
// row for re-upload by storage sync.
func newStorageID() string {
	return uuid.NewString()
}

// InsertRecipient creates a row holding the given identifiers.
// Uses ON CONFLICT DO NOTHING: if either identifier is already taken,
// inserted is false and no row is written.
//
// A row created with an ACI is marked registered.
func (t *Tx) InsertRecipient(ctx context.Context, aci ids.ACI, e164 ids.E164) (id ids.RecipientID, inserted bool, err error) {
	registered := recipient.RegisteredUnknown
	if !aci.IsZero() {
		registered = recipient.Registered
	}

	res, err := t.exec(ctx, `
		INSERT INTO recipients (aci, e164, registered, storage_service_id)
		VALUES (?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`, aci, e164, registered, newStorageID())
	if err != nil {
		return 0, false, fmt.Errorf("insert recipient: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("insert recipient: %w", err)
	}
	if n == 0 {
		return 0, false, nil
	}

	last, err := res.LastInsertId()
	if err != nil {
		return 0, false, fmt.Errorf("insert recipient: %w", err)
	}
	return ids.RecipientID(last), true, nil
}

// SetE164 sets the phone number of row id. The write only happens when the
// stored number differs, so changed is false on a repeat call.
func (t *Tx) SetE164(ctx context.Context, id ids.RecipientID, e164 ids.E164) (changed bool, err error) {
	res, err := t.exec(ctx, `
		UPDATE recipients SET e164 = ?, storage_service_id = ?
		WHERE id = ? AND (e164 IS NULL OR e164 != ?)
	`, e164, newStorageID(), id, e164)
	if err != nil {
		return false, fmt.Errorf("set e164 on %d: %w", id, err)
	}
	return affected(res)
}

// SetACI attaches aci to row id if the row has none, marking it registered.
func (t *Tx) SetACI(ctx context.Context, id ids.RecipientID, aci ids.ACI) (changed bool, err error) {
	res, err := t.exec(ctx, `
		UPDATE recipients
		SET aci = ?, registered = ?, unregistered_timestamp = 0, storage_service_id = ?
		WHERE id = ? AND aci IS NULL
	`, aci, recipient.Registered, newStorageID(), id)
	if err != nil {
		return false, fmt.Errorf("set aci on %d: %w", id, err)
	}
	return affected(res)
}

// RemovePhoneNumber detaches e164 from row id, if the row still holds it.
// The PNI is derived from the number and goes with it.
func (t *Tx) RemovePhoneNumber(ctx context.Context, id ids.RecipientID, e164 ids.E164) (changed bool, err error) {
	res, err := t.exec(ctx, `
		UPDATE recipients SET e164 = NULL, pni = NULL, storage_service_id = ?
		WHERE id = ? AND e164 = ?
	`, newStorageID(), id, e164)
	if err != nil {
		return false, fmt.Errorf("remove e164 from %d: %w", id, err)
	}
	return affected(res)
}

// affected reports whether res touched any row.
func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	return n > 0, err
}

// ReplaceRecipient overwrites every column of row r.ID with r's values and
// rotates the storage id.
func (t *Tx) ReplaceRecipient(ctx context.Context, r recipient.Record) error {
	res, err := t.exec(ctx, `
		UPDATE recipients SET
			aci = ?, pni = ?, e164 = ?, registered = ?, unregistered_timestamp = ?,
			blocked = ?, profile_sharing = ?, hidden = ?,
			message_ringtone = ?, message_vibrate = ?, call_ringtone = ?, call_vibrate = ?,
			notification_channel = ?, mute_until = ?, message_expiration_time = ?,
			chat_colors = ?, avatar_color = ?, mention_setting = ?, capabilities = ?,
			profile_key = ?, profile_key_credential = ?, profile_given_name = ?, profile_family_name = ?, profile_avatar = ?,
			system_given_name = ?, system_family_name = ?, system_phone_label = ?, system_contact_uri = ?,
			seen_invite_reminder = ?, default_subscription_id = ?, storage_service_id = ?
		WHERE id = ?
	`,
		r.ACI, r.PNI, r.E164, r.Registered, r.UnregisteredTimestamp,
		r.Blocked, r.ProfileSharing, r.Hidden,
		r.MessageRingtone, r.MessageVibrate, r.CallRingtone, r.CallVibrate,
		r.NotificationChannel, r.MuteUntil, r.MessageExpirationTime,
		r.ChatColors, r.AvatarColor, r.MentionSetting, r.Capabilities,
		r.ProfileKey, r.ProfileKeyCredential, r.ProfileGivenName, r.ProfileFamilyName, r.ProfileAvatar,
		r.SystemGivenName, r.SystemFamilyName, r.SystemPhoneLabel, r.SystemContactURI,
		r.SeenInviteReminder, r.DefaultSubscriptionID, newStorageID(),
		r.ID,
	)
	if err != nil {
		return fmt.Errorf("replace recipient %d: %w", r.ID, err)
	}
	ok, err := affected(res)
	if err != nil {
		return fmt.Errorf("replace recipient %d: %w", r.ID, err)
	}
	if !ok {
		return fmt.Errorf("replace recipient %d: %w", r.ID, ErrNotFound)
	}
	return nil
}

// DeleteRecipient physically removes row id. Foreign keys make this fail
// while any dependent row still references it.
func (t *Tx) DeleteRecipient(ctx context.Context, id ids.RecipientID) error {
	if _, err := t.exec(ctx, `DELETE FROM recipients WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete recipient %d: %w", id, err)
	}
	return nil
}

// SeedRecipient inserts a fully specified row and returns its id. r.ID is
// ignored; ids are always assigned by the database.
func (t *Tx) SeedRecipient(ctx context.Context, r recipient.Record) (ids.RecipientID, error) {
	storageID := r.StorageServiceID
	if storageID == "" {
		storageID = newStorageID()
	}
	res, err := t.exec(ctx, `
		INSERT INTO recipients (`+recipientColumns[len("id, "):]+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ACI, r.PNI, r.E164, r.Registered, r.UnregisteredTimestamp,
		r.Blocked, r.ProfileSharing, r.Hidden,
		r.MessageRingtone, r.MessageVibrate, r.CallRingtone, r.CallVibrate,
		r.NotificationChannel, r.MuteUntil, r.MessageExpirationTime,
		r.ChatColors, r.AvatarColor, r.MentionSetting, r.Capabilities,
		r.ProfileKey, r.ProfileKeyCredential, r.ProfileGivenName, r.ProfileFamilyName, r.ProfileAvatar,
		r.SystemGivenName, r.SystemFamilyName, r.SystemPhoneLabel, r.SystemContactURI,
		r.SeenInviteReminder, r.DefaultSubscriptionID, storageID,
	)
	if err != nil {
		return 0, fmt.Errorf("seed recipient: %w", err)
	}
	last, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("seed recipient: %w", err)
	}
	return ids.RecipientID(last), nil
}
