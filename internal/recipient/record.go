// Package recipient defines the canonical recipient row and how two rows
// combine when a merge folds one identity into another.
package recipient

import (
	"database/sql/driver"

	"github.com/roach88/idmerge/internal/ids"
)

// RegisteredState is the tri-state registration status of a recipient.
type RegisteredState int

const (
	RegisteredUnknown RegisteredState = iota
	Registered
	NotRegistered
)

func (s RegisteredState) String() string {
	switch s {
	case Registered:
		return "registered"
	case NotRegistered:
		return "not_registered"
	default:
		return "unknown"
	}
}

// Value implements driver.Valuer.
func (s RegisteredState) Value() (driver.Value, error) { return int64(s), nil }

// VibrateState is a per-recipient vibration override. VibrateDefault defers
// to the global setting.
type VibrateState int

const (
	VibrateDefault VibrateState = iota
	VibrateEnabled
	VibrateDisabled
)

// Value implements driver.Valuer.
func (v VibrateState) Value() (driver.Value, error) { return int64(v), nil }

// MentionSetting controls notifications for @-mentions in group threads.
type MentionSetting int

const (
	MentionAlwaysNotify MentionSetting = iota
	MentionDoNotNotify
)

// Value implements driver.Valuer.
func (m MentionSetting) Value() (driver.Value, error) { return int64(m), nil }

// Record is one row of the recipients table.
//
// Only ID, ACI, PNI, E164 and Registered carry meaning for identity
// resolution. Every other column is payload: it is copied across a merge
// according to Precedence and never interpreted.
type Record struct {
	ID         ids.RecipientID `json:"id"`
	ACI        ids.ACI         `json:"aci"`
	PNI        ids.PNI         `json:"pni"`
	E164       ids.E164        `json:"e164,omitempty"`
	Registered RegisteredState `json:"registered"`

	UnregisteredTimestamp int64 `json:"unregistered_timestamp,omitempty"`

	Blocked        bool `json:"blocked,omitempty"`
	ProfileSharing bool `json:"profile_sharing,omitempty"`
	Hidden         bool `json:"hidden,omitempty"`

	MessageRingtone       string         `json:"message_ringtone,omitempty"`
	MessageVibrate        VibrateState   `json:"message_vibrate,omitempty"`
	CallRingtone          string         `json:"call_ringtone,omitempty"`
	CallVibrate           VibrateState   `json:"call_vibrate,omitempty"`
	NotificationChannel   string         `json:"notification_channel,omitempty"`
	MuteUntil             int64          `json:"mute_until,omitempty"`
	MessageExpirationTime int64          `json:"message_expiration_time,omitempty"`
	ChatColors            []byte         `json:"chat_colors,omitempty"`
	AvatarColor           string         `json:"avatar_color,omitempty"`
	MentionSetting        MentionSetting `json:"mention_setting,omitempty"`
	Capabilities          int64          `json:"capabilities,omitempty"`

	ProfileKey           []byte `json:"profile_key,omitempty"`
	ProfileKeyCredential []byte `json:"profile_key_credential,omitempty"`
	ProfileGivenName     string `json:"profile_given_name,omitempty"`
	ProfileFamilyName    string `json:"profile_family_name,omitempty"`
	ProfileAvatar        string `json:"profile_avatar,omitempty"`

	SystemGivenName  string `json:"system_given_name,omitempty"`
	SystemFamilyName string `json:"system_family_name,omitempty"`
	SystemPhoneLabel string `json:"system_phone_label,omitempty"`
	SystemContactURI string `json:"system_contact_uri,omitempty"`

	SeenInviteReminder    int64 `json:"seen_invite_reminder,omitempty"`
	DefaultSubscriptionID int64 `json:"default_subscription_id,omitempty"`

	StorageServiceID string `json:"storage_service_id,omitempty"`
}

// HasProfileKey reports whether the row carries profile key material.
func (r *Record) HasProfileKey() bool { return len(r.ProfileKey) > 0 }

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	r.ChatColors = cloneBytes(r.ChatColors)
	r.ProfileKey = cloneBytes(r.ProfileKey)
	r.ProfileKeyCredential = cloneBytes(r.ProfileKeyCredential)
	return r
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
