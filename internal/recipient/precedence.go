package recipient

// Rule names how a merged column value is chosen from the surviving row
// ("keep") and the row being retired.
type Rule string

const (
	// RuleSurvivorFirst takes the surviving row's value unless it is the
	// default, in which case the retiring row's value is used.
	RuleSurvivorFirst Rule = "survivor_first"

	// RuleRetiringFirst is RuleSurvivorFirst with the rows swapped. Used for
	// the number-derived identifiers, which the retiring E164 row owns.
	RuleRetiringFirst Rule = "retiring_first"

	// RuleSurvivor always keeps the surviving row's value.
	RuleSurvivor Rule = "survivor"

	// RuleEither is a logical OR of both rows.
	RuleEither Rule = "either"

	// RuleMax takes the larger of both rows.
	RuleMax Rule = "max"

	// RuleProfileKeyHolder copies from whichever row holds a profile key,
	// survivor first. A row without a profile key contributes nothing.
	RuleProfileKeyHolder Rule = "profile_key_holder"

	// RuleUnhideIfShared keeps the surviving row's hidden flag unless the
	// merged row shares its profile, which always un-hides.
	RuleUnhideIfShared Rule = "unhide_if_shared"

	// RuleFixed assigns a constant regardless of either row.
	RuleFixed Rule = "fixed"
)

// FieldPrecedence is one row of the merge precedence table.
type FieldPrecedence struct {
	// Column is the recipients table column the entry governs.
	Column string
	Rule   Rule
	apply  func(dst *Record, keep, retire *Record)
}

// Precedence is the complete column precedence for a merge, applied in
// order. Entries that read other merged columns (hidden) come after them.
//
// storage_service_id is not listed: a merged row always gets a fresh one
// from the caller.
var Precedence = []FieldPrecedence{
	{Column: "aci", Rule: RuleSurvivorFirst, apply: func(d, k, r *Record) { d.ACI = first(k.ACI, r.ACI) }},
	{Column: "e164", Rule: RuleRetiringFirst, apply: func(d, k, r *Record) { d.E164 = first(r.E164, k.E164) }},
	{Column: "pni", Rule: RuleRetiringFirst, apply: func(d, k, r *Record) { d.PNI = first(r.PNI, k.PNI) }},
	{Column: "registered", Rule: RuleFixed, apply: func(d, _, _ *Record) { d.Registered = Registered }},
	{Column: "unregistered_timestamp", Rule: RuleFixed, apply: func(d, _, _ *Record) { d.UnregisteredTimestamp = 0 }},

	{Column: "blocked", Rule: RuleEither, apply: func(d, k, r *Record) { d.Blocked = k.Blocked || r.Blocked }},
	{Column: "profile_sharing", Rule: RuleEither, apply: func(d, k, r *Record) { d.ProfileSharing = k.ProfileSharing || r.ProfileSharing }},
	{Column: "hidden", Rule: RuleUnhideIfShared, apply: func(d, k, _ *Record) { d.Hidden = k.Hidden && !d.ProfileSharing }},

	{Column: "message_ringtone", Rule: RuleSurvivorFirst, apply: func(d, k, r *Record) { d.MessageRingtone = first(k.MessageRingtone, r.MessageRingtone) }},
	{Column: "message_vibrate", Rule: RuleSurvivorFirst, apply: func(d, k, r *Record) { d.MessageVibrate = first(k.MessageVibrate, r.MessageVibrate) }},
	{Column: "call_ringtone", Rule: RuleSurvivorFirst, apply: func(d, k, r *Record) { d.CallRingtone = first(k.CallRingtone, r.CallRingtone) }},
	{Column: "call_vibrate", Rule: RuleSurvivorFirst, apply: func(d, k, r *Record) { d.CallVibrate = first(k.CallVibrate, r.CallVibrate) }},
	{Column: "notification_channel", Rule: RuleSurvivorFirst, apply: func(d, k, r *Record) { d.NotificationChannel = first(k.NotificationChannel, r.NotificationChannel) }},
	{Column: "mute_until", Rule: RuleSurvivorFirst, apply: func(d, k, r *Record) { d.MuteUntil = first(k.MuteUntil, r.MuteUntil) }},
	{Column: "message_expiration_time", Rule: RuleSurvivorFirst, apply: func(d, k, r *Record) { d.MessageExpirationTime = first(k.MessageExpirationTime, r.MessageExpirationTime) }},
	{Column: "chat_colors", Rule: RuleSurvivorFirst, apply: func(d, k, r *Record) { d.ChatColors = firstBytes(k.ChatColors, r.ChatColors) }},
	{Column: "avatar_color", Rule: RuleSurvivor, apply: func(d, k, _ *Record) { d.AvatarColor = k.AvatarColor }},
	{Column: "mention_setting", Rule: RuleSurvivorFirst, apply: func(d, k, r *Record) { d.MentionSetting = first(k.MentionSetting, r.MentionSetting) }},
	{Column: "capabilities", Rule: RuleMax, apply: func(d, k, r *Record) { d.Capabilities = max(k.Capabilities, r.Capabilities) }},

	{Column: "profile_key", Rule: RuleProfileKeyHolder, apply: func(d, k, r *Record) { d.ProfileKey = profileSource(k, r).ProfileKey }},
	{Column: "profile_key_credential", Rule: RuleProfileKeyHolder, apply: func(d, k, r *Record) { d.ProfileKeyCredential = profileSource(k, r).ProfileKeyCredential }},
	{Column: "profile_given_name", Rule: RuleProfileKeyHolder, apply: func(d, k, r *Record) { d.ProfileGivenName = profileSource(k, r).ProfileGivenName }},
	{Column: "profile_family_name", Rule: RuleProfileKeyHolder, apply: func(d, k, r *Record) { d.ProfileFamilyName = profileSource(k, r).ProfileFamilyName }},
	{Column: "profile_avatar", Rule: RuleProfileKeyHolder, apply: func(d, k, r *Record) { d.ProfileAvatar = profileSource(k, r).ProfileAvatar }},

	{Column: "system_given_name", Rule: RuleSurvivorFirst, apply: func(d, k, r *Record) { d.SystemGivenName = first(k.SystemGivenName, r.SystemGivenName) }},
	{Column: "system_family_name", Rule: RuleSurvivorFirst, apply: func(d, k, r *Record) { d.SystemFamilyName = first(k.SystemFamilyName, r.SystemFamilyName) }},
	{Column: "system_phone_label", Rule: RuleSurvivorFirst, apply: func(d, k, r *Record) { d.SystemPhoneLabel = first(k.SystemPhoneLabel, r.SystemPhoneLabel) }},
	{Column: "system_contact_uri", Rule: RuleSurvivorFirst, apply: func(d, k, r *Record) { d.SystemContactURI = first(k.SystemContactURI, r.SystemContactURI) }},
	{Column: "seen_invite_reminder", Rule: RuleSurvivorFirst, apply: func(d, k, r *Record) { d.SeenInviteReminder = first(k.SeenInviteReminder, r.SeenInviteReminder) }},
	{Column: "default_subscription_id", Rule: RuleSurvivorFirst, apply: func(d, k, r *Record) { d.DefaultSubscriptionID = first(k.DefaultSubscriptionID, r.DefaultSubscriptionID) }},
}

// Merge combines keep and retire into the row that survives a merge. The
// result keeps keep's ID and storage id; neither input is modified.
func Merge(keep, retire Record) Record {
	k, r := keep.Clone(), retire.Clone()
	out := keep.Clone()
	for _, p := range Precedence {
		p.apply(&out, &k, &r)
	}
	return out
}

func first[T comparable](preferred, fallback T) T {
	var zero T
	if preferred != zero {
		return preferred
	}
	return fallback
}

func firstBytes(preferred, fallback []byte) []byte {
	if len(preferred) > 0 {
		return preferred
	}
	return fallback
}

func profileSource(keep, retire *Record) *Record {
	if keep.HasProfileKey() {
		return keep
	}
	if retire.HasProfileKey() {
		return retire
	}
	return keep
}
