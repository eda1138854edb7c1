package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/idmerge/internal/ids"
)

// OwnerRemapper is implemented by every store whose rows reference a
// recipient. RemapOwner re-points all of from's rows to to and returns how
// many moved.
//
// Implementations must be idempotent and must silently drop any row that
// would duplicate one to already owns, rather than fail on the table's
// uniqueness constraint.
type OwnerRemapper interface {
	Name() string
	RemapOwner(ctx context.Context, tx *Tx, from, to ids.RecipientID) (int64, error)
}

// ThreadRemapper is implemented by stores whose rows belong to a thread.
// It is invoked when two threads merge.
type ThreadRemapper interface {
	Name() string
	RemapThread(ctx context.Context, tx *Tx, from, to ids.ThreadID) (int64, error)
}

// columnRemap re-points one foreign-key column.
//
// When unique is set the column participates in a UNIQUE key together with
// siblings. Rows that would collide with a row already owned by the target
// are left behind by the UPDATE and then deleted.
type columnRemap struct {
	table    string
	column   string
	unique   bool
	siblings []string
}

func (c columnRemap) apply(ctx context.Context, tx *Tx, from, to int64) (moved int64, dropped int64, err error) {
	if from == to {
		return 0, 0, nil
	}

	if !c.unique {
		res, err := tx.exec(ctx,
			fmt.Sprintf(`UPDATE %s SET %s = ? WHERE %s = ?`, c.table, c.column, c.column),
			to, from)
		if err != nil {
			return 0, 0, fmt.Errorf("remap %s.%s: %w", c.table, c.column, err)
		}
		moved, err = res.RowsAffected()
		return moved, 0, err
	}

	conds := []string{fmt.Sprintf("other.%s = ?", c.column)}
	for _, s := range c.siblings {
		conds = append(conds, fmt.Sprintf("other.%s IS %s.%s", s, c.table, s))
	}
	update := fmt.Sprintf(`
		UPDATE %[1]s SET %[2]s = ?
		WHERE %[2]s = ?
		  AND NOT EXISTS (SELECT 1 FROM %[1]s AS other WHERE %[3]s)
	`, c.table, c.column, strings.Join(conds, " AND "))

	res, err := tx.exec(ctx, update, to, from, to)
	if err != nil {
		return 0, 0, fmt.Errorf("remap %s.%s: %w", c.table, c.column, err)
	}
	if moved, err = res.RowsAffected(); err != nil {
		return 0, 0, err
	}

	res, err = tx.exec(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE %s = ?`, c.table, c.column), from)
	if err != nil {
		return 0, 0, fmt.Errorf("drop duplicate %s.%s: %w", c.table, c.column, err)
	}
	if dropped, err = res.RowsAffected(); err != nil {
		return 0, 0, err
	}
	return moved, dropped, nil
}

// tableStore is an OwnerRemapper over one or more recipient columns.
type tableStore struct {
	name    string
	columns []columnRemap
}

func (s tableStore) Name() string { return s.name }

func (s tableStore) RemapOwner(ctx context.Context, tx *Tx, from, to ids.RecipientID) (int64, error) {
	var total int64
	for _, c := range s.columns {
		moved, dropped, err := c.apply(ctx, tx, int64(from), int64(to))
		if err != nil {
			return total, err
		}
		if dropped > 0 {
			tx.store.logger.Debug("dropped duplicate rows during remap",
				"table", c.table, "column", c.column, "from", from, "to", to, "dropped", dropped)
		}
		total += moved
	}
	return total, nil
}

// threadTableStore is a ThreadRemapper over one thread column.
type threadTableStore struct {
	name   string
	column columnRemap
}

func (s threadTableStore) Name() string { return s.name }

func (s threadTableStore) RemapThread(ctx context.Context, tx *Tx, from, to ids.ThreadID) (int64, error) {
	moved, _, err := s.column.apply(ctx, tx, int64(from), int64(to))
	return moved, err
}

// Dependent store definitions. Threads are absent on purpose: a thread is
// merged, not re-pointed, see MergeThreads.
var (
	GroupsStore = tableStore{name: "groups", columns: []columnRemap{
		{table: "group_members", column: "recipient_id", unique: true, siblings: []string{"group_id"}},
	}}

	MessagesStore = tableStore{name: "messages", columns: []columnRemap{
		{table: "messages", column: "from_recipient_id"},
		{table: "messages", column: "quote_author"},
	}}

	MentionsStore = tableStore{name: "mentions", columns: []columnRemap{
		{table: "mentions", column: "recipient_id"},
	}}

	ReactionsStore = tableStore{name: "reactions", columns: []columnRemap{
		{table: "reactions", column: "author_id", unique: true, siblings: []string{"message_id"}},
	}}

	GroupReceiptsStore = tableStore{name: "group_receipts", columns: []columnRemap{
		{table: "group_receipts", column: "recipient_id", unique: true, siblings: []string{"message_id"}},
	}}

	SessionsStore = tableStore{name: "sessions", columns: []columnRemap{
		{table: "sessions", column: "recipient_id", unique: true, siblings: []string{"device"}},
	}}

	IdentitiesStore = tableStore{name: "identities", columns: []columnRemap{
		{table: "identities", column: "recipient_id", unique: true},
	}}

	MessageSendLogStore = tableStore{name: "message_send_log", columns: []columnRemap{
		{table: "msl_recipients", column: "recipient_id", unique: true, siblings: []string{"payload_id", "device"}},
	}}

	NotificationProfilesStore = tableStore{name: "notification_profiles", columns: []columnRemap{
		{table: "notification_profile_allowed_members", column: "recipient_id", unique: true, siblings: []string{"profile_id"}},
	}}

	DistributionListsStore = tableStore{name: "distribution_lists", columns: []columnRemap{
		{table: "distribution_list_members", column: "recipient_id", unique: true, siblings: []string{"list_id"}},
	}}

	MessageThreadsStore = threadTableStore{name: "messages",
		column: columnRemap{table: "messages", column: "thread_id"}}

	MentionThreadsStore = threadTableStore{name: "mentions",
		column: columnRemap{table: "mentions", column: "thread_id"}}
)

func defaultDependents() []OwnerRemapper {
	return []OwnerRemapper{
		GroupsStore,
		MessagesStore,
		MentionsStore,
		ReactionsStore,
		GroupReceiptsStore,
		SessionsStore,
		IdentitiesStore,
		MessageSendLogStore,
		NotificationProfilesStore,
		DistributionListsStore,
	}
}

func defaultThreadRemappers() []ThreadRemapper {
	return []ThreadRemapper{MessageThreadsStore, MentionThreadsStore}
}

type reference struct {
	table  string
	column string
}

// recipientReferences lists every column that is a foreign key to
// recipients(id).
var recipientReferences = []reference{
	{"threads", "recipient_id"},
	{"messages", "from_recipient_id"},
	{"messages", "quote_author"},
	{"mentions", "recipient_id"},
	{"reactions", "author_id"},
	{"group_receipts", "recipient_id"},
	{"group_members", "recipient_id"},
	{"sessions", "recipient_id"},
	{"identities", "recipient_id"},
	{"msl_recipients", "recipient_id"},
	{"notification_profile_allowed_members", "recipient_id"},
	{"distribution_list_members", "recipient_id"},
}
