package store

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/idmerge/internal/ids"
)

// Message is a row of the messages table. Bodies are opaque here.
type Message struct {
	ID          int64           `json:"id"`
	ThreadID    ids.ThreadID    `json:"thread_id"`
	From        ids.RecipientID `json:"from"`
	QuoteAuthor ids.RecipientID `json:"quote_author,omitempty"`
	Type        string          `json:"type"`
	Body        string          `json:"body"`
}

// AddMessage appends a message to a thread and returns its id.
func (t *Tx) AddMessage(ctx context.Context, thread ids.ThreadID, from ids.RecipientID, msgType, body string) (int64, error) {
	res, err := t.exec(ctx, `
		INSERT INTO messages (thread_id, from_recipient_id, type, body, date_sent)
		VALUES (?, ?, ?, ?, ?)
	`, thread, from, msgType, body, time.Now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("add message: %w", err)
	}
	return res.LastInsertId()
}

// AddChangeNumberEvent records in recipient id's thread that its number
// went from oldE164 to newE164. Nothing is written when the recipient is
// blocked or has no thread; added reports whether a message was written.
func (t *Tx) AddChangeNumberEvent(ctx context.Context, id ids.RecipientID, oldE164, newE164 ids.E164) (added bool, err error) {
	r, ok, err := t.RecipientByID(ctx, id)
	if err != nil || !ok || r.Blocked {
		return false, err
	}
	th, ok, err := t.ThreadFor(ctx, id)
	if err != nil || !ok {
		return false, err
	}

	body, err := marshalEvent(ChangeNumberEvent{OldE164: oldE164, NewE164: newE164})
	if err != nil {
		return false, err
	}
	if _, err := t.AddMessage(ctx, th.ID, id, MessageTypeChangeNumber, body); err != nil {
		return false, fmt.Errorf("change number event for %d: %w", id, err)
	}
	return true, nil
}

// SetQuoteAuthor marks message id as quoting author.
func (t *Tx) SetQuoteAuthor(ctx context.Context, id int64, author ids.RecipientID) error {
	if _, err := t.exec(ctx, `UPDATE messages SET quote_author = ? WHERE id = ?`, author, id); err != nil {
		return fmt.Errorf("set quote author on %d: %w", id, err)
	}
	return nil
}

// AddMention records that message mentions recipient.
func (t *Tx) AddMention(ctx context.Context, thread ids.ThreadID, message int64, mentioned ids.RecipientID) error {
	if _, err := t.exec(ctx, `
		INSERT INTO mentions (thread_id, message_id, recipient_id) VALUES (?, ?, ?)
	`, thread, message, mentioned); err != nil {
		return fmt.Errorf("add mention: %w", err)
	}
	return nil
}

// AddReaction stores author's reaction to message, replacing an earlier one.
func (t *Tx) AddReaction(ctx context.Context, message int64, author ids.RecipientID, emoji string) error {
	if _, err := t.exec(ctx, `
		INSERT INTO reactions (message_id, author_id, emoji, date_sent) VALUES (?, ?, ?, ?)
		ON CONFLICT(message_id, author_id) DO UPDATE SET emoji = excluded.emoji, date_sent = excluded.date_sent
	`, message, author, emoji, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("add reaction: %w", err)
	}
	return nil
}

// AddGroupReceipt records the delivery status of message for recipient.
func (t *Tx) AddGroupReceipt(ctx context.Context, message int64, recipientID ids.RecipientID, status int) error {
	if _, err := t.exec(ctx, `
		INSERT INTO group_receipts (message_id, recipient_id, status) VALUES (?, ?, ?)
		ON CONFLICT(message_id, recipient_id) DO UPDATE SET status = excluded.status
	`, message, recipientID, status); err != nil {
		return fmt.Errorf("add group receipt: %w", err)
	}
	return nil
}

// Messages returns a thread's messages in insertion order, following a
// remap if the thread was merged away.
func (s *Store) Messages(ctx context.Context, thread ids.ThreadID) ([]Message, error) {
	thread, _, err := s.ResolveThread(ctx, thread)
	if err != nil {
		return nil, err
	}
	rows, err := s.reader.QueryContext(ctx, `
		SELECT id, thread_id, from_recipient_id, COALESCE(quote_author, 0), type, body
		FROM messages WHERE thread_id = ? ORDER BY id ASC
	`, thread)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.From, &m.QuoteAuthor, &m.Type, &m.Body); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Reactions returns message's reactions keyed by author.
func (s *Store) Reactions(ctx context.Context, message int64) (map[ids.RecipientID]string, error) {
	rows, err := s.reader.QueryContext(ctx,
		`SELECT author_id, emoji FROM reactions WHERE message_id = ?`, message)
	if err != nil {
		return nil, fmt.Errorf("list reactions: %w", err)
	}
	defer rows.Close()

	out := make(map[ids.RecipientID]string)
	for rows.Next() {
		var (
			author ids.RecipientID
			emoji  string
		)
		if err := rows.Scan(&author, &emoji); err != nil {
			return nil, fmt.Errorf("scan reaction: %w", err)
		}
		out[author] = emoji
	}
	return out, rows.Err()
}
