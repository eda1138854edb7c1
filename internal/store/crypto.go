package store

import (
	"context"
	"fmt"

	"github.com/roach88/idmerge/internal/ids"
)

// PutSession stores the session record for one of recipient's devices,
// addressed by address (an ACI string or an E164).
func (t *Tx) PutSession(ctx context.Context, recipientID ids.RecipientID, address string, device int, record []byte) error {
	if _, err := t.exec(ctx, `
		INSERT INTO sessions (recipient_id, address, device, record) VALUES (?, ?, ?, ?)
		ON CONFLICT(address, device) DO UPDATE SET record = excluded.record
	`, recipientID, address, device, record); err != nil {
		return fmt.Errorf("put session: %w", err)
	}
	return nil
}

// PutIdentity stores recipient's identity key under address.
func (t *Tx) PutIdentity(ctx context.Context, recipientID ids.RecipientID, address string, key []byte) error {
	if _, err := t.exec(ctx, `
		INSERT INTO identities (recipient_id, address, identity_key) VALUES (?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET identity_key = excluded.identity_key
	`, recipientID, address, key); err != nil {
		return fmt.Errorf("put identity: %w", err)
	}
	return nil
}

// DeleteCryptoByAddress removes every session and identity key stored under
// address. A merge calls this for the retiring phone number, which is about
// to belong to another identity.
func (t *Tx) DeleteCryptoByAddress(ctx context.Context, address string) (sessions, identities int64, err error) {
	res, err := t.exec(ctx, `DELETE FROM sessions WHERE address = ?`, address)
	if err != nil {
		return 0, 0, fmt.Errorf("delete sessions for address: %w", err)
	}
	if sessions, err = res.RowsAffected(); err != nil {
		return 0, 0, err
	}

	res, err = t.exec(ctx, `DELETE FROM identities WHERE address = ?`, address)
	if err != nil {
		return 0, 0, fmt.Errorf("delete identities for address: %w", err)
	}
	if identities, err = res.RowsAffected(); err != nil {
		return 0, 0, err
	}
	return sessions, identities, nil
}

// SessionAddresses returns the addresses recipient has sessions under. A
// retired id reads its survivor's sessions.
func (s *Store) SessionAddresses(ctx context.Context, recipientID ids.RecipientID) ([]string, error) {
	recipientID, _, err := s.ResolveRecipient(ctx, recipientID)
	if err != nil {
		return nil, err
	}
	rows, err := s.reader.QueryContext(ctx,
		`SELECT address FROM sessions WHERE recipient_id = ? ORDER BY address, device`, recipientID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
