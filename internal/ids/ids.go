// Package ids defines the identifiers the contact store resolves between:
// local recipient and thread ids, service account identifiers (ACI, PNI),
// and normalized E164 phone numbers.
//
// Optional identifiers use their zero value for "absent". Every identifier
// type implements sql.Scanner and driver.Valuer so that a zero value maps to
// SQL NULL and back.
package ids

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

var (
	// ErrInvalidACI is returned when an account identifier is not a UUID.
	ErrInvalidACI = errors.New("invalid aci")

	// ErrInvalidPNI is returned when a phone number identifier is not a UUID.
	ErrInvalidPNI = errors.New("invalid pni")

	// ErrInvalidE164 is returned when a phone number is not in E164 form.
	ErrInvalidE164 = errors.New("invalid e164")
)

// RecipientID is the permanent local id of a recipient row. Zero is unset.
type RecipientID int64

// IsZero reports whether the id is unset.
func (id RecipientID) IsZero() bool { return id == 0 }

func (id RecipientID) String() string { return strconv.FormatInt(int64(id), 10) }

// Value implements driver.Valuer.
func (id RecipientID) Value() (driver.Value, error) { return int64(id), nil }

// ThreadID is the local id of a conversation thread. Zero is unset.
type ThreadID int64

// IsZero reports whether the id is unset.
func (id ThreadID) IsZero() bool { return id == 0 }

func (id ThreadID) String() string { return strconv.FormatInt(int64(id), 10) }

// Value implements driver.Valuer.
func (id ThreadID) Value() (driver.Value, error) { return int64(id), nil }

// ACI is a stable account identifier.
type ACI uuid.UUID

// ParseACI parses s as an ACI. The nil UUID is rejected.
func ParseACI(s string) (ACI, error) {
	u, err := parseServiceID(s)
	if err != nil {
		return ACI{}, fmt.Errorf("%w: %q", ErrInvalidACI, s)
	}
	return ACI(u), nil
}

// MustACI is ParseACI for constants and tests.
func MustACI(s string) ACI {
	a, err := ParseACI(s)
	if err != nil {
		panic(err)
	}
	return a
}

// IsZero reports whether the ACI is absent.
func (a ACI) IsZero() bool { return a == ACI{} }

func (a ACI) String() string {
	if a.IsZero() {
		return ""
	}
	return uuid.UUID(a).String()
}

// MarshalText implements encoding.TextMarshaler.
func (a ACI) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler. Empty text is absent.
func (a *ACI) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*a = ACI{}
		return nil
	}
	v, err := ParseACI(string(b))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// Value implements driver.Valuer.
func (a ACI) Value() (driver.Value, error) {
	if a.IsZero() {
		return nil, nil
	}
	return a.String(), nil
}

// Scan implements sql.Scanner.
func (a *ACI) Scan(src any) error {
	u, err := scanServiceID(src)
	if err != nil {
		return fmt.Errorf("scan aci: %w", err)
	}
	*a = ACI(u)
	return nil
}

// PNI is the phone-number-derived service identifier.
type PNI uuid.UUID

// ParsePNI parses s as a PNI. The nil UUID is rejected.
func ParsePNI(s string) (PNI, error) {
	u, err := parseServiceID(s)
	if err != nil {
		return PNI{}, fmt.Errorf("%w: %q", ErrInvalidPNI, s)
	}
	return PNI(u), nil
}

// IsZero reports whether the PNI is absent.
func (p PNI) IsZero() bool { return p == PNI{} }

func (p PNI) String() string {
	if p.IsZero() {
		return ""
	}
	return uuid.UUID(p).String()
}

// MarshalText implements encoding.TextMarshaler.
func (p PNI) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler. Empty text is absent.
func (p *PNI) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*p = PNI{}
		return nil
	}
	v, err := ParsePNI(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Value implements driver.Valuer.
func (p PNI) Value() (driver.Value, error) {
	if p.IsZero() {
		return nil, nil
	}
	return p.String(), nil
}

// Scan implements sql.Scanner.
func (p *PNI) Scan(src any) error {
	u, err := scanServiceID(src)
	if err != nil {
		return fmt.Errorf("scan pni: %w", err)
	}
	*p = PNI(u)
	return nil
}

func parseServiceID(s string) (uuid.UUID, error) {
	u, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return uuid.Nil, err
	}
	if u == uuid.Nil {
		return uuid.Nil, errors.New("nil uuid")
	}
	return u, nil
}

func scanServiceID(src any) (uuid.UUID, error) {
	switch v := src.(type) {
	case nil:
		return uuid.Nil, nil
	case string:
		return uuid.Parse(v)
	case []byte:
		return uuid.ParseBytes(v)
	default:
		return uuid.Nil, fmt.Errorf("unsupported type %T", src)
	}
}

// E164 is a phone number in canonical "+<country><number>" form.
type E164 string

// ParseE164 normalizes s and validates it as an E164 number.
//
// Input is NFKC-normalized first so full-width digits and plus signs fold
// to ASCII. Spaces, dashes, dots and parentheses are stripped.
func ParseE164(s string) (E164, error) {
	folded := norm.NFKC.String(strings.TrimSpace(s))

	var b strings.Builder
	b.Grow(len(folded))
	for i, r := range folded {
		switch {
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '.' || r == '(' || r == ')':
			// separator
		default:
			return "", fmt.Errorf("%w: %q", ErrInvalidE164, s)
		}
	}

	out := b.String()
	digits := strings.TrimPrefix(out, "+")
	if !strings.HasPrefix(out, "+") || len(digits) < 7 || len(digits) > 15 || digits[0] == '0' {
		return "", fmt.Errorf("%w: %q", ErrInvalidE164, s)
	}
	return E164(out), nil
}

// MustE164 is ParseE164 for constants and tests.
func MustE164(s string) E164 {
	e, err := ParseE164(s)
	if err != nil {
		panic(err)
	}
	return e
}

// IsZero reports whether the number is absent.
func (e E164) IsZero() bool { return e == "" }

func (e E164) String() string { return string(e) }

// Value implements driver.Valuer.
func (e E164) Value() (driver.Value, error) {
	if e.IsZero() {
		return nil, nil
	}
	return string(e), nil
}

// Scan implements sql.Scanner.
func (e *E164) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*e = ""
	case string:
		*e = E164(v)
	case []byte:
		*e = E164(v)
	default:
		return fmt.Errorf("scan e164: unsupported type %T", src)
	}
	return nil
}
