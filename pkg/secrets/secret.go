// Package secrets keeps credential values out of logs and API responses and
// seals them at rest.
package secrets

const redacted = "***"

// Secret wraps a sensitive string. Formatting and JSON encoding never reveal it.
type Secret struct{ v string }

func New(v string) Secret { return Secret{v: v} }

// Reveal returns the plaintext value. Call sites are the only places a secret leaves this type.
func (s Secret) Reveal() string { return s.v }

func (s Secret) IsZero() bool { return s.v == "" }

func (s Secret) String() string {
	if s.v == "" {
		return ""
	}
	return redacted
}

func (s Secret) GoString() string { return s.String() }

func (s Secret) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

func (s Secret) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Mask keeps a short prefix so operators can tell credentials apart.
func (s Secret) Mask() string {
	if s.v == "" {
		return ""
	}
	if len(s.v) <= 8 {
		return redacted
	}
	return s.v[:4] + redacted
}

