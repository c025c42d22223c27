package oauth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

var b64 = base64.RawURLEncoding

// State is the tenant context carried through the provider redirect.
type State struct {
	TenantID       string `json:"t"`
	OrganizationID string `json:"o,omitempty"`
	Nonce          string `json:"n"`
}

// StateCodec signs and verifies state values with a server-held secret.
type StateCodec struct {
	secret []byte
}

func NewStateCodec(secret string) *StateCodec {
	return &StateCodec{secret: []byte(secret)}
}

// NewNonce returns 24 random bytes, base64url encoded.
func NewNonce() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return b64.EncodeToString(b), nil
}

// Encode returns base64url(payload) "." base64url(HMAC-SHA256(secret, payload)).
// An empty nonce is replaced by a random one.
func (c *StateCodec) Encode(tenantID, organizationID, nonce string) (string, error) {
	if len(c.secret) == 0 {
		return "", fmt.Errorf("%w: signing secret not configured", ErrInvalidState)
	}
	if tenantID == "" {
		return "", &ValidationError{Msg: "tenant id is required"}
	}
	if nonce == "" {
		var err error
		if nonce, err = NewNonce(); err != nil {
			return "", err
		}
	}
	// struct field order keeps the payload canonical
	payload, err := json.Marshal(State{TenantID: tenantID, OrganizationID: organizationID, Nonce: nonce})
	if err != nil {
		return "", err
	}
	return b64.EncodeToString(payload) + "." + b64.EncodeToString(c.sign(payload)), nil
}

// Decode verifies the signature before trusting any field of the payload.
func (c *StateCodec) Decode(token string) (State, error) {
	if len(c.secret) == 0 {
		return State{}, fmt.Errorf("%w: signing secret not configured", ErrInvalidState)
	}
	enc, encSig, ok := strings.Cut(token, ".")
	if !ok || enc == "" || encSig == "" || strings.Contains(encSig, ".") {
		return State{}, fmt.Errorf("%w: malformed", ErrInvalidState)
	}
	payload, err := b64.DecodeString(enc)
	if err != nil {
		return State{}, fmt.Errorf("%w: malformed payload", ErrInvalidState)
	}
	sig, err := b64.DecodeString(encSig)
	if err != nil {
		return State{}, fmt.Errorf("%w: malformed signature", ErrInvalidState)
	}
	if !hmac.Equal(sig, c.sign(payload)) {
		return State{}, fmt.Errorf("%w: signature mismatch", ErrInvalidState)
	}
	var st State
	if err := json.Unmarshal(payload, &st); err != nil || st.TenantID == "" || st.Nonce == "" {
		return State{}, fmt.Errorf("%w: malformed payload", ErrInvalidState)
	}
	return st, nil
}

func (c *StateCodec) sign(payload []byte) []byte {
	m := hmac.New(sha256.New, c.secret)
	m.Write(payload)
	return m.Sum(nil)
}
