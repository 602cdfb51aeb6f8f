package token

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	secretBytes = 32
	// PrefixLen is the number of leading characters kept as a display hint
	// for API keys. The hint is stored alongside the hash; the raw key is not.
	PrefixLen = 8

	backupCodeBytes = 5
)

// Codec mints opaque bearer secrets and derives the hashes under which they
// are stored. Raw secrets only ever travel back to the caller; lookups go
// through Hash.
type Codec struct{}

func NewCodec() *Codec {
	return &Codec{}
}

// Opaque holds a freshly minted secret and its storage hash.
type Opaque struct {
	Raw  string
	Hash string
}

// NewOpaqueToken returns a URL-safe random token and its SHA-256 hex hash.
// Tokens are high-entropy random values, so a fast one-way hash suffices;
// adaptive hashing is reserved for user-chosen secrets.
func (c *Codec) NewOpaqueToken() (Opaque, error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return Opaque{}, fmt.Errorf("failed to read random bytes: %w", err)
	}

	raw := base64.RawURLEncoding.EncodeToString(buf)
	return Opaque{Raw: raw, Hash: c.Hash(raw)}, nil
}

// Hash derives the stable storage hash for a raw token.
func (c *Codec) Hash(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// APIKey is a minted machine credential. PlainKey is shown to the caller
// exactly once, in "prefix.secret" form.
type APIKey struct {
	PlainKey string
	Prefix   string
	Hash     string
}

// NewAPIKey mints an API key. Only the secret part participates in the
// hash so the prefix can be displayed freely.
func (c *Codec) NewAPIKey() (APIKey, error) {
	tok, err := c.NewOpaqueToken()
	if err != nil {
		return APIKey{}, err
	}

	prefix := tok.Raw[:PrefixLen]
	return APIKey{
		PlainKey: prefix + "." + tok.Raw,
		Prefix:   prefix,
		Hash:     tok.Hash,
	}, nil
}

// SplitAPIKey strips the display prefix from a presented key. Keys without
// a prefix are accepted as-is.
func SplitAPIKey(presented string) (secret string, ok bool) {
	if !strings.Contains(presented, ".") {
		return presented, true
	}
	parts := strings.Split(presented, ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// NewBackupCodes returns n single-use recovery codes in XXXXX-XXXXX form.
// Callers are responsible for hashing them before storage.
func (c *Codec) NewBackupCodes(n int) ([]string, error) {
	codes := make([]string, n)
	for i := range codes {
		buf := make([]byte, backupCodeBytes)
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("failed to read random bytes: %w", err)
		}
		s := strings.ToUpper(hex.EncodeToString(buf))
		codes[i] = s[:5] + "-" + s[5:]
	}
	return codes, nil
}
