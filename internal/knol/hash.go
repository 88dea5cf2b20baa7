package knol

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// Namespace is the UUIDv5 namespace of every id derived from bank content.
var Namespace = uuid.MustParse("8f6b2c1e-4d3a-5b7c-9e0f-1a2b3c4d5e6f")

// Fold lower-cases s rune by rune. The result has the same number of runes
// as s, so rune offsets found in the folded text apply to the original.
func Fold(s string) string {
	return strings.Map(unicode.ToLower, s)
}

// Normalize concatenates the given parts after cleaning each one.
// It trims whitespace, folds case, and normalizes line endings for each part
// before joining them.
func Normalize(parts ...string) string {
	cleaned := make([]string, len(parts))
	for i, part := range parts {
		p := Fold(part)
		p = strings.ReplaceAll(p, "\r\n", "\n")
		p = strings.TrimSpace(p)
		cleaned[i] = p
	}

	// ("ab", "c") and ("a", "bc") must not collide.
	return strings.Join(cleaned, "\n")
}

// Hash normalizes the parts and returns their SHA-256 hash as a hex string.
func Hash(parts ...string) string {
	hashBytes := sha256.Sum256([]byte(Normalize(parts...)))
	return fmt.Sprintf("%x", hashBytes)
}

// ID derives a stable UUIDv5 for an entity of the given kind from its
// identifying parts. Re-importing unchanged content yields the same id.
func ID(kind string, parts ...string) uuid.UUID {
	return uuid.NewSHA1(Namespace, []byte(kind+":"+Hash(parts...)))
}

// Slug turns a display name into a lower-case, dash separated identifier.
func Slug(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range Fold(strings.TrimSpace(name)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
