package auth

import (
	"fmt"
	"unicode"

	"golang.org/x/crypto/bcrypt"

	"github.com/beaconhq/beacon-auth/internal/autherr"
)

// checkPasswordStrength enforces the composition rule: minimum length
// plus at least one upper, lower, digit, and special character.
func checkPasswordStrength(password string, minLength int) error {
	var msgs []string
	if len(password) < minLength {
		msgs = append(msgs, fmt.Sprintf("must be at least %d characters", minLength))
	}

	var upper, lower, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		default:
			special = true
		}
	}
	if !upper {
		msgs = append(msgs, "must contain an uppercase letter")
	}
	if !lower {
		msgs = append(msgs, "must contain a lowercase letter")
	}
	if !digit {
		msgs = append(msgs, "must contain a digit")
	}
	if !special {
		msgs = append(msgs, "must contain a special character")
	}

	if len(msgs) > 0 {
		return autherr.Validation(map[string][]string{"password": msgs})
	}
	return nil
}

// matchesAny reports whether the candidate matches any of the stored
// bcrypt hashes.
func matchesAny(hashes []string, candidate string) bool {
	for _, h := range hashes {
		if bcrypt.CompareHashAndPassword([]byte(h), []byte(candidate)) == nil {
			return true
		}
	}
	return false
}
