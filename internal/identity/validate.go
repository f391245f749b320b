package identity

import (
	"fmt"
	"net/mail"
	"regexp"
	"slices"
	"strings"

	"gatekeepr.org/internal/apperr"
)

const (
	minPasswordLen = 8
	maxPasswordLen = 72
)

var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]{0,62}$`)

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", fmt.Errorf("%w: email is required", apperr.ErrValidation)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%w: invalid email", apperr.ErrValidation)
	}
	return email, nil
}

func validatePassword(pw string) error {
	if len(pw) < minPasswordLen {
		return fmt.Errorf("%w: password must be at least %d characters", apperr.ErrValidation, minPasswordLen)
	}
	if len(pw) > maxPasswordLen {
		return fmt.Errorf("%w: password must be at most %d bytes", apperr.ErrValidation, maxPasswordLen)
	}
	return nil
}

func validateSlug(field, v string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", fmt.Errorf("%w: %s is required", apperr.ErrValidation, field)
	}
	if !slugPattern.MatchString(v) {
		return "", fmt.Errorf("%w: %s must be a lowercase slug", apperr.ErrValidation, field)
	}
	return v, nil
}

func requireText(field, v string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", fmt.Errorf("%w: %s is required", apperr.ErrValidation, field)
	}
	return v, nil
}

func trimPtr(p *string) *string {
	if p == nil {
		return nil
	}
	v := strings.TrimSpace(*p)
	return &v
}

// dedupeIDs rejects non-positive ids and drops duplicates, preserving first-seen order.
func dedupeIDs(ids []int64) ([]int64, error) {
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id <= 0 {
			return nil, fmt.Errorf("%w: ids must be positive", apperr.ErrValidation)
		}
		if slices.Contains(out, id) {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}
