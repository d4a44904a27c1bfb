package registry

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	maxBaseSlugLen  = 48
	maxNumericProbe = 999
)

// BaseSlug derives the slug stem from a hostname: lowercased, runs of
// non-alphanumerics folded to '-', outer dashes stripped, truncated. An
// empty result falls back to "site".
func BaseSlug(host string) string {
	var b strings.Builder
	prevDash := false
	for _, r := range strings.ToLower(host) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			prevDash = false
			continue
		}
		if !prevDash && b.Len() > 0 {
			b.WriteByte('-')
			prevDash = true
		}
	}
	s := strings.Trim(b.String(), "-")
	if len(s) > maxBaseSlugLen {
		s = strings.Trim(s[:maxBaseSlugLen], "-")
	}
	if s == "" {
		return "site"
	}
	return s
}

// allocateSlug finds a free slug inside the transaction: the base, then
// -2..-999, then a random hex suffix.
func allocateSlug(tx *sql.Tx, host string) (string, error) {
	base := BaseSlug(host)

	taken, err := slugTaken(tx, base)
	if err != nil {
		return "", err
	}
	if !taken {
		return base, nil
	}

	for i := 2; i <= maxNumericProbe; i++ {
		candidate := fmt.Sprintf("%s-%d", base, i)
		taken, err := slugTaken(tx, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}

	var buf [3]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return base + "-" + hex.EncodeToString(buf[:]), nil
}

func slugTaken(tx *sql.Tx, slug string) (bool, error) {
	var one int
	err := tx.QueryRow(`SELECT 1 FROM mirrors WHERE slug = ?`, slug).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
