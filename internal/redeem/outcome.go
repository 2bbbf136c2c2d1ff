// Package redeem implements the key redemption engine: duplicate
// suppression, reveal, format validation, sequential submission with
// rate-limit retry, and append-only result logging.
package redeem

import (
	"fmt"
	"regexp"
)

// Raw result codes from the key registration endpoint.
const (
	CodeSuccess       = 0
	CodeInvalidFormat = 1 // synthetic, never sent on the wire
	CodeAlreadyOwned  = 9
	CodeUsedElsewhere = 15
	CodeRateLimited   = 53
)

// Disposition is the terminal classification of a redemption attempt.
type Disposition int

const (
	// Redeemed means the key was activated on the account.
	Redeemed Disposition = iota
	// AlreadyOwned covers codes meaning no further action is needed:
	// owned on this account, used elsewhere, or a duplicate in this run.
	AlreadyOwned
	// Invalid means the key failed format validation and was never
	// submitted.
	Invalid
	// RateLimited is transient; the engine retries until it resolves, so
	// it is never recorded as a terminal disposition.
	RateLimited
	// Errored covers every other nonzero result code.
	Errored
)

// Classify maps a raw result code to its disposition.
func Classify(code int) Disposition {
	switch code {
	case CodeSuccess:
		return Redeemed
	case CodeAlreadyOwned, CodeUsedElsewhere:
		return AlreadyOwned
	case CodeInvalidFormat:
		return Invalid
	case CodeRateLimited:
		return RateLimited
	default:
		return Errored
	}
}

// shortErrors holds the short labels for known result codes.
var shortErrors = map[int]string{
	CodeInvalidFormat: "invalid key format",
	CodeAlreadyOwned:  "already owned",
	13:                "region locked",
	14:                "invalid key",
	CodeUsedElsewhere: "used elsewhere",
	24:                "requires base game",
	36:                "requires PS3",
	50:                "wallet code",
	CodeRateLimited:   "rate limited",
}

// Label returns a short human label for a result code.
func Label(code int) string {
	if label, ok := shortErrors[code]; ok {
		return label
	}
	return fmt.Sprintf("error %d", code)
}

// steamKeyPattern: three hyphen-separated groups of five alphanumerics.
var steamKeyPattern = regexp.MustCompile(`^[A-Za-z0-9]{5}-[A-Za-z0-9]{5}-[A-Za-z0-9]{5}$`)

// ValidKey reports whether key looks like a redeemable Steam key.
func ValidKey(key string) bool {
	return steamKeyPattern.MatchString(key)
}
