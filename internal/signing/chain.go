package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/basket/khoregos/internal/models"
)

// Genesis is the seed value hmac_0 chained ahead of a session's first
// signed event.
func Genesis(sessionID string) string {
	return "k6s:genesis:" + sessionID
}

// ComputeHMAC computes hmac_i = HMAC-SHA256(key, hmac_{i-1} || canonical(event_i)),
// rendered as lowercase hex.
func ComputeHMAC(key []byte, previousHMAC string, event models.AuditEvent) (string, error) {
	canonical, err := Canonicalize(event)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(previousHMAC))
	mac.Write(canonical)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// ErrorTag is the closed set of chain-verification error kinds.
type ErrorTag string

const (
	ErrorGap     ErrorTag = "gap"
	ErrorMissing ErrorTag = "missing"
	ErrorMismatch ErrorTag = "mismatch"
)

// ChainError is one verification failure against a specific sequence
// number.
type ChainError struct {
	Sequence int
	Tag      ErrorTag
}

func (e ChainError) Error() string {
	return fmt.Sprintf("sequence %d: %s", e.Sequence, e.Tag)
}

// VerifyResult is the outcome of VerifyChain.
type VerifyResult struct {
	Valid        bool
	EventsChecked int
	Errors       []ChainError
}

// VerifyChain checks a session's HMAC chain, proceeding best-effort: a
// missing hmac or mismatch does not halt verification. Subsequent links
// continue from the actual stored hmac (or "" if absent) rather than the
// recomputed expected value, so a single broken link does not cascade into
// spurious mismatches for every event after it. events must be supplied in
// ascending sequence order.
func VerifyChain(key []byte, sessionID string, events []models.AuditEvent) VerifyResult {
	result := VerifyResult{EventsChecked: len(events)}

	prevHMAC := Genesis(sessionID)
	prevSequence := 0

	for _, event := range events {
		if prevSequence != 0 && event.Sequence != prevSequence+1 {
			result.Errors = append(result.Errors, ChainError{Sequence: event.Sequence, Tag: ErrorGap})
		}
		prevSequence = event.Sequence

		stored := ""
		if event.HMAC != nil {
			stored = *event.HMAC
		}

		if stored == "" {
			result.Errors = append(result.Errors, ChainError{Sequence: event.Sequence, Tag: ErrorMissing})
			prevHMAC = stored
			continue
		}

		expected, err := ComputeHMAC(key, prevHMAC, event)
		if err != nil || expected != stored {
			result.Errors = append(result.Errors, ChainError{Sequence: event.Sequence, Tag: ErrorMismatch})
		}
		prevHMAC = stored
	}

	result.Valid = len(result.Errors) == 0
	return result
}
