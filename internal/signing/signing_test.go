package signing_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/basket/khoregos/internal/models"
	"github.com/basket/khoregos/internal/signing"
)

func TestGenerateKey_NeverOverwrites(t *testing.T) {
	dir := t.TempDir()

	created, err := signing.GenerateKey(dir)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !created {
		t.Fatal("expected first GenerateKey call to create the key")
	}

	first, found, err := signing.LoadKey(dir)
	if err != nil || !found {
		t.Fatalf("load key: found=%v err=%v", found, err)
	}

	created, err = signing.GenerateKey(dir)
	if err != nil {
		t.Fatalf("second generate: %v", err)
	}
	if created {
		t.Fatal("expected second GenerateKey call to be a no-op")
	}

	second, _, _ := signing.LoadKey(dir)
	if !bytes.Equal(first, second) {
		t.Fatal("expected key to survive an attempted regeneration unchanged")
	}
}

func TestGenerateKey_FileModeIsRestrictive(t *testing.T) {
	dir := t.TempDir()
	if _, err := signing.GenerateKey(dir); err != nil {
		t.Fatalf("generate: %v", err)
	}
	info, err := os.Stat(filepath.Join(dir, "signing.key"))
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("expected mode 0600, got %o", perm)
	}
}

func TestLoadKey_AbsentReturnsNotFound(t *testing.T) {
	dir := t.TempDir()
	_, found, err := signing.LoadKey(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if found {
		t.Fatal("expected found=false for a missing key file")
	}
}

func TestCanonicalize_IsDeterministicAndExcludesHMAC(t *testing.T) {
	hmacVal := "should-not-appear"
	event := models.AuditEvent{
		ID:        "evt-1",
		Sequence:  1,
		SessionID: "sess-1",
		Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		EventType: models.EventSessionStart,
		Action:    "start",
		Severity:  models.SeverityInfo,
		HMAC:      &hmacVal,
	}

	a, err := signing.Canonicalize(event)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	b, err := signing.Canonicalize(event)
	if err != nil {
		t.Fatalf("canonicalize again: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatal("expected canonicalization to be deterministic")
	}
	if bytes.Contains(a, []byte(hmacVal)) {
		t.Fatal("expected hmac field to be excluded from canonical form")
	}
	if bytes.Contains(a, []byte(" ")) || bytes.Contains(a, []byte("\n")) {
		t.Fatal("expected canonical form to contain no whitespace")
	}
}

func testKey32(b byte) []byte {
	key := make([]byte, 32)
	for i := range key {
		key[i] = b
	}
	return key
}

// Scenario A: single signed event chained from genesis must verify clean.
func TestVerifyChain_SingleSignedEventIsValid(t *testing.T) {
	sessionID := "01ARZ3NDEKTSV4RRFFQ69G5FAV"
	key := testKey32(0x61)

	event := models.AuditEvent{
		ID:        "evt-1",
		Sequence:  1,
		SessionID: sessionID,
		Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		EventType: models.EventSessionStart,
		Action:    "start",
		Severity:  models.SeverityInfo,
	}
	hmacVal, err := signing.ComputeHMAC(key, signing.Genesis(sessionID), event)
	if err != nil {
		t.Fatalf("compute hmac: %v", err)
	}
	event.HMAC = &hmacVal

	result := signing.VerifyChain(key, sessionID, []models.AuditEvent{event})
	if !result.Valid || result.EventsChecked != 1 || len(result.Errors) != 0 {
		t.Fatalf("expected clean verification, got %+v", result)
	}
}

// Scenario B: a sequence gap (1 then 3, as if 2 never existed) is reported
// as exactly one gap error at the offending sequence, and the chain is
// invalid overall.
func TestVerifyChain_DetectsSequenceGap(t *testing.T) {
	sessionID := "sess-gap"
	key := testKey32(0x61)

	first := models.AuditEvent{
		ID: "evt-1", Sequence: 1, SessionID: sessionID,
		Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		EventType: models.EventSessionStart, Action: "start", Severity: models.SeverityInfo,
	}
	firstHMAC, err := signing.ComputeHMAC(key, signing.Genesis(sessionID), first)
	if err != nil {
		t.Fatalf("compute hmac: %v", err)
	}
	first.HMAC = &firstHMAC

	third := models.AuditEvent{
		ID: "evt-3", Sequence: 3, SessionID: sessionID,
		Timestamp: time.Date(2026, 1, 1, 0, 0, 2, 0, time.UTC),
		EventType: models.EventToolUse, Action: "Write", Severity: models.SeverityInfo,
	}
	thirdHMAC, err := signing.ComputeHMAC(key, firstHMAC, third)
	if err != nil {
		t.Fatalf("compute hmac: %v", err)
	}
	third.HMAC = &thirdHMAC

	result := signing.VerifyChain(key, sessionID, []models.AuditEvent{first, third})
	if result.Valid {
		t.Fatal("expected chain with a sequence gap to be invalid")
	}
	if len(result.Errors) != 1 || result.Errors[0].Tag != signing.ErrorGap || result.Errors[0].Sequence != 3 {
		t.Fatalf("expected exactly one gap error at sequence 3, got %+v", result.Errors)
	}
}

func TestVerifyChain_MissingHMACDoesNotHaltAndActualValueContinuesTheChain(t *testing.T) {
	sessionID := "sess-missing"
	key := testKey32(0x61)

	unsigned := models.AuditEvent{
		ID: "evt-1", Sequence: 1, SessionID: sessionID,
		Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		EventType: models.EventSessionStart, Action: "start", Severity: models.SeverityInfo,
	}

	second := models.AuditEvent{
		ID: "evt-2", Sequence: 2, SessionID: sessionID,
		Timestamp: time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC),
		EventType: models.EventToolUse, Action: "Write", Severity: models.SeverityInfo,
	}
	secondHMAC, err := signing.ComputeHMAC(key, "", second)
	if err != nil {
		t.Fatalf("compute hmac: %v", err)
	}
	second.HMAC = &secondHMAC

	result := signing.VerifyChain(key, sessionID, []models.AuditEvent{unsigned, second})
	if result.Valid {
		t.Fatal("expected chain with a missing hmac to be invalid overall")
	}
	if len(result.Errors) != 1 || result.Errors[0].Tag != signing.ErrorMissing || result.Errors[0].Sequence != 1 {
		t.Fatalf("expected exactly one missing error at sequence 1, got %+v", result.Errors)
	}
}

func TestVerifyChain_MismatchIsReportedWithoutHalting(t *testing.T) {
	sessionID := "sess-mismatch"
	key := testKey32(0x61)

	first := models.AuditEvent{
		ID: "evt-1", Sequence: 1, SessionID: sessionID,
		Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		EventType: models.EventSessionStart, Action: "start", Severity: models.SeverityInfo,
	}
	tampered := "0000000000000000000000000000000000000000000000000000000000000000"
	first.HMAC = &tampered

	second := models.AuditEvent{
		ID: "evt-2", Sequence: 2, SessionID: sessionID,
		Timestamp: time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC),
		EventType: models.EventToolUse, Action: "Write", Severity: models.SeverityInfo,
	}
	secondHMAC, err := signing.ComputeHMAC(key, tampered, second)
	if err != nil {
		t.Fatalf("compute hmac: %v", err)
	}
	second.HMAC = &secondHMAC

	result := signing.VerifyChain(key, sessionID, []models.AuditEvent{first, second})
	if len(result.Errors) != 1 || result.Errors[0].Tag != signing.ErrorMismatch || result.Errors[0].Sequence != 1 {
		t.Fatalf("expected exactly one mismatch error at sequence 1, got %+v", result.Errors)
	}
	if result.Valid {
		t.Fatal("expected chain with a tampered hmac to be invalid")
	}
}
