package pairing

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

// testClock is an adjustable clock for lockout and expiry tests.
type testClock struct {
	t time.Time
}

func (c *testClock) now() time.Time          { return c.t }
func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestGuard(t *testing.T) (*Guard, string, *testClock, string) {
	t.Helper()
	clock := &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	path := filepath.Join(t.TempDir(), "tokens.yaml")
	g, code, err := NewGuard(Config{TokenPath: path, Now: clock.now})
	if err != nil {
		t.Fatalf("NewGuard() error = %v", err)
	}
	return g, code, clock, path
}

func TestPairAndAuthenticate(t *testing.T) {
	g, code, _, path := newTestGuard(t)

	token, err := g.Pair("10.0.0.1", code)
	if err != nil {
		t.Fatalf("Pair() error = %v", err)
	}
	if token == "" {
		t.Fatal("Pair() returned empty token")
	}

	if err := g.Authenticate("10.0.0.1", token); err != nil {
		t.Errorf("Authenticate() error = %v", err)
	}

	// The raw token must never land on disk.
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(raw), token) {
		t.Error("token file contains the raw token")
	}
	if info, err := os.Stat(path); err == nil {
		if perm := info.Mode().Perm(); perm != 0o600 {
			t.Errorf("token file permissions = %04o, want 0600", perm)
		}
	}
}

func TestPairingCodeIsSingleUse(t *testing.T) {
	g, code, _, _ := newTestGuard(t)

	if _, err := g.Pair("10.0.0.1", code); err != nil {
		t.Fatal(err)
	}
	if _, err := g.Pair("10.0.0.2", code); !errors.Is(err, ErrAlreadyPaired) {
		t.Errorf("second Pair() error = %v, want ErrAlreadyPaired", err)
	}
}

func TestPairWrongCode(t *testing.T) {
	g, _, _, _ := newTestGuard(t)

	if _, err := g.Pair("10.0.0.1", "not-the-code"); !errors.Is(err, ErrInvalidCode) {
		t.Errorf("Pair(wrong code) error = %v, want ErrInvalidCode", err)
	}
}

func TestAuthenticateUnknownToken(t *testing.T) {
	g, _, _, _ := newTestGuard(t)

	if err := g.Authenticate("10.0.0.1", "bogus"); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("Authenticate(unknown) error = %v, want ErrNotAuthenticated", err)
	}
}

func TestLockoutAfterRepeatedFailures(t *testing.T) {
	g, _, clock, _ := newTestGuard(t)
	const identity = "10.0.0.9"

	// Five failures arm the lockout.
	for i := 0; i < 5; i++ {
		if err := g.Authenticate(identity, "wrong"); !errors.Is(err, ErrNotAuthenticated) {
			t.Fatalf("attempt %d error = %v, want ErrNotAuthenticated", i+1, err)
		}
	}

	// The sixth attempt is rejected before any comparison happens.
	err := g.Authenticate(identity, "wrong")
	if !errors.Is(err, ErrLockedOut) {
		t.Fatalf("locked-out attempt error = %v, want ErrLockedOut", err)
	}
	if !strings.Contains(err.Error(), "min") {
		t.Errorf("lockout error %q does not report a coarse wait time", err)
	}
	if remaining := g.LockoutRemaining(identity); remaining != 5*time.Minute {
		t.Errorf("LockoutRemaining() = %v, want coarse 5m", remaining)
	}

	// Other identities are unaffected.
	if err := g.Authenticate("10.0.0.10", "wrong"); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("other identity error = %v, want ErrNotAuthenticated", err)
	}

	// After the window passes the identity may try again.
	clock.advance(5*time.Minute + time.Second)
	if err := g.Authenticate(identity, "wrong"); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("post-lockout attempt error = %v, want ErrNotAuthenticated", err)
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	g, code, _, _ := newTestGuard(t)
	const identity = "10.0.0.1"

	token, err := g.Pair(identity, code)
	if err != nil {
		t.Fatal(err)
	}

	// Four failures, then a success, then four more failures: no lockout.
	for i := 0; i < 4; i++ {
		g.Authenticate(identity, "wrong")
	}
	if err := g.Authenticate(identity, token); err != nil {
		t.Fatalf("Authenticate(valid) error = %v", err)
	}
	for i := 0; i < 4; i++ {
		if err := g.Authenticate(identity, "wrong"); !errors.Is(err, ErrNotAuthenticated) {
			t.Fatalf("post-reset attempt %d error = %v, want ErrNotAuthenticated", i+1, err)
		}
	}
}

func TestTokenExpiry(t *testing.T) {
	clock := &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	path := filepath.Join(t.TempDir(), "tokens.yaml")
	g, code, err := NewGuard(Config{TokenPath: path, MaxAgeDays: 30, Now: clock.now})
	if err != nil {
		t.Fatal(err)
	}

	token, err := g.Pair("10.0.0.1", code)
	if err != nil {
		t.Fatal(err)
	}

	clock.advance(29 * 24 * time.Hour)
	if err := g.Authenticate("10.0.0.1", token); err != nil {
		t.Errorf("Authenticate() at day 29 error = %v", err)
	}

	clock.advance(2 * 24 * time.Hour)
	if err := g.Authenticate("10.0.0.1", token); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("Authenticate() at day 31 error = %v, want ErrNotAuthenticated", err)
	}
}

func TestZeroMaxAgeNeverExpires(t *testing.T) {
	g, code, clock, _ := newTestGuard(t)

	token, err := g.Pair("10.0.0.1", code)
	if err != nil {
		t.Fatal(err)
	}

	clock.advance(10 * 365 * 24 * time.Hour)
	if err := g.Authenticate("10.0.0.1", token); err != nil {
		t.Errorf("Authenticate() after ten years error = %v, want nil with expiry disabled", err)
	}
}

func TestRecordWithoutCreatedAtNeverExpires(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.yaml")
	seed := tokenFile{Tokens: []tokenRecord{{Hash: hashToken("ancient-token")}}}
	data, err := yaml.Marshal(seed)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	g, _, err := NewGuard(Config{TokenPath: path, MaxAgeDays: 1})
	if err != nil {
		t.Fatal(err)
	}
	if err := g.Authenticate("10.0.0.1", "ancient-token"); err != nil {
		t.Errorf("Authenticate(record without created_at) error = %v, want nil", err)
	}
}

func TestLegacyPlaintextTokensAreHashedOnLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.yaml")
	seed := tokenFile{Tokens: []tokenRecord{{Hash: "legacy-plaintext-token"}}}
	data, err := yaml.Marshal(seed)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	g, _, err := NewGuard(Config{TokenPath: path})
	if err != nil {
		t.Fatal(err)
	}

	// The plaintext still authenticates.
	if err := g.Authenticate("10.0.0.1", "legacy-plaintext-token"); err != nil {
		t.Errorf("Authenticate(legacy token) error = %v", err)
	}

	// But the file now holds only its hash.
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(raw), "legacy-plaintext-token") {
		t.Error("token file still contains the plaintext token after load")
	}
	if !strings.Contains(string(raw), hashToken("legacy-plaintext-token")) {
		t.Error("token file does not contain the upgraded hash")
	}
}

func TestExpiredRecordsPrunedOnLoad(t *testing.T) {
	clock := &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	path := filepath.Join(t.TempDir(), "tokens.yaml")

	stale := clock.t.Add(-40 * 24 * time.Hour)
	fresh := clock.t.Add(-1 * 24 * time.Hour)
	seed := tokenFile{Tokens: []tokenRecord{
		{Hash: hashToken("stale-token"), CreatedAt: &stale},
		{Hash: hashToken("fresh-token"), CreatedAt: &fresh},
	}}
	data, err := yaml.Marshal(seed)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	g, _, err := NewGuard(Config{TokenPath: path, MaxAgeDays: 30, Now: clock.now})
	if err != nil {
		t.Fatal(err)
	}

	if err := g.Authenticate("10.0.0.1", "stale-token"); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("Authenticate(expired token) error = %v, want ErrNotAuthenticated", err)
	}
	if err := g.Authenticate("10.0.0.2", "fresh-token"); err != nil {
		t.Errorf("Authenticate(fresh token) error = %v", err)
	}

	// The expired record is gone from the file, not just skipped.
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(raw), hashToken("stale-token")) {
		t.Error("token file still holds the expired record after load")
	}
	if !strings.Contains(string(raw), hashToken("fresh-token")) {
		t.Error("token file lost the unexpired record")
	}
}

func TestRevoke(t *testing.T) {
	g, code, _, _ := newTestGuard(t)

	token, err := g.Pair("10.0.0.1", code)
	if err != nil {
		t.Fatal(err)
	}
	if err := g.Revoke(); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}
	if err := g.Authenticate("10.0.0.1", token); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("Authenticate() after revoke error = %v, want ErrNotAuthenticated", err)
	}
}

func TestTokensPersistAcrossRestart(t *testing.T) {
	clock := &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	path := filepath.Join(t.TempDir(), "tokens.yaml")

	g, code, err := NewGuard(Config{TokenPath: path, Now: clock.now})
	if err != nil {
		t.Fatal(err)
	}
	token, err := g.Pair("10.0.0.1", code)
	if err != nil {
		t.Fatal(err)
	}

	reborn, _, err := NewGuard(Config{TokenPath: path, Now: clock.now})
	if err != nil {
		t.Fatal(err)
	}
	if err := reborn.Authenticate("10.0.0.1", token); err != nil {
		t.Errorf("Authenticate() after restart error = %v", err)
	}
}
