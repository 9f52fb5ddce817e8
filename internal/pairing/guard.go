// Package pairing authenticates callers of the gateway. A caller exchanges
// the single-use pairing code for a bearer token; the token's SHA-256 hash
// is persisted, never the token itself. Failed attempts are throttled with
// a per-identity lockout so the code and token space cannot be brute
// forced online.
package pairing

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Guard errors. HTTP handlers map these to status codes; the detail never
// says whether a code or token was close to valid.
var (
	// ErrInvalidCode means the presented pairing code did not match.
	ErrInvalidCode = errors.New("pairing: invalid pairing code")
	// ErrAlreadyPaired means the pairing code was already consumed.
	ErrAlreadyPaired = errors.New("pairing: pairing code already used")
	// ErrNotAuthenticated means the presented token is unknown or expired.
	ErrNotAuthenticated = errors.New("pairing: not authenticated")
	// ErrLockedOut means the identity exceeded the failure budget and must
	// wait out the lockout window.
	ErrLockedOut = errors.New("pairing: too many failed attempts")
)

// Lockout policy: five consecutive failures lock the identity out for five
// minutes. A success resets the count.
const (
	maxConsecutiveFailures = 5
	lockoutDuration        = 5 * time.Minute
)

// tokenFile is the persisted shape of the token list.
type tokenFile struct {
	Tokens []tokenRecord `yaml:"tokens"`
}

type tokenRecord struct {
	// Hash is hex(SHA-256(token)). Legacy files stored the token itself;
	// those entries are hashed on load and the file rewritten.
	Hash      string     `yaml:"hash"`
	CreatedAt *time.Time `yaml:"created_at,omitempty"`
	Label     string     `yaml:"label,omitempty"`
}

// failureState tracks the lockout window for one identity. It lives in
// memory only: a restart clears lockouts, which errs on the side of
// availability and is acceptable because the failure budget re-arms
// immediately.
type failureState struct {
	consecutive int
	lockedUntil time.Time
}

// Guard pairs callers and authenticates their tokens.
type Guard struct {
	mu sync.Mutex

	pairingCode string
	codeUsed    bool

	tokens    []tokenRecord
	tokenPath string

	// maxAge bounds token lifetime from created_at. Zero means tokens
	// never expire. Records without created_at predate expiry support and
	// also never expire.
	maxAge time.Duration

	failures map[string]*failureState

	now func() time.Time
}

// Config configures a Guard.
type Config struct {
	// TokenPath is the YAML file holding token hashes.
	TokenPath string
	// MaxAgeDays bounds token lifetime. Zero disables expiry.
	MaxAgeDays int
	// Now overrides the clock for tests.
	Now func() time.Time
}

// NewGuard loads persisted tokens and mints a fresh single-use pairing
// code. The code is returned to the operator exactly once, out of band.
func NewGuard(cfg Config) (*Guard, string, error) {
	g := &Guard{
		pairingCode: uuid.New().String(),
		tokenPath:   cfg.TokenPath,
		maxAge:      time.Duration(cfg.MaxAgeDays) * 24 * time.Hour,
		failures:    make(map[string]*failureState),
		now:         cfg.Now,
	}
	if g.now == nil {
		g.now = time.Now
	}

	if err := g.loadTokens(); err != nil {
		return nil, "", err
	}
	return g, g.pairingCode, nil
}

// Pair exchanges the pairing code for a new bearer token. The code is
// single use; identity keys the lockout bookkeeping (callers pass the
// client IP). The returned token is shown once and only its hash persists.
func (g *Guard) Pair(identity, code string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.checkLockout(identity); err != nil {
		return "", err
	}

	if g.codeUsed {
		// Spent codes do not count as failures: the legitimate caller
		// retrying after a lost response would lock themselves out.
		return "", ErrAlreadyPaired
	}

	if subtle.ConstantTimeCompare([]byte(code), []byte(g.pairingCode)) != 1 {
		g.recordFailure(identity)
		return "", ErrInvalidCode
	}

	g.codeUsed = true
	g.resetFailures(identity)

	token := uuid.New().String()
	created := g.now().UTC()
	g.tokens = append(g.tokens, tokenRecord{
		Hash:      hashToken(token),
		CreatedAt: &created,
	})
	if err := g.saveTokens(); err != nil {
		return "", err
	}
	return token, nil
}

// Authenticate checks a bearer token against the persisted hashes,
// enforcing expiry and the per-identity lockout.
func (g *Guard) Authenticate(identity, token string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.checkLockout(identity); err != nil {
		return err
	}

	want := hashToken(token)
	matched := false
	for _, rec := range g.tokens {
		// Hashes are hex of a fixed-width digest, so a constant-time
		// compare over them keeps the token check timing-independent.
		if subtle.ConstantTimeCompare([]byte(rec.Hash), []byte(want)) == 1 {
			if g.expired(rec) {
				continue
			}
			matched = true
		}
	}
	if !matched {
		g.recordFailure(identity)
		return ErrNotAuthenticated
	}

	g.resetFailures(identity)
	return nil
}

// Revoke removes every persisted token. Callers must re-pair afterwards.
func (g *Guard) Revoke() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.tokens = nil
	return g.saveTokens()
}

// LockoutRemaining reports how long the identity must wait, rounded up to
// whole minutes so the error message does not leak a precise retry instant.
// Zero means not locked out.
func (g *Guard) LockoutRemaining(identity string) time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()

	st, ok := g.failures[identity]
	if !ok {
		return 0
	}
	remaining := st.lockedUntil.Sub(g.now())
	if remaining <= 0 {
		return 0
	}
	return roundUpMinute(remaining)
}

// roundUpMinute rounds a duration up to whole minutes.
func roundUpMinute(d time.Duration) time.Duration {
	rounded := d.Truncate(time.Minute)
	if rounded < d {
		rounded += time.Minute
	}
	return rounded
}

func (g *Guard) checkLockout(identity string) error {
	st, ok := g.failures[identity]
	if !ok {
		return nil
	}
	if remaining := st.lockedUntil.Sub(g.now()); remaining > 0 {
		minutes := int(roundUpMinute(remaining) / time.Minute)
		return fmt.Errorf("%w: retry in %d min", ErrLockedOut, minutes)
	}
	return nil
}

func (g *Guard) recordFailure(identity string) {
	st, ok := g.failures[identity]
	if !ok {
		st = &failureState{}
		g.failures[identity] = st
	}
	st.consecutive++
	if st.consecutive >= maxConsecutiveFailures {
		st.lockedUntil = g.now().Add(lockoutDuration)
		st.consecutive = 0
	}
}

func (g *Guard) resetFailures(identity string) {
	delete(g.failures, identity)
}

// expired reports whether a record is past its lifetime. Records without a
// creation timestamp never expire.
func (g *Guard) expired(rec tokenRecord) bool {
	if g.maxAge <= 0 || rec.CreatedAt == nil {
		return false
	}
	return g.now().After(rec.CreatedAt.Add(g.maxAge))
}

// loadTokens reads the token file, upgrading any legacy plaintext entries
// to hashes and dropping records already past their lifetime. Either change
// rewrites the file.
func (g *Guard) loadTokens() error {
	data, err := os.ReadFile(g.tokenPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("pairing: read token file: %w", err)
	}

	var tf tokenFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return fmt.Errorf("pairing: parse token file: %w", err)
	}

	dirty := false
	kept := tf.Tokens[:0]
	for _, rec := range tf.Tokens {
		if g.expired(rec) {
			dirty = true
			continue
		}
		if !looksHashed(rec.Hash) {
			rec.Hash = hashToken(rec.Hash)
			dirty = true
		}
		kept = append(kept, rec)
	}
	g.tokens = kept

	if dirty {
		return g.saveTokens()
	}
	return nil
}

// saveTokens writes the token file atomically with 0600 permissions.
// Caller holds mu.
func (g *Guard) saveTokens() error {
	data, err := yaml.Marshal(tokenFile{Tokens: g.tokens})
	if err != nil {
		return fmt.Errorf("pairing: marshal token file: %w", err)
	}

	if dir := filepath.Dir(g.tokenPath); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("pairing: create token directory: %w", err)
		}
	}

	tmp := g.tokenPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("pairing: write token file: %w", err)
	}
	if err := os.Rename(tmp, g.tokenPath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("pairing: write token file: %w", err)
	}
	return nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// looksHashed reports whether a stored value is already hex(SHA-256).
// Anything else is treated as a legacy plaintext token.
func looksHashed(value string) bool {
	if len(value) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(value)
	return err == nil
}
