// Package webhook verifies inbound webhook deliveries: an HMAC signature
// over the raw body, an optional freshness window on the delivery
// timestamp, and idempotency-key deduplication so a replayed delivery is
// processed at most once.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Verification errors.
var (
	// ErrBadSignature means the signature did not match the body.
	ErrBadSignature = errors.New("webhook: signature mismatch")
	// ErrStaleTimestamp means the delivery timestamp fell outside the
	// freshness window.
	ErrStaleTimestamp = errors.New("webhook: timestamp outside freshness window")
	// ErrReplayed means the idempotency key was already seen.
	ErrReplayed = errors.New("webhook: duplicate delivery")
	// ErrMissingIdempotencyKey means the delivery carried no idempotency
	// key while the key is the only replay protection in effect.
	ErrMissingIdempotencyKey = errors.New("webhook: idempotency key required")
)

// DefaultFreshnessWindow bounds how far a delivery timestamp may drift
// from the verifier's clock, in either direction.
const DefaultFreshnessWindow = 300 * time.Second

// Verifier checks webhook deliveries against a shared secret. Safe for
// concurrent use.
type Verifier struct {
	secret []byte
	window time.Duration

	mu   sync.Mutex
	seen map[string]time.Time

	now func() time.Time
}

// Config configures a Verifier.
type Config struct {
	// Secret is the shared HMAC secret.
	Secret []byte
	// FreshnessWindow overrides DefaultFreshnessWindow. Negative disables
	// the timestamp check for channels that send no timestamps; those
	// deliveries must carry an idempotency key instead.
	FreshnessWindow time.Duration
	// Now overrides the clock for tests.
	Now func() time.Time
}

// NewVerifier builds a Verifier. The secret must be non-empty.
func NewVerifier(cfg Config) (*Verifier, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("webhook: secret must not be empty")
	}
	v := &Verifier{
		secret: cfg.Secret,
		window: cfg.FreshnessWindow,
		seen:   make(map[string]time.Time),
		now:    cfg.Now,
	}
	if v.window == 0 {
		v.window = DefaultFreshnessWindow
	}
	if v.now == nil {
		v.now = time.Now
	}
	return v, nil
}

// Sign computes the hex signature for a body, prefixed with the scheme
// identifier. Exposed so tests and the sending side share one definition.
func (v *Verifier) Sign(body []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks the signature header against the raw body using a
// constant-time compare. The header accepts the "sha256=" prefix or bare
// hex.
func (v *Verifier) VerifySignature(body []byte, signature string) error {
	signature = strings.TrimPrefix(signature, "sha256=")

	got, err := hex.DecodeString(signature)
	if err != nil {
		return ErrBadSignature
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return ErrBadSignature
	}
	return nil
}

// VerifyTimestamp checks that a unix-seconds timestamp header is within
// the freshness window of the verifier's clock. Skipped when the window is
// negative.
func (v *Verifier) VerifyTimestamp(header string) error {
	if v.window < 0 {
		return nil
	}

	ts, err := strconv.ParseInt(strings.TrimSpace(header), 10, 64)
	if err != nil {
		return fmt.Errorf("%w: unparseable timestamp", ErrStaleTimestamp)
	}

	drift := v.now().Sub(time.Unix(ts, 0))
	if drift < 0 {
		drift = -drift
	}
	if drift > v.window {
		return ErrStaleTimestamp
	}
	return nil
}

// CheckIdempotency records the delivery key and rejects keys seen before.
// With the timestamp check active an empty key skips deduplication, since
// the freshness window already bounds replays. With the timestamp check
// disabled the key is the only replay protection, so its absence is an
// error rather than a silent pass.
func (v *Verifier) CheckIdempotency(key string) error {
	if key == "" {
		if v.window < 0 {
			return ErrMissingIdempotencyKey
		}
		return nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.now()
	v.evict(now)

	if _, dup := v.seen[key]; dup {
		return ErrReplayed
	}
	v.seen[key] = now
	return nil
}

// Verify runs the full check: signature, then freshness, then idempotency.
// The idempotency key is only consumed when the other checks pass, so a
// forged delivery cannot burn a legitimate key.
func (v *Verifier) Verify(body []byte, signature, timestamp, idempotencyKey string) error {
	if err := v.VerifySignature(body, signature); err != nil {
		return err
	}
	if err := v.VerifyTimestamp(timestamp); err != nil {
		return err
	}
	return v.CheckIdempotency(idempotencyKey)
}

// evict drops idempotency keys older than twice the freshness window;
// past that point the timestamp check rejects replays anyway. With the
// timestamp check disabled keys are kept for 24 hours. Caller holds mu.
func (v *Verifier) evict(now time.Time) {
	retain := 2 * v.window
	if v.window < 0 {
		retain = 24 * time.Hour
	}
	cutoff := now.Add(-retain)
	for key, at := range v.seen {
		if at.Before(cutoff) {
			delete(v.seen, key)
		}
	}
}
