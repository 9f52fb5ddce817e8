package security

import (
	"regexp"
	"strings"
)

// Patterns for sensitive data that must never reach a log line. The
// gateway logs command text and request metadata, both of which routinely
// carry credentials pasted by callers.
var (
	apiKeyPattern = regexp.MustCompile(`(?i)(api[_-]?key|apikey|api[_-]?secret|api[_-]?token)[[:space:]]*[:=][[:space:]]*['"` + "`" + `]?([a-zA-Z0-9_\-]{16,})`)

	bearerTokenPattern = regexp.MustCompile(`(?i)bearer[[:space:]]+([a-zA-Z0-9_\-\.]+)`)

	pairingCodePattern = regexp.MustCompile(`(?i)(x-pairing-code|pairing[_-]?code)[[:space:]]*[:=][[:space:]]*['"` + "`" + `]?([a-zA-Z0-9\-]{8,})`)

	privateKeyPattern = regexp.MustCompile(`(?s)-----BEGIN[[:space:]]+(?:RSA[[:space:]]+)?PRIVATE[[:space:]]+KEY-----.*?-----END[[:space:]]+(?:RSA[[:space:]]+)?PRIVATE[[:space:]]+KEY-----`)

	urlPasswordPattern = regexp.MustCompile(`(?i)(https?|ftp)://[^:]+:([^@]+)@`)

	// Stored secret envelopes. The ciphertext is opaque but its presence
	// in a log invites copy/paste into less careful channels.
	encBlobPattern = regexp.MustCompile(`\benc2?:[0-9a-fA-F]{24,}`)
)

// LogSanitizer masks sensitive values before they are logged or audited.
type LogSanitizer struct {
	customPatterns []*regexp.Regexp
}

// NewLogSanitizer creates a sanitizer with the built-in patterns.
func NewLogSanitizer() *LogSanitizer {
	return &LogSanitizer{}
}

// AddCustomPattern adds a deployment-specific pattern to redact.
func (ls *LogSanitizer) AddCustomPattern(pattern *regexp.Regexp) {
	ls.customPatterns = append(ls.customPatterns, pattern)
}

// Sanitize masks sensitive information in a message.
func (ls *LogSanitizer) Sanitize(message string) string {
	message = apiKeyPattern.ReplaceAllString(message, "${1}=[REDACTED]")
	message = bearerTokenPattern.ReplaceAllString(message, "Bearer [REDACTED]")
	message = pairingCodePattern.ReplaceAllString(message, "${1}=[REDACTED]")
	message = privateKeyPattern.ReplaceAllString(message, "[REDACTED-PRIVATE-KEY]")
	message = urlPasswordPattern.ReplaceAllString(message, "${1}://[REDACTED]@")
	message = encBlobPattern.ReplaceAllString(message, "[REDACTED-CIPHERTEXT]")

	for _, pattern := range ls.customPatterns {
		message = pattern.ReplaceAllString(message, "[REDACTED]")
	}
	return message
}

// SanitizeError sanitizes an error's message; nil maps to "".
func (ls *LogSanitizer) SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return ls.Sanitize(err.Error())
}

// SanitizeMap sanitizes all keys and values of a metadata map, blanking
// values whose key names suggest sensitive content outright.
func (ls *LogSanitizer) SanitizeMap(m map[string]string) map[string]string {
	sanitized := make(map[string]string, len(m))
	for k, v := range m {
		value := ls.Sanitize(v)
		if isSensitiveKey(k) {
			value = "[REDACTED]"
		}
		sanitized[ls.Sanitize(k)] = value
	}
	return sanitized
}

// isSensitiveKey checks if a key name suggests sensitive content.
func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, keyword := range []string{
		"password", "passwd", "pwd",
		"secret", "token", "key",
		"auth", "credential", "cred",
		"private", "bearer", "pairing",
	} {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}
