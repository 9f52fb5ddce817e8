// Package command implements the gateway's command trust boundary: a
// quote-aware tokenizer, a static risk classifier, and a validator that
// turns a raw shell command string into an allow/deny verdict.
package command

import "strings"

// Segment is one top-level piece of a shell command, delimited by unquoted
// control operators. It is produced per validation call and never persisted.
type Segment struct {
	// Raw is the segment text with surrounding whitespace trimmed.
	Raw string
	// Executable is the first whitespace-delimited token, lower-cased,
	// with any path prefix stripped ("/bin/rm" -> "rm").
	Executable string
	// Args are the remaining whitespace-delimited tokens.
	Args []string
}

// Tokenize splits a command string into segments at unquoted, unescaped
// occurrences of ";", "|", "&&" and "||". Quote handling follows POSIX shell
// semantics: single quotes disable all escaping, double quotes honor
// backslash escapes, and a backslash outside quotes escapes the next
// character. An unbalanced quote at end of string does not fail: the
// remainder becomes a single final segment so the validator can judge the
// malformed tail conservatively.
func Tokenize(commandStr string) []Segment {
	var segments []Segment
	var current strings.Builder

	flush := func() {
		if seg, ok := newSegment(current.String()); ok {
			segments = append(segments, seg)
		}
		current.Reset()
	}

	inSingle := false
	inDouble := false
	escaped := false

	for i := 0; i < len(commandStr); i++ {
		ch := commandStr[i]

		if escaped {
			current.WriteByte(ch)
			escaped = false
			continue
		}

		switch {
		case inSingle:
			if ch == '\'' {
				inSingle = false
			}
			current.WriteByte(ch)
		case inDouble:
			if ch == '\\' {
				escaped = true
			} else if ch == '"' {
				inDouble = false
			}
			current.WriteByte(ch)
		case ch == '\\':
			escaped = true
			current.WriteByte(ch)
		case ch == '\'':
			inSingle = true
			current.WriteByte(ch)
		case ch == '"':
			inDouble = true
			current.WriteByte(ch)
		case ch == ';':
			flush()
		case ch == '&' && i+1 < len(commandStr) && commandStr[i+1] == '&':
			flush()
			i++
		case ch == '|':
			// Both "||" and a single pipe start a new command; the
			// downstream side of a pipe executes and must be classified
			// on its own.
			flush()
			if i+1 < len(commandStr) && commandStr[i+1] == '|' {
				i++
			}
		default:
			current.WriteByte(ch)
		}
	}

	flush()
	return segments
}

// newSegment trims and splits a raw segment, returning ok=false for
// whitespace-only text.
func newSegment(raw string) (Segment, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Segment{}, false
	}

	fields := strings.Fields(raw)
	seg := Segment{
		Raw:        raw,
		Executable: baseExecutable(fields[0]),
	}
	if len(fields) > 1 {
		seg.Args = fields[1:]
	}
	return seg, true
}

// baseExecutable strips any path prefix and lower-cases the executable name
// so "/usr/bin/RM" classifies the same as "rm".
func baseExecutable(token string) string {
	token = strings.TrimRight(token, "/")
	if idx := strings.LastIndex(token, "/"); idx >= 0 {
		token = token[idx+1:]
	}
	return strings.ToLower(token)
}
