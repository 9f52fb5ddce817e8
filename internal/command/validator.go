package command

import (
	"errors"
	"path"
	"strings"

	"github.com/andywolf/agentgate/internal/security"
)

// Autonomy is the operating mode supplied by the policy collaborator.
type Autonomy int

const (
	// AutonomyReadOnly never permits high-risk commands regardless of flags.
	AutonomyReadOnly Autonomy = iota
	// AutonomySupervised routes medium-risk commands through approval.
	AutonomySupervised
	// AutonomyFull behaves like Supervised but is the level under which
	// operators typically relax block_high_risk_commands.
	AutonomyFull
)

// ParseAutonomy maps a config string to an Autonomy level. Unknown values
// fall back to ReadOnly, the most restrictive level.
func ParseAutonomy(s string) Autonomy {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "full":
		return AutonomyFull
	case "supervised":
		return AutonomySupervised
	default:
		return AutonomyReadOnly
	}
}

// String returns the config-file spelling of the autonomy level.
func (a Autonomy) String() string {
	switch a {
	case AutonomyFull:
		return "full"
	case AutonomySupervised:
		return "supervised"
	default:
		return "readonly"
	}
}

// Outcome is the validator's decision for a command string.
type Outcome int

const (
	// Denied means the command must not run.
	Denied Outcome = iota
	// RequiresApproval means the command may run once a human approves it.
	RequiresApproval
	// Allowed means the command may run now.
	Allowed
)

// String returns the outcome name used in audit events.
func (o Outcome) String() string {
	switch o {
	case Allowed:
		return "allowed"
	case RequiresApproval:
		return "requires_approval"
	default:
		return "denied"
	}
}

// Stable reason codes. These are the only internals a denied caller sees.
const (
	ReasonEmptyCommand     = "empty_command"
	ReasonHighRiskCommand  = "high_risk_command"
	ReasonApprovalRequired = "approval_required"
	ReasonPathTraversal    = "path_traversal"
	ReasonForbiddenPath    = "forbidden_path"
	ReasonOutsideWorkspace = "outside_workspace"
	ReasonRateLimited      = "rate_limited"
	ReasonCostCapped       = "cost_capped"
)

// Verdict is the result of validating one command string. Verdicts are
// produced fresh per call and never cached: the policy may change between
// calls.
type Verdict struct {
	Outcome Outcome
	// Tier is the maximum tier across all segments.
	Tier Tier
	// Reason is a stable machine-readable code, set when Outcome is not
	// Allowed.
	Reason string
	// Detail is a short human-readable elaboration safe to log and return.
	Detail string
}

// Policy carries the configuration the policy collaborator resolved for
// this call.
type Policy struct {
	Autonomy Autonomy
	// BlockHighRisk denies any High-tier segment. ReadOnly autonomy denies
	// High regardless of this flag.
	BlockHighRisk bool
	// WorkspaceOnly rejects absolute paths outside WorkspaceRoot.
	WorkspaceOnly bool
	WorkspaceRoot string
	// ForbiddenPaths extends the built-in forbidden prefixes. Enforcement
	// is always on, independent of WorkspaceOnly.
	ForbiddenPaths []string
}

// defaultForbiddenPrefixes are always enforced: system directories and
// credential dotfiles no agent command has business touching.
var defaultForbiddenPrefixes = []string{
	"/etc", "/root", "/boot", "/dev", "/proc", "/sys",
}

// defaultForbiddenComponents are path elements that mark a sensitive
// dotfile or directory wherever it appears.
var defaultForbiddenComponents = []string{
	".ssh", ".gnupg", ".aws", ".kube", ".env",
}

// Validator composes the tokenizer and classifier with path policy and the
// shared action tracker. A single instance serves concurrent callers; all
// of its own state is immutable after construction.
type Validator struct {
	tracker *security.ActionTracker
}

// NewValidator returns a Validator that consults tracker before admitting
// an action. A nil tracker disables rate and cost accounting (tests).
func NewValidator(tracker *security.ActionTracker) *Validator {
	return &Validator{tracker: tracker}
}

// Request is one validation call.
type Request struct {
	Command string
	// Approved is set when a human already approved this exact command.
	Approved bool
	// CostCents is the estimated cost charged against the daily cap if the
	// command is admitted.
	CostCents int
}

// Validate decides whether a command string may run under the given policy.
// Malformed input degrades to a conservative deny; this method never panics.
func (v *Validator) Validate(req Request, pol Policy) Verdict {
	segments := Tokenize(req.Command)
	if len(segments) == 0 {
		return Verdict{Outcome: Denied, Reason: ReasonEmptyCommand, Detail: "empty command"}
	}

	// Overall tier is the maximum across segments so a single high-risk
	// link denies the whole chain (`ls && rm -rf /`).
	overall := TierLow
	for _, seg := range segments {
		if tier := Classify(seg); tier > overall {
			overall = tier
		}
	}

	// Path policy. Traversal and forbidden prefixes are enforced
	// regardless of WorkspaceOnly.
	for _, seg := range segments {
		if verdict, ok := checkSegmentPaths(seg, pol); !ok {
			verdict.Tier = overall
			return verdict
		}
	}

	switch overall {
	case TierHigh:
		if pol.BlockHighRisk || pol.Autonomy == AutonomyReadOnly {
			return Verdict{
				Outcome: Denied,
				Tier:    overall,
				Reason:  ReasonHighRiskCommand,
				Detail:  "high-risk command blocked by policy",
			}
		}
	case TierMedium:
		if !req.Approved {
			return Verdict{
				Outcome: RequiresApproval,
				Tier:    overall,
				Reason:  ReasonApprovalRequired,
				Detail:  "medium-risk command requires approval",
			}
		}
	}

	if v.tracker != nil {
		if err := v.tracker.RecordAndCheck(req.CostCents); err != nil {
			reason := ReasonRateLimited
			detail := "action budget exhausted for the current window"
			if errors.Is(err, security.ErrCostCapped) {
				reason = ReasonCostCapped
				detail = "daily cost cap reached"
			}
			return Verdict{Outcome: Denied, Tier: overall, Reason: reason, Detail: detail}
		}
	}

	return Verdict{Outcome: Allowed, Tier: overall}
}

// checkSegmentPaths applies the path policy to every path-like token in a
// segment. Returns ok=false with a populated deny verdict on violation.
func checkSegmentPaths(seg Segment, pol Policy) (Verdict, bool) {
	for _, arg := range seg.Args {
		candidate := pathCandidate(arg)
		if candidate == "" {
			continue
		}

		if hasTraversal(candidate) {
			return Verdict{
				Outcome: Denied,
				Reason:  ReasonPathTraversal,
				Detail:  "path traversal is not permitted",
			}, false
		}

		if forbidden(candidate, pol.ForbiddenPaths) {
			return Verdict{
				Outcome: Denied,
				Reason:  ReasonForbiddenPath,
				Detail:  "path is on the forbidden list",
			}, false
		}

		if pol.WorkspaceOnly && strings.HasPrefix(candidate, "/") && pol.WorkspaceRoot != "" {
			root := strings.TrimRight(pol.WorkspaceRoot, "/")
			if candidate != root && !strings.HasPrefix(candidate, root+"/") {
				return Verdict{
					Outcome: Denied,
					Reason:  ReasonOutsideWorkspace,
					Detail:  "absolute path outside the workspace root",
				}, false
			}
		}
	}
	return Verdict{}, true
}

// pathCandidate extracts the path-like portion of an argument token.
// Flag values ("--file=/etc/passwd", "of=/dev/sda") are checked after the
// last "="; bare flags with no path content are skipped.
func pathCandidate(arg string) string {
	if idx := strings.LastIndex(arg, "="); idx >= 0 {
		arg = arg[idx+1:]
	}
	if arg == "" || arg == "-" {
		return ""
	}
	if strings.HasPrefix(arg, "-") && !strings.Contains(arg, "/") && !strings.Contains(arg, "..") {
		return ""
	}
	return arg
}

// hasTraversal reports whether ".." appears as a path segment. Substring
// matches like "..cache" do not count.
func hasTraversal(candidate string) bool {
	for _, seg := range strings.Split(candidate, "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}

// forbidden checks the candidate against built-in prefixes, built-in
// sensitive components, and the configured extra prefixes.
func forbidden(candidate string, extra []string) bool {
	cleaned := path.Clean(candidate)

	for _, prefix := range defaultForbiddenPrefixes {
		if cleaned == prefix || strings.HasPrefix(cleaned, prefix+"/") {
			return true
		}
	}
	for _, prefix := range extra {
		prefix = strings.TrimRight(prefix, "/")
		if prefix == "" {
			continue
		}
		if cleaned == prefix || strings.HasPrefix(cleaned, prefix+"/") {
			return true
		}
	}
	for _, seg := range strings.Split(cleaned, "/") {
		for _, comp := range defaultForbiddenComponents {
			if seg == comp || (comp == ".env" && strings.HasPrefix(seg, ".env")) {
				return true
			}
		}
	}
	return false
}
