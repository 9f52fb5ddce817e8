package command

import "strings"

// Tier is the static risk classification of a command segment.
type Tier int

const (
	// TierLow covers read-only and otherwise benign commands. Unknown
	// executables default here; the path and rate policies still apply.
	TierLow Tier = iota
	// TierMedium covers commands that change state in recoverable ways
	// (installs, pushes, file moves) and require approval under
	// supervised autonomy.
	TierMedium
	// TierHigh covers destructive or privilege-changing commands.
	TierHigh
)

// String returns the tier name used in verdict reasons and audit events.
func (t Tier) String() string {
	switch t {
	case TierHigh:
		return "high"
	case TierMedium:
		return "medium"
	default:
		return "low"
	}
}

// highRiskCommands maps executables that can destroy data, change
// privileges, or open network backdoors. Loaded once, never mutated.
var highRiskCommands = map[string]bool{
	"rm": true, "rmdir": true, "dd": true, "mkfs": true, "shred": true,
	"fdisk": true, "parted": true, "chmod": true, "chown": true,
	"sudo": true, "su": true, "passwd": true, "useradd": true,
	"userdel": true, "groupdel": true, "shutdown": true, "reboot": true,
	"poweroff": true, "halt": true, "kill": true, "killall": true,
	"pkill": true, "iptables": true, "ufw": true, "mount": true,
	"umount": true, "nc": true, "ncat": true, "netcat": true,
	"socat": true, "eval": true, "exec": true,
}

// mediumRiskCommands maps executables that mutate state but are routinely
// needed by a working agent.
var mediumRiskCommands = map[string]bool{
	"mv": true, "cp": true, "mkdir": true, "touch": true, "ln": true,
	"tar": true, "zip": true, "unzip": true, "curl": true, "wget": true,
	"ssh": true, "scp": true, "rsync": true, "sftp": true, "ftp": true,
	"docker": true, "make": true, "sed": true, "tee": true, "truncate": true,
	"git": true, "crontab": true,
}

// lowRiskOverrides pins specific executables to Low even though a related
// family member is riskier (e.g. "git" is Medium but nothing here today
// needs the override; the table stays so configuration-free additions have
// a home).
var lowRiskOverrides = map[string]bool{
	"echo": true, "ls": true, "cat": true, "pwd": true, "whoami": true,
	"date": true, "head": true, "tail": true, "grep": true, "wc": true,
	"which": true, "file": true, "stat": true, "du": true, "df": true,
	"uname": true, "hostname": true, "id": true, "printenv": true,
	"true": true, "false": true, "sort": true, "uniq": true,
}

// compoundTiers classifies two-token commands before the single-token
// fallback, so "npm test" is not dragged up to the tier of "npm install"
// and "git push" is riskier than "git status".
var compoundTiers = map[string]Tier{
	"npm install":     TierMedium,
	"npm i":           TierMedium,
	"npm ci":          TierMedium,
	"npm add":         TierMedium,
	"yarn add":        TierMedium,
	"yarn install":    TierMedium,
	"pnpm add":        TierMedium,
	"pnpm install":    TierMedium,
	"pip install":     TierMedium,
	"pip3 install":    TierMedium,
	"pipx install":    TierMedium,
	"go get":          TierMedium,
	"go install":      TierMedium,
	"cargo install":   TierMedium,
	"gem install":     TierMedium,
	"brew install":    TierMedium,
	"apt install":     TierHigh,
	"apt-get install": TierHigh,
	"apk add":         TierHigh,
	"yum install":     TierHigh,
	"dnf install":     TierHigh,
	"git push":        TierMedium,
	"git clone":       TierMedium,
	"git reset":       TierMedium,
	"git clean":       TierMedium,
	"git status":      TierLow,
	"git log":         TierLow,
	"git diff":        TierLow,
	"git show":        TierLow,
	"git branch":      TierLow,
	"npm test":        TierLow,
	"npm run":         TierLow,
	"go test":         TierLow,
	"go build":        TierLow,
	"go vet":          TierLow,
	"docker ps":       TierLow,
	"docker images":   TierLow,
	"docker logs":     TierLow,
}

// Classify assigns a risk tier to a segment. Two-token compound commands
// are matched first, then the bare executable; anything absent from the
// High and Medium tables defaults to Low.
func Classify(seg Segment) Tier {
	if len(seg.Args) > 0 {
		compound := seg.Executable + " " + strings.ToLower(seg.Args[0])
		if tier, ok := compoundTiers[compound]; ok {
			return tier
		}
	}

	switch {
	case highRiskCommands[seg.Executable]:
		return TierHigh
	case lowRiskOverrides[seg.Executable]:
		return TierLow
	case mediumRiskCommands[seg.Executable]:
		return TierMedium
	default:
		return TierLow
	}
}
