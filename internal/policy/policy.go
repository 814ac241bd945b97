// Package policy decides whether recognized permission prompts are
// approved, denied, or left for the human. Denial is the default: a
// command or edit is only ever approved through an explicit allow path,
// never by omission.
package policy

import (
	"path"
	"regexp"
	"strings"

	"github.com/gobwas/glob"

	"github.com/tandemloop/tandem/internal/detect"
)

// Mode selects how aggressive the policy is.
type Mode int

const (
	// ModeAuto approves the standard allow-list and remembered scripts.
	ModeAuto Mode = iota
	// ModeSecure hardens every check: larger deny-list, smaller
	// allow-list, shell-metacharacter rejection, and sensitive-path
	// protection for edits.
	ModeSecure
)

// Decision is the policy's verdict on a prompt.
type Decision int

const (
	// Deny leaves the prompt unanswered or rejects it.
	Deny Decision = iota
	// Approve answers the prompt positively.
	Approve
)

// String returns "approve" or "deny".
func (d Decision) String() string {
	if d == Approve {
		return "approve"
	}
	return "deny"
}

// metacharRe matches shell operators that chain or substitute commands.
// In secure mode their presence is an immediate denial, even for
// otherwise allow-listed prefixes.
var metacharRe = regexp.MustCompile("[|;`]|\\$\\(|&&|\\|\\|")

// cdPrefixRe strips a leading directory change so the rest of the
// pipeline judges the command that actually runs.
var cdPrefixRe = regexp.MustCompile(`^cd\s+\S+\s*&&\s*`)

// envAssignRe matches one leading VAR=value token.
var envAssignRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*=\S*\s+`)

// baseDeny lists destructive or privilege-escalating commands denied in
// every mode, regardless of any other match.
var baseDeny = []string{
	"rm", "rmdir", "sudo", "su", "shutdown", "reboot", "halt",
	"poweroff", "kill", "pkill", "killall",
}

// secureDenyExtra extends the deny-list in secure mode with move,
// permission-change, and low-level disk commands.
var secureDenyExtra = []string{
	"mv", "chmod", "chown", "chgrp", "dd", "mkfs", "fdisk", "parted",
	"shred", "wipefs",
}

// baseAllow lists non-destructive command prefixes approved in auto
// mode. A prefix matches whole tokens: "git status" matches
// "git status -sb" but not "git stash".
var baseAllow = []string{
	"ls", "cat", "head", "tail", "grep", "rg", "pwd", "echo", "which",
	"wc", "sort", "uniq", "diff", "stat", "file", "tree", "du", "df",
	"date", "whoami", "env",
	"git status", "git diff", "git log", "git show", "git branch",
	"go build", "go test", "go vet", "go fmt",
	"npm test", "npm run", "make", "pytest", "cargo check", "cargo test",
	// Broad entries absent from the secure allow-list below.
	"python", "python3", "node", "bash", "sh", "find", "chmod +x",
}

// secureAllowExcluded removes the bare interpreters, arbitrary-file
// find, and permission changes from the allow-list in secure mode.
var secureAllowExcluded = map[string]bool{
	"python": true, "python3": true, "node": true, "bash": true,
	"sh": true, "find": true, "chmod +x": true,
}

// interpreters are the commands whose script argument forms a
// rememberable signature.
var interpreters = map[string]bool{
	"python": true, "python3": true, "node": true, "bash": true,
	"sh": true, "ruby": true, "perl": true,
}

// sensitivePathPatterns guard edits in secure mode. They cover
// credential stores, shell/SSH/GPG configuration, environment files,
// and system directories. Patterns are matched against both the full
// path and its basename.
var sensitivePathPatterns = func() []glob.Glob {
	patterns := []string{
		"*.pem", "*.key", "id_rsa*", "id_ed25519*",
		".env", ".env.*", ".netrc", ".npmrc", ".pypirc",
		".bashrc", ".zshrc", ".profile", ".bash_profile",
		"*/.ssh/*", "*/.gnupg/*", "*/.aws/*", "*/.config/gh/*",
		"/etc/*", "/usr/*", "/var/*", "/boot/*",
		"*credentials*", "*secrets*",
	}
	globs := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		globs = append(globs, glob.MustCompile(p))
	}
	return globs
}()

// Policy evaluates prompts against a mode and the approved-script
// ledger.
type Policy struct {
	mode   Mode
	ledger *Ledger
}

// New creates a Policy. The ledger may be nil, in which case remembered
// signatures never match.
func New(mode Mode, ledger *Ledger) *Policy {
	return &Policy{mode: mode, ledger: ledger}
}

// Mode returns the policy's mode.
func (p *Policy) Mode() Mode { return p.mode }

// Decide evaluates a recognized prompt. For approved bash prompts whose
// command carries a script signature, the signature is remembered so
// future invocations of the same script approve regardless of
// arguments.
func (p *Policy) Decide(prompt detect.Prompt) Decision {
	switch prompt.Kind {
	case detect.PromptBash, detect.PromptCodexBash:
		return p.decideBash(prompt.Command)
	case detect.PromptEdit:
		return p.decideEdit(prompt.File)
	default:
		return Deny
	}
}

func (p *Policy) decideBash(command string) Decision {
	cmd := StripPrefixes(command)
	if cmd == "" {
		return Deny
	}

	if p.mode == ModeSecure && metacharRe.MatchString(cmd) {
		return Deny
	}

	if p.isDenied(cmd) {
		return Deny
	}

	if p.isAllowed(cmd) {
		p.rememberIfScript(cmd)
		return Approve
	}

	if sig, ok := ScriptSignature(cmd); ok && p.ledger != nil && p.ledger.Contains(sig) {
		return Approve
	}

	// Safe default.
	return Deny
}

func (p *Policy) decideEdit(file string) Decision {
	if p.mode == ModeSecure && file != "" && IsSensitivePath(file) {
		return Deny
	}
	return Approve
}

// ShouldRememberViaMenu reports whether the "apply to all / don't ask
// again" menu entry may be selected for a prompt with the given number
// of visible options. A two-option menu's second entry is a rejection,
// so only menus at or above the threshold carry a broader grant.
func ShouldRememberViaMenu(options, threshold int) bool {
	return options >= threshold
}

func (p *Policy) isDenied(cmd string) bool {
	head := firstToken(cmd)
	for _, d := range baseDeny {
		if head == d {
			return true
		}
	}
	if p.mode == ModeSecure {
		for _, d := range secureDenyExtra {
			if head == d {
				return true
			}
		}
	}
	return false
}

func (p *Policy) isAllowed(cmd string) bool {
	for _, prefix := range baseAllow {
		if p.mode == ModeSecure && secureAllowExcluded[prefix] {
			continue
		}
		if hasTokenPrefix(cmd, prefix) {
			return true
		}
	}
	return false
}

func (p *Policy) rememberIfScript(cmd string) {
	if p.ledger == nil {
		return
	}
	if sig, ok := ScriptSignature(cmd); ok {
		_ = p.ledger.Remember(sig)
	}
}

// StripPrefixes removes a leading `cd <dir> &&` and any leading
// environment-variable assignments, returning the command that will
// actually execute. The policy evaluates the stripped remainder exactly
// as it would evaluate that remainder directly.
func StripPrefixes(command string) string {
	cmd := strings.TrimSpace(command)
	cmd = cdPrefixRe.ReplaceAllString(cmd, "")
	for {
		next := envAssignRe.ReplaceAllString(cmd, "")
		if next == cmd {
			break
		}
		cmd = next
	}
	return strings.TrimSpace(cmd)
}

// ScriptSignature extracts a normalized invocation signature: either
// "interpreter script-path" for interpreter invocations, or the bare
// path for a direct relative-path execution. Arguments are excluded, so
// a remembered script approves under any argument list.
func ScriptSignature(cmd string) (string, bool) {
	fields := strings.Fields(cmd)
	if len(fields) == 0 {
		return "", false
	}

	if interpreters[fields[0]] && len(fields) >= 2 && looksLikeScript(fields[1]) {
		return fields[0] + " " + fields[1], true
	}

	if strings.HasPrefix(fields[0], "./") {
		return fields[0], true
	}

	return "", false
}

func looksLikeScript(arg string) bool {
	if strings.HasPrefix(arg, "-") {
		return false
	}
	return strings.ContainsAny(arg, "./")
}

// IsSensitivePath reports whether a file path matches the sensitive
// patterns guarding credential stores and system configuration.
func IsSensitivePath(file string) bool {
	base := path.Base(file)
	for _, g := range sensitivePathPatterns {
		if g.Match(file) || g.Match(base) {
			return true
		}
	}
	return false
}

func firstToken(cmd string) string {
	fields := strings.Fields(cmd)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// hasTokenPrefix reports whether cmd begins with prefix on whole-token
// boundaries.
func hasTokenPrefix(cmd, prefix string) bool {
	if cmd == prefix {
		return true
	}
	return strings.HasPrefix(cmd, prefix+" ")
}
