package detect

import (
	"regexp"
	"strings"

	"github.com/tandemloop/tandem/internal/util"
)

// PromptKind discriminates the permission prompts the recognizer can
// identify.
type PromptKind int

const (
	// PromptBash is the primary product's shell-command confirmation.
	PromptBash PromptKind = iota
	// PromptEdit is a file create/edit confirmation from either product.
	PromptEdit
	// PromptCodexBash is the alternate product's shell-command
	// confirmation. It is kept distinct because its "don't ask again"
	// keybinding differs from the primary product's menu layout.
	PromptCodexBash
)

// String returns a human-readable name for the prompt kind.
func (k PromptKind) String() string {
	switch k {
	case PromptBash:
		return "bash"
	case PromptEdit:
		return "edit"
	case PromptCodexBash:
		return "codex-bash"
	default:
		return "unknown"
	}
}

// Prompt is a recognized pending permission prompt.
type Prompt struct {
	Kind PromptKind
	// Command is the reconstructed command line for bash prompts.
	Command string
	// File is the target filename for edit prompts, when visible.
	File string
	// Options is the count of numbered menu options rendered with the
	// prompt. The approval policy uses it to decide whether a broader
	// "don't ask again" grant is actually on offer.
	Options int
}

// recentPromptLines bounds how much of the capture the recognizer
// examines. Prompts render at the bottom of the pane; older content is
// scrollback.
const recentPromptLines = 25

var (
	// Primary product: file-create/edit confirmations. The filename is
	// embedded in the question itself.
	editPromptRe = regexp.MustCompile(`(?i)do you want to (?:create|make this edit to|write to|overwrite) ([^\s?]+)\s*\??`)

	// Primary product: bash confirmation question. The command is
	// rendered separately, in one of the layouts below.
	bashQuestionRe = regexp.MustCompile(`(?i)do you want to (?:proceed|run this command)\??`)

	// Layout 1: a labeled command block. The command occupies the
	// indented lines after the header.
	bashBlockHeaderRe = regexp.MustCompile(`(?i)^\s*[●•]?\s*bash command\s*$`)

	// Layout 2: a single-line parenthesized form.
	bashParenRe = regexp.MustCompile(`(?i)[●•]?\s*Bash\((.+)\)\s*$`)

	// Alternate product: edit confirmation phrasing.
	codexEditRe = regexp.MustCompile(`(?i)(?:apply changes to|allow .* to (?:edit|apply changes))`)

	// Alternate product: bash confirmation phrasing.
	codexBashRe = regexp.MustCompile(`(?i)(?:would you like to run the following command|allow command)\??`)

	// Numbered menu options, optionally carrying the selection caret.
	menuOptionRe = regexp.MustCompile(`^\s*(?:[❯>]\s*)?\d+\.\s+\S`)

	// codexCommandRe pulls the command out of the alternate product's
	// shell-fenced rendering.
	codexCommandRe = regexp.MustCompile(`(?m)^\s*\$\s+(.+)$`)
)

// Recognize parses captured pane text into a pending permission prompt.
// It returns false when no known cue is present; trailing explanatory
// text after the question is tolerated.
func Recognize(text string) (Prompt, bool) {
	if strings.TrimSpace(text) == "" {
		return Prompt{}, false
	}

	lines := lastLines(util.StripANSI(text), recentPromptLines)
	recent := strings.Join(lines, "\n")
	options := countMenuOptions(lines)

	// Edit confirmations take priority: their question text also
	// contains verbs a loose bash matcher could trip on.
	if m := editPromptRe.FindStringSubmatch(recent); m != nil {
		return Prompt{Kind: PromptEdit, File: strings.TrimSuffix(m[1], "?"), Options: options}, true
	}

	if bashQuestionRe.MatchString(recent) {
		if cmd, ok := extractBashCommand(lines); ok {
			return Prompt{Kind: PromptBash, Command: cmd, Options: options}, true
		}
		// A proceed question with no reconstructable command is left
		// alone: approving an unknown command is worse than waiting.
		return Prompt{}, false
	}

	if codexEditRe.MatchString(recent) && options > 0 {
		return Prompt{Kind: PromptEdit, Options: options}, true
	}

	if codexBashRe.MatchString(recent) {
		cmd := ""
		if m := codexCommandRe.FindStringSubmatch(recent); m != nil {
			cmd = strings.TrimSpace(m[1])
		}
		return Prompt{Kind: PromptCodexBash, Command: cmd, Options: options}, true
	}

	return Prompt{}, false
}

// extractBashCommand reconstructs the pending command from the
// recognized layouts, trying the labeled block first, then the
// single-line parenthesized form, then a multi-line fallback that
// joins the indented lines between the header and the question.
func extractBashCommand(lines []string) (string, bool) {
	for i, line := range lines {
		if m := bashParenRe.FindStringSubmatch(line); m != nil {
			return strings.TrimSpace(m[1]), true
		}
		if !bashBlockHeaderRe.MatchString(line) {
			continue
		}

		// Collect command lines until the confirmation question or a
		// menu option. The first line is the command; continuation
		// lines are joined, and a trailing description line (no shell
		// syntax, follows a blank separator) is dropped by stopping at
		// the first empty line after content.
		var parts []string
		for _, cand := range lines[i+1:] {
			trimmed := strings.TrimSpace(cand)
			if trimmed == "" {
				if len(parts) > 0 {
					break
				}
				continue
			}
			if bashQuestionRe.MatchString(trimmed) || menuOptionRe.MatchString(cand) {
				break
			}
			parts = append(parts, trimmed)
		}
		if len(parts) > 0 {
			return strings.Join(parts, " "), true
		}
	}
	return "", false
}

// lastLines returns the last n lines of text with trailing whitespace
// trimmed. Blank lines are preserved: the block layouts separate the
// command from its explanation with one.
func lastLines(text string, n int) []string {
	lines := strings.Split(text, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	out := make([]string, len(lines))
	for i, line := range lines {
		out[i] = strings.TrimRight(line, " \t\r")
	}
	return out
}

// countMenuOptions counts the numbered option lines rendered with a
// prompt. Only a contiguous block at the bottom of the capture is
// counted, so stale menus in scrollback do not inflate the result.
func countMenuOptions(lines []string) int {
	count := 0
	for i := len(lines) - 1; i >= 0; i-- {
		if menuOptionRe.MatchString(lines[i]) {
			count++
			continue
		}
		if count > 0 {
			break
		}
	}
	return count
}
