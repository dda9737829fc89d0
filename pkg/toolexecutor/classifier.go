package toolexecutor

import (
	"regexp"
	"strings"
)

type denyRule struct {
	pattern *regexp.Regexp
	reason  string
}

var defaultDenyRules = []denyRule{
	{regexp.MustCompile(`\brm\s+(-[^\s]*[rR][^\s]*|--recursive)\b`), "recursive delete"},
	{regexp.MustCompile(`\b(curl|wget)\b[^|]*\|\s*(sudo\s+)?(ba|z|k|da)?sh\b`), "pipes a remote script into a shell"},
	{regexp.MustCompile(`(^|[\s;&|(])(sudo|doas|su)(\s|$)`), "privilege escalation"},
	{regexp.MustCompile(`\bnpm\s+(i|install|add)\b.*(\s-g\b|--global\b)`), "global package install"},
	{regexp.MustCompile(`\b(yarn|pnpm)\s+(global\s+add|add\s+(-g|--global))\b`), "global package install"},
	{regexp.MustCompile(`\bpip3?\s+install\b.*(--user|--break-system-packages)\b`), "global package install"},
	{regexp.MustCompile(`\b(gem|cargo|brew)\s+install\b`), "global package install"},
	{regexp.MustCompile(`\bdd\s+if=`), "raw disk write"},
	{regexp.MustCompile(`\b(mkfs|mkfs\.\w+|wipefs|fdisk)\b`), "filesystem formatting"},
	{regexp.MustCompile(`>\s*/dev/(sd|nvme|vd|hd|mmcblk)`), "raw disk write"},
	{regexp.MustCompile(`:\(\)\s*\{\s*:\|:\s*&\s*\}\s*;`), "fork bomb"},
	{regexp.MustCompile(`\b(shutdown|reboot|poweroff|halt)\b`), "system power control"},
	{regexp.MustCompile(`\bchmod\s+-R\b|\bchown\s+-R\b`), "recursive permission change"},
	{regexp.MustCompile(`\bfind\b.*\s-(delete|exec|execdir|ok|okdir|fprint|fprint0|fprintf|fls)\b`), "find with side effects"},
	{regexp.MustCompile(`\bgit\s+(push\s+.*--force|push\s+-f\b|reset\s+--hard|clean\s+-[a-z]*f)`), "destructive git operation"},
}

// defaultSafePrefixes run nothing from the workspace and write nothing.
// Build and test runners are absent on purpose: they execute project code.
var defaultSafePrefixes = []string{
	"ls", "pwd", "cat", "head", "tail", "wc", "grep", "find",
	"file", "stat", "du", "df", "echo", "which", "whoami", "uname", "date",
	"printenv", "basename", "dirname", "realpath", "diff",
	"git status", "git diff", "git log", "git show", "git blame",
	"git rev-parse", "git ls-files", "git remote -v",
	"go version", "go env", "go list", "go doc",
	"npm ls",
	"python --version", "python3 --version", "node --version",
}

// argumentRule vets the arguments of a command that is read-only only in
// some of its forms.
type argumentRule func(args []string) bool

var defaultArgumentRules = map[string]argumentRule{
	"sort":       withoutFlags("-o", "--output"),
	"tree":       withoutFlags("-o"),
	"rg":         withoutFlags("--pre", "--pre-glob", "-z", "--search-zip"),
	"uniq":       atMostOperands(1),
	"git branch": onlyFlags("-a", "--all", "-r", "--remotes", "-l", "--list", "-v", "-vv", "--verbose", "--show-current"),
}

var (
	segmentSeparator = regexp.MustCompile(`&&|\|\||[;|&\n]`)
	harmlessRedirect = regexp.MustCompile(`\d*>&\d|&>\s*/dev/null|\d*>\s*/dev/null`)
)

// CommandClassifier decides whether a shell command may run without asking.
// Every segment of a chained line must be known-safe or allowlisted.
type CommandClassifier struct {
	safePrefixes  []string
	argumentRules map[string]argumentRule
	denyRules     []denyRule
	allowlist     *AllowlistManager
}

// ClassifierOption configures a CommandClassifier.
type ClassifierOption func(*CommandClassifier)

// WithAllowlist consults the persisted allowlist for otherwise unknown commands.
func WithAllowlist(am *AllowlistManager) ClassifierOption {
	return func(c *CommandClassifier) { c.allowlist = am }
}

// WithSafePrefixes adds command prefixes that never need confirmation.
func WithSafePrefixes(prefixes ...string) ClassifierOption {
	return func(c *CommandClassifier) { c.safePrefixes = append(c.safePrefixes, prefixes...) }
}

// NewCommandClassifier creates a classifier with the built-in rules.
func NewCommandClassifier(opts ...ClassifierOption) *CommandClassifier {
	c := &CommandClassifier{
		safePrefixes:  append([]string(nil), defaultSafePrefixes...),
		argumentRules: defaultArgumentRules,
		denyRules:     defaultDenyRules,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify returns the verdict for a command line. Deny rules win over the
// allowlist; a line chaining several commands is safe only if every part is.
func (c *CommandClassifier) Classify(command string) Classification {
	line := strings.TrimSpace(command)
	verdict := Classification{Command: line}

	if line == "" {
		verdict.Reason = "empty command"
		return verdict
	}
	for _, rule := range c.denyRules {
		if rule.pattern.MatchString(line) {
			verdict.Reason = rule.reason
			return verdict
		}
	}
	if strings.Contains(line, "$(") || strings.Contains(line, "`") {
		verdict.Reason = "command substitution"
		return verdict
	}
	if strings.Contains(line, "<(") || strings.Contains(line, ">(") {
		verdict.Reason = "process substitution"
		return verdict
	}
	stripped := harmlessRedirect.ReplaceAllString(line, "")
	if strings.Contains(stripped, ">") {
		verdict.Reason = "writes output to a file"
		return verdict
	}

	allowlisted := false
	for _, segment := range segmentSeparator.Split(stripped, -1) {
		segment = strings.Join(strings.Fields(segment), " ")
		if segment == "" {
			continue
		}
		if c.knownSafe(segment) {
			continue
		}
		if c.allowlist != nil && c.allowlist.IsAllowed(segment) {
			allowlisted = true
			continue
		}
		verdict.Reason = "unrecognized command: " + firstWord(segment)
		return verdict
	}

	verdict.Safe = true
	verdict.Reason = "read-only command"
	if allowlisted {
		verdict.Reason = "allowlisted"
	}
	return verdict
}

// ClassifyParam returns a Classify hook for tools whose command lives in param.
func (c *CommandClassifier) ClassifyParam(param string) func(map[string]interface{}) Classification {
	return func(params map[string]interface{}) Classification {
		command, _ := params[param].(string)
		return c.Classify(command)
	}
}

func (c *CommandClassifier) knownSafe(segment string) bool {
	for prefix, rule := range c.argumentRules {
		if segment == prefix || strings.HasPrefix(segment, prefix+" ") {
			return rule(strings.Fields(strings.TrimPrefix(segment, prefix)))
		}
	}
	for _, prefix := range c.safePrefixes {
		if segment == prefix || strings.HasPrefix(segment, prefix+" ") {
			return true
		}
	}
	return false
}

// withoutFlags rejects any of flags, including --flag=value and short
// flags bundled with others ("-ro").
func withoutFlags(flags ...string) argumentRule {
	return func(args []string) bool {
		for _, arg := range args {
			for _, flag := range flags {
				if arg == flag || strings.HasPrefix(arg, flag+"=") {
					return false
				}
				if len(flag) == 2 && isShortBundle(arg) && strings.ContainsRune(arg[1:], rune(flag[1])) {
					return false
				}
			}
		}
		return true
	}
}

func isShortBundle(arg string) bool {
	return len(arg) > 1 && arg[0] == '-' && arg[1] != '-'
}

// atMostOperands allows any flags but at most n non-flag arguments.
func atMostOperands(n int) argumentRule {
	return func(args []string) bool {
		operands := 0
		for _, arg := range args {
			if !strings.HasPrefix(arg, "-") {
				operands++
			}
		}
		return operands <= n
	}
}

// onlyFlags allows nothing but the listed flags.
func onlyFlags(flags ...string) argumentRule {
	return func(args []string) bool {
		for _, arg := range args {
			known := false
			for _, flag := range flags {
				if arg == flag {
					known = true
					break
				}
			}
			if !known {
				return false
			}
		}
		return true
	}
}

func firstWord(s string) string {
	if fields := strings.Fields(s); len(fields) > 0 {
		return fields[0]
	}
	return s
}
