package cli

import (
	"strings"
)

// builtinTools are the agent tool names accepted bare in --allow patterns.
var builtinTools = map[string]bool{
	"Bash":  true,
	"Edit":  true,
	"Write": true,
	"Read":  true,
}

// taskOptions holds the flags shared by the schedule and periodic commands.
type taskOptions struct {
	MCPs       []string
	Cwd        string
	PromptFile string
	Model      string   // per-task agent model override
	AllowAll   bool     // --allow given without patterns: all loaded integrations
	Allow      []string // --allow given with explicit patterns
}

// parseTaskArgs splits option flags out of the token stream, returning the
// options and the remaining prompt tokens.
//
// --allow is positional-greedy: the next token is treated as a pattern list
// only if every comma-separated entry either contains a colon or is a
// builtin tool name; otherwise --allow means "all loaded integrations" and
// the token belongs to the prompt.
func parseTaskArgs(tokens []string) (taskOptions, []string) {
	var opts taskOptions
	var remaining []string

	for i := 0; i < len(tokens); {
		switch tok := tokens[i]; tok {
		case "--mcps":
			if i+1 < len(tokens) {
				for _, name := range strings.Split(tokens[i+1], ",") {
					if name = strings.TrimSpace(name); name != "" {
						opts.MCPs = append(opts.MCPs, name)
					}
				}
				i += 2
				continue
			}
			i++
		case "--cwd":
			if i+1 < len(tokens) {
				opts.Cwd = tokens[i+1]
				i += 2
				continue
			}
			i++
		case "--prompt-file":
			if i+1 < len(tokens) {
				opts.PromptFile = tokens[i+1]
				i += 2
				continue
			}
			i++
		case "--model":
			if i+1 < len(tokens) {
				opts.Model = tokens[i+1]
				i += 2
				continue
			}
			i++
		case "--allow":
			if i+1 < len(tokens) && looksLikePatternList(tokens[i+1]) {
				for _, p := range strings.Split(tokens[i+1], ",") {
					if p = strings.TrimSpace(p); p != "" {
						opts.Allow = append(opts.Allow, p)
					}
				}
				i += 2
				continue
			}
			opts.AllowAll = true
			i++
		default:
			remaining = append(remaining, tok)
			i++
		}
	}
	return opts, remaining
}

func looksLikePatternList(tok string) bool {
	if strings.HasPrefix(tok, "--") {
		return false
	}
	parts := strings.Split(tok, ",")
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			return false
		}
		if !strings.Contains(p, ":") && !builtinTools[p] {
			return false
		}
	}
	return len(parts) > 0
}

// resolveAllowPatterns turns the --allow form into raw allow-patterns.
// --allow with no argument grants every loaded integration.
func resolveAllowPatterns(opts taskOptions) []string {
	if opts.AllowAll {
		return []string{"*"}
	}
	return opts.Allow
}
