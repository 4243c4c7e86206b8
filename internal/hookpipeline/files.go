package hookpipeline

import (
	"strings"
)

// maxFilesAffected caps how many paths a single tool call can attribute to
// itself, direct fields and shell-heuristic extraction combined.
const maxFilesAffected = 10

// shellTools are given the command-string heuristic when they carry no
// direct file field of their own.
var shellTools = map[string]bool{
	"Bash": true,
}

// knownCommandNames are rejected as path-like tokens: the first word of a
// shell command is almost always the command itself, not a file.
var knownCommandNames = map[string]bool{
	"git": true, "npm": true, "npx": true, "yarn": true, "pnpm": true,
	"ls": true, "cat": true, "echo": true, "grep": true, "sed": true, "awk": true,
	"curl": true, "wget": true, "docker": true, "python": true, "python3": true,
	"node": true, "go": true, "make": true, "rm": true, "mv": true, "cp": true,
	"chmod": true, "chown": true, "kill": true, "sudo": true, "bash": true,
	"sh": true, "tee": true, "xargs": true, "find": true, "sort": true,
	"uniq": true, "head": true, "tail": true, "wc": true, "diff": true,
	"tar": true, "zip": true, "unzip": true, "ssh": true, "scp": true,
	"mkdir": true, "touch": true, "pip": true, "cargo": true, "rustc": true,
	"cd": true, "export": true, "source": true, "test": true, "true": true, "false": true,
}

// mimeTypePrefixes are the leading segments of a "type/subtype" MIME
// string, which otherwise looks exactly like a two-segment relative path.
var mimeTypePrefixes = map[string]bool{
	"application": true, "text": true, "image": true, "video": true,
	"audio": true, "multipart": true, "font": true,
}

// filesAffected derives the paths a tool call touched: the tool's own
// direct file fields, or, for shell-like tools with none, a conservative
// extraction from the command string.
func filesAffected(toolName string, toolInput map[string]any) []string {
	direct := directFields(toolInput)
	if len(direct) > 0 {
		return cap10(direct)
	}
	if !shellTools[toolName] {
		return nil
	}
	command, _ := toolInput["command"].(string)
	if command == "" {
		return nil
	}
	return cap10(fromCommand(command))
}

func directFields(toolInput map[string]any) []string {
	var out []string
	for _, key := range []string{"file_path", "path", "filename"} {
		if v, ok := toolInput[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

// fromCommand extracts path-like tokens from a shell command string using
// a conservative heuristic: it would rather miss a real path than
// misattribute a flag, URL, or command name as a file.
func fromCommand(command string) []string {
	tokens := strings.Fields(command)
	var out []string
	for i, tok := range tokens {
		tok = strings.Trim(tok, `"'`)
		if tok == "" {
			continue
		}
		if i == 0 || knownCommandNames[tok] {
			continue
		}
		if !looksLikePath(tok) {
			continue
		}
		out = append(out, tok)
	}
	return out
}

func looksLikePath(tok string) bool {
	if strings.HasPrefix(tok, "-") {
		return false
	}
	if strings.Contains(tok, "://") {
		return false
	}
	if strings.HasPrefix(tok, "/dev/") {
		return false
	}
	if strings.HasSuffix(tok, ":") {
		return false // HTTP header name, e.g. "Content-Type:"
	}
	if strings.ContainsAny(tok, "{}[]()=") {
		return false // JSON fragment or code invocation
	}
	if strings.Contains(tok, "/") {
		prefix := tok[:strings.Index(tok, "/")]
		if mimeTypePrefixes[strings.ToLower(prefix)] && !strings.Contains(tok, ".") {
			return false // "application/json"-shaped MIME type
		}
		return true
	}
	// No slash: only a dotfile or an extension-bearing token reads as a
	// path here; a bare word is far more likely a subcommand or argument.
	return strings.HasPrefix(tok, ".") && len(tok) > 1
}

func cap10(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
		if len(out) == maxFilesAffected {
			break
		}
	}
	return out
}
