package boundary

import "strings"

// MatchGlob exposes the package's segment-aware glob dialect to callers
// outside the enforcer itself, such as the hook pipeline's severity
// classification and sensitive-file review rules, which match paths
// against pattern sets that have nothing to do with a specific agent's
// configured boundary.
func MatchGlob(pattern, name string) bool {
	return matchGlob(pattern, name)
}

// matchGlob reports whether name matches pattern using a segment-aware glob
// dialect: '*' matches any run of characters excluding '/', '**' matches
// zero or more whole path segments, '?' matches one character, and
// '[...]' matches a character class. A pattern containing no '/' is
// matched against name's final segment only, so a bare "*.py" boundary
// matches files at any depth.
func matchGlob(pattern, name string) bool {
	if !strings.Contains(pattern, "/") {
		segments := strings.Split(name, "/")
		return matchSegment(pattern, segments[len(segments)-1])
	}
	return matchSegments(strings.Split(pattern, "/"), strings.Split(name, "/"))
}

// matchSegments walks pattern segments against name segments, expanding
// "**" to consume any number (including zero) of name segments via
// backtracking.
func matchSegments(pattern, name []string) bool {
	if len(pattern) == 0 {
		return len(name) == 0
	}
	head := pattern[0]
	if head == "**" {
		if matchSegments(pattern[1:], name) {
			return true
		}
		for i := 0; i < len(name); i++ {
			if matchSegments(pattern[1:], name[i+1:]) {
				return true
			}
		}
		return false
	}
	if len(name) == 0 {
		return false
	}
	if !matchSegment(head, name[0]) {
		return false
	}
	return matchSegments(pattern[1:], name[1:])
}

// matchSegment matches a single path segment against a pattern segment
// containing '*', '?', and '[...]' meta-characters. Unlike shell globbing,
// '*' here matches a leading dot: forbidden/allowed patterns are meant to
// catch dotfiles like ".env" without an explicit dotglob opt-in.
func matchSegment(pattern, segment string) bool {
	return matchHere(pattern, segment)
}

func matchHere(pattern, s string) bool {
	for len(pattern) > 0 {
		switch pattern[0] {
		case '*':
			// Try every possible split point, including consuming nothing.
			for i := 0; i <= len(s); i++ {
				if matchHere(pattern[1:], s[i:]) {
					return true
				}
			}
			return false
		case '?':
			if len(s) == 0 {
				return false
			}
			pattern = pattern[1:]
			s = s[1:]
		case '[':
			end := strings.IndexByte(pattern, ']')
			if end < 0 || len(s) == 0 {
				return false
			}
			class := pattern[1:end]
			negate := strings.HasPrefix(class, "!") || strings.HasPrefix(class, "^")
			if negate {
				class = class[1:]
			}
			if matchClass(class, s[0]) == negate {
				return false
			}
			pattern = pattern[end+1:]
			s = s[1:]
		default:
			if len(s) == 0 || pattern[0] != s[0] {
				return false
			}
			pattern = pattern[1:]
			s = s[1:]
		}
	}
	return len(s) == 0
}

func matchClass(class string, c byte) bool {
	for i := 0; i < len(class); i++ {
		if i+2 < len(class) && class[i+1] == '-' {
			if class[i] <= c && c <= class[i+2] {
				return true
			}
			i += 2
			continue
		}
		if class[i] == c {
			return true
		}
	}
	return false
}
