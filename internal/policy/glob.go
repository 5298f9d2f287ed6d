package policy

// Match checks value against a shell-style glob pattern.
// Supports:
//
//	"*" matches any run of characters, including separators
//	"?" matches exactly one character
//
// All other characters are matched literally. Patterns here guard parameter
// values such as file paths and shell commands, so "*" deliberately crosses
// "/" boundaries.
func Match(pattern, value string) bool {
	return globMatch([]rune(pattern), []rune(value))
}

func globMatch(pat, val []rune) bool {
	for len(pat) > 0 {
		p := pat[0]
		pat = pat[1:]

		if p == '*' {
			// Collapse consecutive stars.
			for len(pat) > 0 && pat[0] == '*' {
				pat = pat[1:]
			}
			// "*" at the end matches everything remaining.
			if len(pat) == 0 {
				return true
			}
			// Try matching the rest of the pattern at every
			// position in the remaining value.
			for i := 0; i <= len(val); i++ {
				if globMatch(pat, val[i:]) {
					return true
				}
			}
			return false
		}

		if len(val) == 0 {
			return false
		}
		if p != '?' && p != val[0] {
			return false
		}
		val = val[1:]
	}

	return len(val) == 0
}

// MatchAny reports whether value matches any of the patterns.
func MatchAny(patterns []string, value string) bool {
	for _, p := range patterns {
		if Match(p, value) {
			return true
		}
	}
	return false
}
