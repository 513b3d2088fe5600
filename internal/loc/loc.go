// Package loc counts the lines of a submission that carry code.
package loc

import "strings"

// Count returns the number of non-blank, non-comment lines in src for the
// given language identifier. Unknown languages only skip blank lines.
// Comment markers inside string literals are not recognised.
func Count(src []byte, language string) int {
	var skip func(line string) bool
	switch language {
	case "c", "cpp":
		skip = cStyle()
	case "python":
		skip = pythonStyle()
	default:
		skip = func(string) bool { return false }
	}

	n := 0
	for _, raw := range strings.Split(string(src), "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || skip(line) {
			continue
		}
		n++
	}
	return n
}

func cStyle() func(string) bool {
	inBlock := false
	return func(line string) bool {
		if inBlock {
			if strings.Contains(line, "*/") {
				inBlock = false
			}
			return true
		}
		if strings.HasPrefix(line, "/*") {
			inBlock = !strings.Contains(line, "*/")
			return true
		}
		return strings.HasPrefix(line, "//")
	}
}

func pythonStyle() func(string) bool {
	inDoc := false
	return func(line string) bool {
		if strings.HasPrefix(line, "#") {
			return true
		}
		if isDocDelim(line, strings.HasPrefix) {
			if len(line) <= 3 || !isDocDelim(line, strings.HasSuffix) {
				inDoc = !inDoc
			}
			return true
		}
		return inDoc
	}
}

func isDocDelim(line string, at func(s, affix string) bool) bool {
	return at(line, `"""`) || at(line, `'''`)
}
