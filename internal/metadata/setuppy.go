package metadata

import (
	"io/fs"
	"regexp"
	"strings"
)

var (
	setupCall     = regexp.MustCompile(`\bsetup\s*\(`)
	keywordArg    = regexp.MustCompile(`(?s)^([A-Za-z_]\w*)\s*=([^=].*)$`)
	stringLiteral = regexp.MustCompile(`(?s)^[rRuU]?("([^"\\\n]*)"|'([^'\\\n]*)')$`)
	identifier    = regexp.MustCompile(`^[A-Za-z_]\w*$`)
	quotedString  = regexp.MustCompile(`["']([^"'\n]+)["']`)
)

// Reads setup.py, extracting the keyword arguments of the setup() call.
//
// Arguments are taken from the call itself, never from other calls in the
// file. Values may be string literals or module-level names bound to one;
// anything computed at runtime is left empty for pip to resolve. A file
// whose setup() call cannot be located yields a package without a name.
func readSetupPy(fsys fs.FS, name string) (*Package, error) {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, err
	}

	src := stripComments(string(data))
	pkg := &Package{Source: name}

	args := setupArgs(src)
	if args == nil {
		return pkg, nil
	}

	pkg.Name = resolveString(src, args["name"])
	pkg.Version = resolveString(src, args["version"])
	pkg.RequiresPython = resolveString(src, args["python_requires"])
	pkg.Requires = resolveList(src, args["install_requires"])

	return pkg, nil
}

// Returns the top-level keyword arguments of the last setup() call in src,
// keyed by name with their raw source text. Returns nil when there is none.
func setupArgs(src string) map[string]string {
	var body string
	found := false
	for _, loc := range setupCall.FindAllStringIndex(src, -1) {
		if strings.HasSuffix(strings.TrimRight(src[:loc[0]], " \t"), "def") {
			continue
		}
		end := closingParen(src, loc[1])
		if end < 0 {
			continue
		}
		body, found = src[loc[1]:end], true
	}
	if !found {
		return nil
	}

	args := map[string]string{}
	for _, arg := range splitArgs(body) {
		if m := keywordArg.FindStringSubmatch(strings.TrimSpace(arg)); m != nil {
			args[m[1]] = strings.TrimSpace(m[2])
		}
	}
	return args
}

// Returns the index of the parenthesis closing the one opened just before
// start, or -1 when the call is unbalanced.
func closingParen(src string, start int) int {
	depth := 1
	for i := start; i < len(src); i++ {
		switch c := src[i]; c {
		case '"', '\'':
			i = skipString(src, i) - 1
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// Splits an argument list at its top-level commas.
func splitArgs(body string) []string {
	var args []string
	depth, last := 0, 0
	for i := 0; i < len(body); i++ {
		switch body[i] {
		case '"', '\'':
			i = skipString(body, i) - 1
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case ',':
			if depth == 0 {
				args = append(args, body[last:i])
				last = i + 1
			}
		}
	}
	return append(args, body[last:])
}

// Returns the index just past the string literal opening at src[i].
// Triple-quoted strings and backslash escapes are honoured.
func skipString(src string, i int) int {
	q := src[i]
	triple := strings.HasPrefix(src[i:], strings.Repeat(string(q), 3))
	if triple {
		if end := strings.Index(src[i+3:], strings.Repeat(string(q), 3)); end >= 0 {
			return i + 3 + end + 3
		}
		return len(src)
	}
	for j := i + 1; j < len(src); j++ {
		switch src[j] {
		case '\\':
			j++
		case q, '\n':
			return j + 1
		}
	}
	return len(src)
}

// Removes comments, leaving '#' inside string literals alone.
func stripComments(src string) string {
	var b strings.Builder
	b.Grow(len(src))
	for i := 0; i < len(src); i++ {
		switch src[i] {
		case '"', '\'':
			end := skipString(src, i)
			b.WriteString(src[i:end])
			i = end - 1
		case '#':
			nl := strings.IndexByte(src[i:], '\n')
			if nl < 0 {
				return b.String()
			}
			i += nl - 1
		default:
			b.WriteByte(src[i])
		}
	}
	return b.String()
}

// Evaluates a string literal or a module-level name bound to one.
// Returns "" for anything else.
func resolveString(src, value string) string {
	if value == "" {
		return ""
	}
	if m := stringLiteral.FindStringSubmatch(value); m != nil {
		return m[2] + m[3]
	}
	if !identifier.MatchString(value) {
		return ""
	}
	binding := regexp.MustCompile(`(?m)^` + regexp.QuoteMeta(value) + `\s*=\s*(.+)$`)
	for _, m := range binding.FindAllStringSubmatch(src, -1) {
		if lit := stringLiteral.FindStringSubmatch(strings.TrimSpace(m[1])); lit != nil {
			return lit[2] + lit[3]
		}
	}
	return ""
}

// Evaluates a list literal of strings or a module-level name bound to one.
func resolveList(src, value string) []string {
	if identifier.MatchString(value) {
		binding := regexp.MustCompile(`(?m)^` + regexp.QuoteMeta(value) + `\s*=\s*\[`)
		loc := binding.FindStringIndex(src)
		if loc == nil {
			return nil
		}
		end := closingParen(src, loc[1])
		if end < 0 {
			return nil
		}
		value = src[loc[1]-1 : end+1]
	}
	if !strings.HasPrefix(value, "[") || !strings.HasSuffix(value, "]") {
		return nil
	}

	var reqs []string
	for _, q := range quotedString.FindAllStringSubmatch(value, -1) {
		reqs = append(reqs, q[1])
	}
	return reqs
}
