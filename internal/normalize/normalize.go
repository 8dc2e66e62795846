// Package normalize repairs the escaping quirks of assistant replies so the
// text renders as markdown with $ / $$ math delimiters.
package normalize

import (
	"regexp"
	"strings"
)

// escapable lists the characters that may legitimately follow a backslash.
// ASCII letters (LaTeX commands) are accepted separately.
const escapable = `()[]{}_\,;:!%$&#|^`

var (
	inlineMath = strings.NewReplacer(`\(`, "$", `\)`, "$")
	blockMath  = strings.NewReplacer(`\[`, "$$", `\]`, "$$")
	escapes    = strings.NewReplacer(`\{`, "{", `\}`, "}", `\_`, "_")
	parens     = strings.NewReplacer("( ", "(", " )", ")") // one space per pass

	fracPattern    = regexp.MustCompile(`\\frac\{([^}]*)\}\{([^}]*)\}`)
	boxedPattern   = regexp.MustCompile(`\\boxed\{[^}]*\}`)
	bracketPattern = regexp.MustCompile(`\[[^\]]*\]`)
)

// Normalize rewrites raw assistant text into renderable math markup.
// It never fails; delimiters it does not understand are left alone.
func Normalize(raw string) string {
	s := strings.ReplaceAll(raw, `\n`, "\n")
	s = stripStrayBackslashes(s)
	s = inlineMath.Replace(s)
	s = blockMath.Replace(s)
	s = escapes.Replace(s)
	s = fracPattern.ReplaceAllString(s, `\frac{$1}{$2}`)
	s = spaceAfterCdot(s)
	s = wrapBlock(s, boxedPattern)
	// Also catches non-math brackets such as citation markers.
	s = wrapBlock(s, bracketPattern)
	return parens.Replace(s)
}

func stripStrayBackslashes(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		if i+1 >= len(s) {
			break
		}
		next := s[i+1]
		switch {
		case next == '\\':
			b.WriteString(`\\`)
			i++
		case isASCIILetter(next) || strings.IndexByte(escapable, next) >= 0:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func spaceAfterCdot(s string) string {
	const cmd = `\cdot`
	if !strings.Contains(s, cmd) {
		return s
	}

	var b strings.Builder
	b.Grow(len(s) + 8)
	for {
		idx := strings.Index(s, cmd)
		if idx < 0 {
			b.WriteString(s)
			break
		}
		end := idx + len(cmd)
		b.WriteString(s[:end])
		s = s[end:]
		// \cdots is a different command
		if s == "" || (s[0] != ' ' && !isASCIILetter(s[0])) {
			b.WriteByte(' ')
		}
	}
	return b.String()
}

// wrapBlock surrounds every match with $$ unless it is already enclosed.
func wrapBlock(s string, re *regexp.Regexp) string {
	locs := re.FindAllStringIndex(s, -1)
	if len(locs) == 0 {
		return s
	}

	var b strings.Builder
	b.Grow(len(s) + 4*len(locs))
	last := 0
	for _, loc := range locs {
		start, end := loc[0], loc[1]
		b.WriteString(s[last:start])
		if strings.HasSuffix(s[:start], "$$") && strings.HasPrefix(s[end:], "$$") {
			b.WriteString(s[start:end])
		} else {
			b.WriteString("$$")
			b.WriteString(s[start:end])
			b.WriteString("$$")
		}
		last = end
	}
	b.WriteString(s[last:])
	return b.String()
}

func isASCIILetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
