package storage

import (
	"strings"

	"github.com/gobwas/glob"
)

// Glob matches object names. '*' matches any run of characters including
// '/', '?' matches one character, [...] and [!...] are character classes,
// {a,b} is an alternation and '\' escapes the next character. An empty
// glob, or one ending in '/', matches everything below it.
type Glob struct {
	pattern string
	prefix  string
	g       glob.Glob
}

// CompileGlob compiles a glob pattern. Object names have no separators, so
// wildcards cross '/'.
func CompileGlob(pattern string) (*Glob, error) {
	expr := pattern
	if expr == "" || strings.HasSuffix(expr, "/") {
		expr += "*"
	}
	g, err := glob.Compile(expr)
	if err != nil {
		return nil, err
	}
	return &Glob{pattern: pattern, prefix: literalPrefix(pattern), g: g}, nil
}

// literalPrefix returns the unescaped text before the first unescaped
// metacharacter.
func literalPrefix(pattern string) string {
	var b strings.Builder
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		switch c {
		case '*', '?', '[', '{':
			return b.String()
		case '\\':
			if i+1 < len(pattern) {
				i++
				c = pattern[i]
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

// Prefix is the literal text before the first wildcard, used to narrow the
// backend listing.
func (g *Glob) Prefix() string {
	return g.prefix
}

// Match reports whether name matches the glob.
func (g *Glob) Match(name string) bool {
	return g.g.Match(name)
}

func (g *Glob) String() string {
	return g.pattern
}
