package transfer

import (
	"fmt"
	"regexp"

	"github.com/vvka-141/atomdeploy/pkg/atomdeploy"
)

// Filter decides which entries below the transfer root take part in a transfer.
//
// Each pattern is a regular expression matched against the entry path relative
// to the transfer root, written as "/rel/path" with a trailing "/" for
// directories. In normal mode only matching entries are included; in inverse
// mode matching entries are excluded. With no patterns, inverse mode includes
// everything and normal mode includes nothing.
type Filter struct {
	patterns []*regexp.Regexp
	inverse  bool
}

// NewFilter compiles patterns. An invalid pattern is a ConfigurationError.
func NewFilter(patterns []string, inverse bool) (*Filter, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for i, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, atomdeploy.NewConfigurationError(fmt.Sprintf("filter_patterns[%d]", i), "%v", err)
		}
		compiled = append(compiled, re)
	}
	return &Filter{patterns: compiled, inverse: inverse}, nil
}

// Includes reports whether the entry at rel (relative to the transfer root) passes.
func (f *Filter) Includes(rel string, isDir bool) bool {
	if len(f.patterns) == 0 {
		return f.inverse
	}
	return f.Matches(rel, isDir) != f.inverse
}

// Matches reports whether any pattern matches the entry's subject string.
func (f *Filter) Matches(rel string, isDir bool) bool {
	subject := Subject(rel, isDir)
	for _, re := range f.patterns {
		if re.MatchString(subject) {
			return true
		}
	}
	return false
}

// Subject renders rel the way patterns see it: "/a/b" for files, "/a/b/" for directories.
func Subject(rel string, isDir bool) string {
	subject := "/" + rel
	if isDir {
		subject += "/"
	}
	return subject
}
