package model

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var placeholder = regexp.MustCompile(`\{(\w+)\}`)

// NamingPattern extracts {artwork_id} and {title} back out of a directory name
// produced by a DirNameFormat template.
type NamingPattern struct {
	format   string
	re       *regexp.Regexp
	idIdx    int
	titleIdx int
}

// NewNamingPattern compiles format. The format must contain {artwork_id}.
func NewNamingPattern(format string) (*NamingPattern, error) {
	if !strings.Contains(format, "{artwork_id}") {
		return nil, fmt.Errorf("naming pattern %q has no {artwork_id} placeholder", format)
	}

	p := &NamingPattern{format: format, idIdx: -1, titleIdx: -1}

	var expr strings.Builder
	expr.WriteString("^")
	last, group := 0, 0
	for _, loc := range placeholder.FindAllStringSubmatchIndex(format, -1) {
		expr.WriteString(regexp.QuoteMeta(format[last:loc[0]]))
		group++
		switch format[loc[2]:loc[3]] {
		case "artwork_id":
			if p.idIdx < 0 {
				p.idIdx = group
			}
			expr.WriteString(`(\d+)`)
		case "title":
			if p.titleIdx < 0 {
				p.titleIdx = group
			}
			expr.WriteString(`(.*)`)
		default:
			expr.WriteString(`(.*?)`)
		}
		last = loc[1]
	}
	expr.WriteString(regexp.QuoteMeta(format[last:]))
	expr.WriteString("$")

	re, err := regexp.Compile(expr.String())
	if err != nil {
		return nil, fmt.Errorf("compile naming pattern %q: %w", format, err)
	}
	p.re = re
	return p, nil
}

// Format returns the template the pattern was built from.
func (p *NamingPattern) Format() string {
	return p.format
}

// Parse extracts the artwork id and title from dirName.
func (p *NamingPattern) Parse(dirName string) (id int64, title string, ok bool) {
	m := p.re.FindStringSubmatch(dirName)
	if m == nil {
		return 0, "", false
	}

	id, err := strconv.ParseInt(m[p.idIdx], 10, 64)
	if err != nil {
		return 0, "", false
	}
	if p.titleIdx > 0 {
		title = m[p.titleIdx]
	}
	return id, title, true
}

// Resolver parses directory names with a configured pattern and falls back to
// the default {artwork_id}_{title} layout.
type Resolver struct {
	patterns []*NamingPattern
}

// NewResolver builds a Resolver for format. An invalid or empty format leaves
// only the default pattern in place.
func NewResolver(format string) *Resolver {
	r := &Resolver{}
	if format != "" && format != DefaultDirNameFormat {
		if p, err := NewNamingPattern(format); err == nil {
			r.patterns = append(r.patterns, p)
		}
	}
	def, _ := NewNamingPattern(DefaultDirNameFormat)
	r.patterns = append(r.patterns, def)
	return r
}

// Parse returns the artwork id and title encoded in dirName.
func (r *Resolver) Parse(dirName string) (id int64, title string, ok bool) {
	for _, p := range r.patterns {
		if id, title, ok = p.Parse(dirName); ok {
			return id, title, true
		}
	}
	return 0, "", false
}
