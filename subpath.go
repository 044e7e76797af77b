package fastls

import (
	"strconv"
	"strings"
)

// MaxArrayIndex is the largest index a sub-path may name. Writes pad arrays up
// to the index, so it also bounds the array a single write can create.
const MaxArrayIndex = 1<<20 - 1

// Step is one hop inside a value tree: a property name or an array index.
type Step struct {
	Name    string
	Index   int
	IsIndex bool

	// Bare marks an index that is not preceded by a property name, e.g. the
	// first step of "[2].name". It can only descend into an existing array.
	Bare bool
}

func (s Step) String() string {
	if s.IsIndex {
		return "[" + strconv.Itoa(s.Index) + "]"
	}
	return s.Name
}

// ParseSubPath parses dot/bracket syntax such as "items[2].name".
func ParseSubPath(sub string) ([]Step, error) {
	if sub == "" {
		return nil, nil
	}
	var steps []Step
	for _, seg := range strings.Split(sub, ".") {
		if seg == "" {
			return nil, pathErrf(sub, "empty sub-path segment")
		}
		name, rest, _ := strings.Cut(seg, "[")
		if strings.ContainsRune(name, ']') {
			return nil, pathErrf(sub, "unbalanced ']' in %q", seg)
		}
		if name != "" {
			steps = append(steps, Step{Name: name})
		}
		if len(rest) == 0 && len(seg) == len(name) {
			continue
		}
		rest = seg[len(name):]
		bare := name == ""
		for rest != "" {
			if rest[0] != '[' {
				return nil, pathErrf(sub, "unexpected %q after index in %q", rest, seg)
			}
			end := strings.IndexByte(rest, ']')
			if end < 0 {
				return nil, pathErrf(sub, "unterminated '[' in %q", seg)
			}
			idx, err := strconv.Atoi(rest[1:end])
			if err != nil || idx < 0 || rest[1] == '+' {
				return nil, pathErrf(sub, "invalid array index %q", rest[1:end])
			}
			if idx > MaxArrayIndex {
				return nil, pathErrf(sub, "array index %d exceeds %d", idx, MaxArrayIndex)
			}
			steps = append(steps, Step{Index: idx, IsIndex: true, Bare: bare})
			bare = false
			rest = rest[end+1:]
		}
	}
	return steps, nil
}

// FormatSubPath is the inverse of ParseSubPath.
func FormatSubPath(steps []Step) string {
	var buf strings.Builder
	for i, s := range steps {
		if !s.IsIndex && i > 0 {
			buf.WriteByte('.')
		} else if s.IsIndex && s.Bare && i > 0 {
			buf.WriteByte('.')
		}
		buf.WriteString(s.String())
	}
	return buf.String()
}
