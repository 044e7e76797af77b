package fastls

import (
	"slices"
	"strings"

	"golang.org/x/text/cases"
)

const (
	// Separator joins folder segments inside canonical flat-map keys.
	Separator = '\\'

	// PathSeparator separates folder segments in raw paths.
	PathSeparator = '/'

	dbSeparator = ':'

	forbiddenSegmentChars = `:\/`
)

// Path is a normalized folder path, optionally bound to another database.
type Path struct {
	DB       string // empty means the database the path was resolved against
	Segments []string
}

// Key returns the canonical flat-map key (or folder prefix) for the path.
func (p Path) Key() string {
	return strings.Join(p.Segments, string(Separator))
}

func (p Path) IsRoot() bool {
	return len(p.Segments) == 0
}

func (p Path) Base() string {
	if len(p.Segments) == 0 {
		return ""
	}
	return p.Segments[len(p.Segments)-1]
}

// String returns the rooted display form, e.g. "other:/a/b" or "/a/b".
func (p Path) String() string {
	var buf strings.Builder
	if p.DB != "" {
		buf.WriteString(p.DB)
		buf.WriteByte(dbSeparator)
	}
	buf.WriteByte(PathSeparator)
	buf.WriteString(strings.Join(p.Segments, string(PathSeparator)))
	return buf.String()
}

// SplitDatabasePrefix splits "name:/rest" into ("name", "/rest", true).
//
// The prefix is recognized only when name is non-empty, contains no separator,
// and is followed by the end of the string or a separator; any other colon is
// left in place and later rejected as a forbidden segment character.
func SplitDatabasePrefix(raw string) (db string, rest string, ok bool) {
	i := strings.IndexByte(raw, dbSeparator)
	if i <= 0 {
		return "", raw, false
	}
	name := raw[:i]
	if strings.ContainsAny(name, forbiddenSegmentChars) {
		return "", raw, false
	}
	rest = raw[i+1:]
	if rest != "" && rest[0] != PathSeparator {
		return "", raw, false
	}
	return name, rest, true
}

// ValidateSegment rejects segments that cannot be stored as part of a flat key.
func ValidateSegment(seg string) error {
	switch {
	case seg == "":
		return pathErrf(seg, "empty segment")
	case seg == "..":
		return pathErrf(seg, `".." cannot be used as a key`)
	case strings.ContainsAny(seg, forbiddenSegmentChars):
		return pathErrf(seg, "segment contains one of %q", forbiddenSegmentChars)
	}
	return nil
}

// ParsePath normalizes raw relative to cwd. A leading separator or a database
// prefix makes the path rooted; "." and empty tokens are dropped and ".."
// pops the previous segment. Going above the root is an error.
func ParsePath(raw string, cwd []string) (Path, error) {
	if raw == ".." {
		return Path{}, pathErrf(raw, "cannot address the parent of the root")
	}
	db, rest, hasDB := SplitDatabasePrefix(raw)

	var stack []string
	if !hasDB && (rest == "" || rest[0] != PathSeparator) {
		stack = slices.Clone(cwd)
	}
	for _, tok := range strings.Split(rest, string(PathSeparator)) {
		switch tok {
		case "", ".":
			continue
		case "..":
			if len(stack) == 0 {
				return Path{}, pathErrf(raw, `".." goes above the root`)
			}
			stack = stack[:len(stack)-1]
		default:
			if err := ValidateSegment(tok); err != nil {
				return Path{}, &PathError{raw, err.(*PathError).Msg}
			}
			stack = append(stack, tok)
		}
	}
	return Path{DB: db, Segments: stack}, nil
}

// splitKey is the inverse of Path.Key.
func splitKey(key string) []string {
	if key == "" {
		return nil
	}
	return strings.Split(key, string(Separator))
}

// underFolder reports whether key is the folder itself or lies beneath it.
// The root folder ("") contains every key.
func underFolder(key, folder string, fold bool) bool {
	if folder == "" {
		return true
	}
	if !fold {
		return key == folder || (strings.HasPrefix(key, folder) && len(key) > len(folder) && key[len(folder)] == Separator)
	}
	_, ok := folderRemainder(key, folder, true)
	return ok
}

// folderRemainder returns the part of key below folder ("" for the folder itself).
func folderRemainder(key, folder string, fold bool) (string, bool) {
	if folder == "" {
		return key, true
	}
	if !fold {
		if key == folder {
			return "", true
		}
		if strings.HasPrefix(key, folder) && len(key) > len(folder) && key[len(folder)] == Separator {
			return key[len(folder)+1:], true
		}
		return "", false
	}
	ks, fs := splitKey(key), splitKey(folder)
	if len(ks) < len(fs) {
		return "", false
	}
	for i, s := range fs {
		if !equalFold(ks[i], s) {
			return "", false
		}
	}
	return strings.Join(ks[len(fs):], string(Separator)), true
}

// resolveFlatKey finds the stored key matching key, preserving the stored casing.
// In fold mode a key that is not stored yet still takes the stored casing of
// every leading segment it shares with existing keys, so "user/y" next to
// "User/x" becomes `User\y`.
func resolveFlatKey(m FlatMap, key string, fold bool) (string, bool) {
	if _, found := m[key]; found {
		return key, true
	}
	if !fold {
		return key, false
	}
	keys := sortedKeys(m)
	for _, k := range keys {
		if equalFold(k, key) {
			return k, true
		}
	}

	segs := splitKey(key)
	stored := make([][]string, len(keys))
	for i, k := range keys {
		stored[i] = splitKey(k)
	}
	for i := range segs {
		for _, ks := range stored {
			if len(ks) > i && slices.Equal(ks[:i], segs[:i]) && equalFold(ks[i], segs[i]) {
				segs[i] = ks[i]
				break
			}
		}
	}
	return strings.Join(segs, string(Separator)), false
}

func equalFold(a, b string) bool {
	if a == b || strings.EqualFold(a, b) {
		return true
	}
	caser := cases.Fold()
	return caser.String(a) == caser.String(b)
}
