package objectstore

import "strings"

// Separator joins path segments in the canonical string form.
const Separator = "/"

// Path is a normalized hierarchical object key: an ordered sequence of
// non-empty segments. The zero Path has no segments and addresses the root
// prefix; it is valid for listing but never names an object.
//
// Two Paths are equal iff their segment sequences are equal, regardless of
// how the surface strings were written (extra or trailing slashes).
// Segments compare case-sensitively, matching blob-store semantics; the
// filesystem backend documents its host's case-folding as a known
// deviation rather than hiding it.
type Path struct {
	// raw is the canonical form: segments joined by Separator, no
	// leading or trailing separator. Empty for the root prefix.
	raw string
}

// ParsePath normalizes raw into a Path. Leading, trailing and repeated
// separators are dropped. It fails with an InvalidPath error when the
// input is empty after normalization or contains control characters, which
// the backends reserve.
func ParsePath(raw string) (Path, error) {
	p, err := parsePrefix(raw)
	if err != nil {
		return Path{}, err
	}
	if p.IsRoot() {
		return Path{}, &Error{Kind: InvalidPath, Path: raw, Detail: errEmptyPath}
	}
	return p, nil
}

// MustParsePath is ParsePath for statically known inputs; it panics on
// invalid input.
func MustParsePath(raw string) Path {
	p, err := ParsePath(raw)
	if err != nil {
		panic(err)
	}
	return p
}

// parsePrefix is ParsePath but admits the root prefix.
func parsePrefix(raw string) (Path, error) {
	for _, r := range raw {
		if r < 0x20 || r == 0x7f {
			return Path{}, &Error{Kind: InvalidPath, Path: raw, Detail: errControlChar}
		}
	}
	var segments []string
	for _, s := range strings.Split(raw, Separator) {
		if s != "" {
			segments = append(segments, s)
		}
	}
	return Path{raw: strings.Join(segments, Separator)}, nil
}

// PathFromSegments builds a Path from already-split segments. Empty
// segments are rejected.
func PathFromSegments(segments ...string) (Path, error) {
	for _, s := range segments {
		if s == "" || strings.Contains(s, Separator) {
			return Path{}, &Error{Kind: InvalidPath, Path: strings.Join(segments, Separator), Detail: errBadSegment}
		}
	}
	return ParsePath(strings.Join(segments, Separator))
}

// String returns the canonical form: segments joined by "/", with no
// leading or trailing separator. The root prefix renders as "".
func (p Path) String() string { return p.raw }

// IsRoot reports whether p is the zero, root-prefix Path.
func (p Path) IsRoot() bool { return p.raw == "" }

// Segments returns the ordered segment sequence. The root prefix has none.
func (p Path) Segments() []string {
	if p.raw == "" {
		return nil
	}
	return strings.Split(p.raw, Separator)
}

// Equal reports segment-wise equality.
func (p Path) Equal(other Path) bool { return p.raw == other.raw }

// Child returns p extended by one normalized sub-path.
func (p Path) Child(sub string) (Path, error) {
	c, err := ParsePath(sub)
	if err != nil {
		return Path{}, err
	}
	if p.IsRoot() {
		return c, nil
	}
	return Path{raw: p.raw + Separator + c.raw}, nil
}

// Parent returns the Path one segment up, or the root prefix for
// single-segment paths.
func (p Path) Parent() Path {
	i := strings.LastIndex(p.raw, Separator)
	if i < 0 {
		return Path{}
	}
	return Path{raw: p.raw[:i]}
}

// Base returns the final segment, or "" for the root prefix.
func (p Path) Base() string {
	i := strings.LastIndex(p.raw, Separator)
	return p.raw[i+1:]
}

// HasPrefix reports whether p equals prefix or sits below it on a segment
// boundary: "a/b" is under "a", but "ab" is not.
func (p Path) HasPrefix(prefix Path) bool {
	if prefix.IsRoot() {
		return true
	}
	if !strings.HasPrefix(p.raw, prefix.raw) {
		return false
	}
	return len(p.raw) == len(prefix.raw) || p.raw[len(prefix.raw)] == '/'
}

// UnderPrefix is HasPrefix on canonical key strings. Backend adapters
// apply it to raw listing results so that a prefix query for "a" never
// admits "ab".
func UnderPrefix(key, prefix string) bool {
	if prefix == "" {
		return true
	}
	if !strings.HasPrefix(key, prefix) {
		return false
	}
	return len(key) == len(prefix) || key[len(prefix)] == '/'
}
