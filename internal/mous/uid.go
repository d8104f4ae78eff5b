package mous

import "strings"

const uidSegmentPrefix = "uid___"

// UIDToPathSegment turns an archive UID such as uid://A001/X1/X2 into a
// filesystem-safe segment (uid___A001_X1_X2).
func UIDToPathSegment(uid string) string {
	s := strings.TrimSpace(uid)
	s = strings.ReplaceAll(s, "uid://", uidSegmentPrefix)
	s = strings.ReplaceAll(s, "://", "___")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, ":", "_")
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r == '_', r == '.', r == '-':
			return r
		default:
			return '_'
		}
	}, s)
	if !strings.HasPrefix(s, uidSegmentPrefix) {
		s = uidSegmentPrefix + s
	}
	return s
}

// UIDFromPathSegment reverses UIDToPathSegment for well-formed segments:
// uid___A001_X1_X2 becomes uid://A001/X1/X2. Segments with fewer than three
// parts yield "".
func UIDFromPathSegment(segment string) string {
	token := strings.TrimPrefix(strings.TrimSpace(segment), uidSegmentPrefix)
	parts := strings.Split(token, "_")
	if len(parts) < 3 {
		return ""
	}
	return "uid://" + parts[0] + "/" + parts[1] + "/" + strings.Join(parts[2:], "_")
}

// IsUnknownUID reports whether a UID is unset or a layout placeholder.
func IsUnknownUID(uid string) bool {
	return uid == "" || strings.HasSuffix(uid, "unknown")
}
