package lister

import (
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/JakeFAU/alma-bulk/internal/mous"
)

const fallbackFilename = "download.dat"

// DatalinkID converts a member unit UID into the identifier the listing
// service expects. Path-segment UIDs pass through, uid:// forms are
// converted, anything else is sent unchanged.
func DatalinkID(memberUID string) string {
	value := strings.TrimSpace(memberUID)
	if strings.HasPrefix(value, "uid://") {
		return mous.UIDToPathSegment(value)
	}
	return value
}

// FilenameFromURL derives a local filename from an access URL: the last path
// element, else the last segment of the ID query parameter, else a fixed
// fallback.
func FilenameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fallbackFilename
	}
	if u.Path != "" {
		if name := path.Base(u.Path); name != "/" && name != "." {
			return name
		}
	}
	if id := u.Query().Get("ID"); id != "" {
		if i := strings.LastIndex(id, "/"); i >= 0 {
			id = id[i+1:]
		}
		if id != "" {
			return id
		}
	}
	return fallbackFilename
}

// parseSize returns the advertised size when the column is all digits.
func parseSize(value string) *int64 {
	if value == "" {
		return nil
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return nil
		}
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return nil
	}
	return &n
}
