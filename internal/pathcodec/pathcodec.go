// Package pathcodec encodes and decodes the flat directory names used
// to store project session trees on disk. A project's absolute path
// is folded into a single directory name by escaping hyphens and then
// collapsing slashes; Decode reverses both steps.
package pathcodec

import (
	"path/filepath"
	"strings"
)

// placeholder stands in for an escaped hyphen while the single
// remaining hyphens are expanded back into slashes. It cannot appear
// in a legitimate filesystem path.
const placeholder = "\x00"

// Encode converts an absolute path into its flat directory-name form.
// Existing hyphens are escaped first (`-` → `--`) so that decoding can
// tell them apart from path-separator hyphens, then every `/` becomes
// a single `-`.
func Encode(path string) string {
	encoded := strings.ReplaceAll(path, "-", "--")
	encoded = strings.ReplaceAll(encoded, "/", "-")
	return encoded
}

// Decode reverses Encode. A name not starting with `-` is treated as
// unencoded legacy data and returned verbatim.
func Decode(encoded string) string {
	if !strings.HasPrefix(encoded, "-") {
		return encoded
	}

	temp := strings.ReplaceAll(encoded, "--", placeholder)
	temp = strings.ReplaceAll(temp, "-", "/")
	return strings.ReplaceAll(temp, placeholder, "-")
}

// DisplayName returns the last component of a decoded path.
func DisplayName(decodedPath string) string {
	return filepath.Base(decodedPath)
}

// LooksLegacy reports whether an encoded name is suspicious: the
// decoded display name contains a hyphen, yet the encoded form
// contains no escaped (`--`) hyphen at all. Such names predate
// hyphen-escaping and may not round-trip correctly; the indexer logs
// these at debug level rather than trying to disambiguate them.
func LooksLegacy(encoded string) bool {
	if strings.Contains(encoded, "--") {
		return false
	}
	display := DisplayName(Decode(encoded))
	return strings.Contains(display, "-")
}
