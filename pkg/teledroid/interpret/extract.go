package interpret

import (
	"regexp"
	"strings"
)

var (
	// pathPattern captures a path-like token after a preposition or a
	// path separator: "في /sdcard/dcim", "from downloads".
	pathPattern = regexp.MustCompile(`(?:في|to|from|/)\s*([/\p{L}\p{N}_][/\p{L}\p{N}_ ]*)`)

	// namePattern captures a name-like token after a name marker:
	// "اسم: backups", "name - report".
	namePattern = regexp.MustCompile(`(?:اسم|name)\s*[:\-]?\s*([\p{L}\p{N}_]+)`)
)

// Extract pulls free-form arguments out of text. Both extractions are
// best-effort and independent; a miss just omits the key. Extraction
// never fails — worst case is an empty mapping.
func Extract(text string) map[string]string {
	params := map[string]string{}

	if m := pathPattern.FindStringSubmatch(text); m != nil {
		params["path"] = strings.TrimSpace(m[1])
	}
	if m := namePattern.FindStringSubmatch(text); m != nil {
		params["name"] = m[1]
	}

	return params
}
