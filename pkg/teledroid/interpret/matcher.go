package interpret

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// rule maps a text pattern to an operation from the vocabulary.
type rule struct {
	pattern   *regexp.Regexp
	operation string
}

// rules are evaluated in declaration order; the first match wins.
// Groups run file → system → task, so a message carrying both file and
// task tokens resolves to the file operation.
var rules = []rule{
	// File operations.
	{regexp.MustCompile(`(?:أعرض|عرض|list).*?(?:ملفات|files)`), OpListFiles},
	{regexp.MustCompile(`(?:أنشئ|إنشاء|create).*?(?:مجلد|folder)`), OpCreateFolder},
	{regexp.MustCompile(`(?:حذف|delete).*?(?:ملف|file)`), OpDeleteFile},
	{regexp.MustCompile(`(?:رفع|upload).*?ملف`), OpUploadFile},
	{regexp.MustCompile(`(?:تنزيل|download).*?ملف`), OpDownloadFile},

	// System operations.
	{regexp.MustCompile(`(?:حالة|status).*?(?:جهاز|phone|mobile)`), OpDeviceStatus},
	{regexp.MustCompile(`بطارية|battery`), OpBatteryInfo},
	{regexp.MustCompile(`تخزين|storage|memory`), OpStorageInfo},
	{regexp.MustCompile(`شبكة|network|إنترنت`), OpNetworkInfo},
	{regexp.MustCompile(`(?:معلومات|info).*?(?:النظام|system)`), OpSystemInfo},

	// Task operations.
	{regexp.MustCompile(`(?:مهام|tasks).*?(?:مجدولة|scheduled)`), OpListTasks},
	{regexp.MustCompile(`(?:أنشئ|إنشاء).*?(?:مهمة|task)`), OpCreateTask},
	{regexp.MustCompile(`(?:حذف|delete).*?(?:مهمة|task)`), OpDeleteTask},
}

// Match maps raw text to an action via the deterministic rules.
// Deterministic and pure: same text, same result, no external calls.
// Returns ok=false when no rule matches; that is a routing signal for
// the fallback interpreter, not an error.
func Match(text string) (*Action, bool) {
	msg := Normalize(text)

	for _, r := range rules {
		if r.pattern.MatchString(msg) {
			op := vocabularyIndex[r.operation]
			return &Action{
				Category:   op.Category,
				Operation:  r.operation,
				Parameters: Extract(msg),
				Origin:     OriginDirect,
			}, true
		}
	}
	return nil, false
}

// Normalize folds text for matching: NFC normalization (Arabic input
// arrives in mixed composed/decomposed forms from different keyboards),
// lower-case, trimmed.
func Normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(norm.NFC.String(text)))
}
