// Package reply renders settled commands and telemetry-driven
// suggestions as chat text. Pure functions; the chat transport decides
// delivery.
package reply

import (
	"fmt"
	"strings"

	"github.com/raedthawaba/teledroid/pkg/teledroid/interpret"
	"github.com/raedthawaba/teledroid/pkg/teledroid/store"
)

// maxListedFiles caps the file listing; the count header still shows
// the full total.
const maxListedFiles = 10

// Format renders a terminal command as a user-facing reply, branching
// on category. A failed command always collapses to a single error
// line built from the failure detail, whatever its category.
func Format(cmd *store.Command) string {
	if cmd.Status == store.StatusFailed {
		detail := cmd.ErrorMessage
		if detail == "" {
			detail = "خطأ غير معروف"
		}
		return "❌ حدث خطأ: " + detail
	}

	var b strings.Builder
	b.WriteString("✅ تم تنفيذ الأمر بنجاح\n\n")

	switch cmd.CommandType {
	case interpret.CategorySystem:
		b.WriteString(formatSystem(cmd.Result))
	case interpret.CategoryFile:
		b.WriteString(formatFile(cmd.Result))
	case interpret.CategoryTask:
		b.WriteString(formatTask(cmd.Result))
	default:
		b.WriteString(fmt.Sprint(cmd.Result))
	}

	return b.String()
}

// formatSystem renders battery/storage/network sub-sections. A whole
// section absent from the payload is omitted; a missing leaf inside a
// present section renders as "N/A".
func formatSystem(result map[string]any) string {
	var lines []string

	if battery, ok := section(result, "battery"); ok {
		lines = append(lines, fmt.Sprintf("🔋 البطارية: %s%%", leaf(battery, "level")))
		lines = append(lines, fmt.Sprintf("   الحالة: %s", leaf(battery, "status")))
	}

	if storage, ok := section(result, "storage"); ok {
		lines = append(lines, fmt.Sprintf("💾 التخزين: %s/%s GB",
			leaf(storage, "used"), leaf(storage, "total")))
	}

	if network, ok := section(result, "network"); ok {
		lines = append(lines, fmt.Sprintf("🌐 الشبكة: %s", leaf(network, "type")))
		if speed := network["speed"]; speedKnown(speed) {
			lines = append(lines, fmt.Sprintf("   السرعة: %v Mbps", speed))
		}
	}

	return strings.Join(lines, "\n")
}

// formatFile renders a file listing, a created-folder confirmation or
// a deleted-file confirmation, depending on which key the payload
// carries.
func formatFile(result map[string]any) string {
	var lines []string

	if files, ok := result["files"].([]any); ok {
		lines = append(lines, fmt.Sprintf("📁 الملفات (%d):", len(files)))
		for i, f := range files {
			if i >= maxListedFiles {
				break
			}
			entry, _ := f.(map[string]any)
			lines = append(lines, fmt.Sprintf("   • %s (%s)",
				leaf(entry, "name"), leaf(entry, "size")))
		}
	}

	if folder, ok := result["folder"]; ok {
		lines = append(lines, fmt.Sprintf("✅ تم إنشاء المجلد: %v", folder))
	}

	if deleted, ok := result["deleted"]; ok {
		lines = append(lines, fmt.Sprintf("🗑️ تم حذف: %v", deleted))
	}

	return strings.Join(lines, "\n")
}

// formatTask renders the task list with per-task active glyphs, or a
// created-task confirmation.
func formatTask(result map[string]any) string {
	var lines []string

	if tasks, ok := result["tasks"].([]any); ok {
		lines = append(lines, fmt.Sprintf("📋 المهام (%d):", len(tasks)))
		for _, t := range tasks {
			entry, _ := t.(map[string]any)
			glyph := "❌"
			if active, _ := entry["active"].(bool); active {
				glyph = "✅"
			}
			lines = append(lines, fmt.Sprintf("   %s %s", glyph, leaf(entry, "name")))
		}
	}

	if created, ok := result["created"]; ok {
		lines = append(lines, fmt.Sprintf("✅ تم إنشاء المهمة: %v", created))
	}

	return strings.Join(lines, "\n")
}

// section fetches a nested mapping if the payload carries it.
func section(result map[string]any, key string) (map[string]any, bool) {
	v, ok := result[key]
	if !ok {
		return nil, false
	}
	m, ok := v.(map[string]any)
	return m, ok
}

// speedKnown reports whether a network speed value is worth rendering.
// Absent, nil, zero, or empty readings are all treated as unknown and
// the line is omitted.
func speedKnown(v any) bool {
	switch s := v.(type) {
	case nil:
		return false
	case float64:
		return s != 0
	case int:
		return s != 0
	case string:
		return s != "" && s != "0"
	default:
		return true
	}
}

// leaf fetches a leaf value, falling back to "N/A" when the section is
// present but the field is not.
func leaf(m map[string]any, key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return "N/A"
	}
	return fmt.Sprint(v)
}
