package interpret

import "strings"

// Operation names, grouped by category. This table is the single
// source of truth for the whole pipeline: the pattern rules, the
// fallback instruction and parameter validation all derive from it.
const (
	OpListFiles    = "list_files"
	OpCreateFolder = "create_folder"
	OpDeleteFile   = "delete_file"
	OpUploadFile   = "upload_file"
	OpDownloadFile = "download_file"
	OpDeviceStatus = "device_status"
	OpBatteryInfo  = "battery_info"
	OpStorageInfo  = "storage_info"
	OpNetworkInfo  = "network_info"
	OpSystemInfo   = "system_info"
	OpListTasks    = "list_scheduled_tasks"
	OpCreateTask   = "create_task"
	OpDeleteTask   = "delete_task"
)

// operation describes one supported device operation.
type operation struct {
	Name        string
	Category    string
	Description string   // shown to the LLM, Arabic like the rest of the bot surface
	Required    []string // parameter keys that must be present at submit time
}

// vocabulary lists every supported operation in declaration order,
// grouped file → system → task. The order is load-bearing for the
// pattern rules below.
var vocabulary = []operation{
	{OpListFiles, CategoryFile, "عرض الملفات في مجلد", nil},
	{OpCreateFolder, CategoryFile, "إنشاء مجلد جديد", []string{"name"}},
	{OpDeleteFile, CategoryFile, "حذف ملف", []string{"path"}},
	{OpUploadFile, CategoryFile, "رفع ملف", []string{"path"}},
	{OpDownloadFile, CategoryFile, "تنزيل ملف", []string{"path"}},
	{OpDeviceStatus, CategorySystem, "حالة الجهاز الشاملة", nil},
	{OpBatteryInfo, CategorySystem, "معلومات البطارية", nil},
	{OpStorageInfo, CategorySystem, "معلومات التخزين", nil},
	{OpNetworkInfo, CategorySystem, "معلومات الشبكة", nil},
	{OpSystemInfo, CategorySystem, "معلومات النظام", nil},
	{OpListTasks, CategoryTask, "عرض المهام المجدولة", nil},
	{OpCreateTask, CategoryTask, "إنشاء مهمة مجدولة", []string{"name"}},
	{OpDeleteTask, CategoryTask, "حذف مهمة", []string{"name"}},
}

// vocabularyIndex maps operation name to its entry.
var vocabularyIndex = func() map[string]operation {
	idx := make(map[string]operation, len(vocabulary))
	for _, op := range vocabulary {
		idx[op.Name] = op
	}
	return idx
}()

// KnownOperation reports whether name is a supported operation and
// returns its category.
func KnownOperation(name string) (category string, ok bool) {
	op, ok := vocabularyIndex[name]
	if !ok {
		return "", false
	}
	return op.Category, true
}

// OperationDescription returns the Arabic description of an operation,
// or "" for an unknown one.
func OperationDescription(name string) string {
	return vocabularyIndex[name].Description
}

// ValidateParameters checks that every parameter the operation
// declares as required is present and non-empty.
func ValidateParameters(operationName string, params map[string]string) error {
	op, ok := vocabularyIndex[operationName]
	if !ok {
		return &ValidationError{Operation: operationName, Field: "action"}
	}
	for _, key := range op.Required {
		if strings.TrimSpace(params[key]) == "" {
			return &ValidationError{Operation: operationName, Field: key}
		}
	}
	return nil
}

// categoryTitles maps categories to the Arabic section headers used in
// the fallback instruction.
var categoryTitles = []struct {
	category string
	title    string
}{
	{CategoryFile, "إدارة الملفات"},
	{CategorySystem, "معلومات النظام"},
	{CategoryTask, "المهام"},
}

// instructionPrompt renders the fixed system instruction for the
// fallback interpreter: every operation grouped by category, plus the
// strict output-shape contract. Changing the vocabulary changes this
// prompt automatically.
func instructionPrompt() string {
	var b strings.Builder
	b.WriteString("أنت مساعد ذكي يتحكم في هاتف Android. مهمتك هي تحويل أوامر المستخدم إلى مهام تنفيذية JSON.\n\n")
	b.WriteString("الأوامر المدعومة:\n")

	for _, ct := range categoryTitles {
		b.WriteString("\n")
		b.WriteString(ct.title)
		b.WriteString(":\n")
		for _, op := range vocabulary {
			if op.Category != ct.category {
				continue
			}
			b.WriteString("   - ")
			b.WriteString(op.Name)
			b.WriteString(": ")
			b.WriteString(op.Description)
			b.WriteString("\n")
		}
	}

	b.WriteString(`
المخرجات يجب أن تكون JSON فقط بدون أي نص آخر:
{
  "success": true/false,
  "command_type": "file/system/task/ai",
  "action": "اسم_الأمر",
  "parameters": {},
  "description": "وصف مفهوم للبشر"
}

إذا لم تتمكن من فهم الأمر، أعد:
{
  "success": false,
  "error": "سبب_الخطأ"
}`)

	return b.String()
}
