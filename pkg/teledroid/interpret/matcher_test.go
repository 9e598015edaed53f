package interpret

import "testing"

func TestMatchArabicListFiles(t *testing.T) {
	action, ok := Match("اعرض ملفات")
	if !ok {
		t.Fatal("expected a match")
	}
	if action.Category != CategoryFile {
		t.Errorf("expected category file, got %q", action.Category)
	}
	if action.Operation != OpListFiles {
		t.Errorf("expected list_files, got %q", action.Operation)
	}
	if action.Origin != OriginDirect {
		t.Errorf("expected origin direct, got %q", action.Origin)
	}
}

func TestMatchOperations(t *testing.T) {
	cases := []struct {
		text     string
		op       string
		category string
	}{
		{"list my files", OpListFiles, CategoryFile},
		{"أنشئ مجلد اسم: صور", OpCreateFolder, CategoryFile},
		{"create a new folder", OpCreateFolder, CategoryFile},
		{"delete file /sdcard/old.txt", OpDeleteFile, CategoryFile},
		{"رفع ملف في /sdcard", OpUploadFile, CategoryFile},
		{"تنزيل ملف", OpDownloadFile, CategoryFile},
		{"status of my phone", OpDeviceStatus, CategorySystem},
		{"حالة الجهاز", OpDeviceStatus, CategorySystem},
		{"battery please", OpBatteryInfo, CategorySystem},
		{"كم تخزين متبقي", OpStorageInfo, CategorySystem},
		{"network info", OpNetworkInfo, CategorySystem},
		{"معلومات النظام", OpSystemInfo, CategorySystem},
		{"اعرض مهام مجدولة", OpListTasks, CategoryTask},
		{"أنشئ مهمة جديدة", OpCreateTask, CategoryTask},
		{"حذف مهمة", OpDeleteTask, CategoryTask},
	}

	for _, tc := range cases {
		action, ok := Match(tc.text)
		if !ok {
			t.Errorf("%q: expected a match", tc.text)
			continue
		}
		if action.Operation != tc.op {
			t.Errorf("%q: expected %s, got %s", tc.text, tc.op, action.Operation)
		}
		if action.Category != tc.category {
			t.Errorf("%q: expected category %s, got %s", tc.text, tc.category, action.Category)
		}
	}
}

func TestMatchFirstRuleWins(t *testing.T) {
	// Both the list_files and list_scheduled_tasks patterns could
	// claim a message with list+files+tasks tokens; declaration order
	// resolves it to the file group.
	action, ok := Match("list files and tasks scheduled")
	if !ok {
		t.Fatal("expected a match")
	}
	if action.Operation != OpListFiles {
		t.Errorf("expected list_files to win, got %s", action.Operation)
	}

	// delete+file beats delete+task for the same reason.
	action, ok = Match("delete file from task folder")
	if !ok {
		t.Fatal("expected a match")
	}
	if action.Operation != OpDeleteFile {
		t.Errorf("expected delete_file to win, got %s", action.Operation)
	}
}

func TestMatchNoMatch(t *testing.T) {
	for _, text := range []string{"", "hello there", "ماذا يحدث"} {
		if action, ok := Match(text); ok {
			t.Errorf("%q: expected no match, got %v", text, action)
		}
	}
}

func TestMatchCaseFolded(t *testing.T) {
	action, ok := Match("  LIST my FILES  ")
	if !ok || action.Operation != OpListFiles {
		t.Fatalf("expected list_files for mixed case input, got %v ok=%v", action, ok)
	}
}

func TestExtractPathAndName(t *testing.T) {
	params := Extract("أنشئ مجلد في /sdcard/photos اسم: backups")
	if params["path"] == "" {
		t.Error("expected path extracted")
	}
	if params["name"] != "backups" {
		t.Errorf("expected name 'backups', got %q", params["name"])
	}
}

func TestExtractEmpty(t *testing.T) {
	params := Extract("battery")
	if len(params) != 0 {
		t.Errorf("expected empty mapping, got %v", params)
	}
}

func TestValidateParameters(t *testing.T) {
	if err := ValidateParameters(OpListFiles, nil); err != nil {
		t.Errorf("list_files needs no parameters, got %v", err)
	}

	err := ValidateParameters(OpDeleteFile, map[string]string{})
	verr, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	if verr.Field != "path" {
		t.Errorf("expected missing field 'path', got %q", verr.Field)
	}

	if err := ValidateParameters(OpDeleteFile, map[string]string{"path": "/x"}); err != nil {
		t.Errorf("expected valid, got %v", err)
	}

	if err := ValidateParameters("rm_rf", nil); err == nil {
		t.Error("expected unknown operation to fail validation")
	}
}
