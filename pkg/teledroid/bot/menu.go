package bot

import (
	"context"
	"fmt"
	"strings"

	"github.com/raedthawaba/teledroid/pkg/teledroid/channels"
	"github.com/raedthawaba/teledroid/pkg/teledroid/interpret"
	"github.com/raedthawaba/teledroid/pkg/teledroid/store"
)

// Main keyboard button labels. The telegram channel renders these as a
// reply keyboard; other channels see plain text users can type back.
const (
	buttonStatus = "📊 حالة الجهاز"
	buttonFiles  = "📁 إدارة الملفات"
	buttonTasks  = "📋 المهام المجدولة"
	buttonLink   = "🔗 ربط جهاز"
	buttonHelp   = "❓ مساعدة"
)

const helpText = `🤖 مساعدة البوت

الأوامر المتاحة:

/start - بدء استخدام البوت
/help - عرض المساعدة
/status - حالة الجهاز
/battery - معلومات البطارية
/storage - معلومات التخزين
/network - معلومات الشبكة
/files - إدارة الملفات
/tasks - المهام المجدولة
/link - ربط جهاز جديد
/unlink - إلغاء ربط الجهاز

كيفية الاستخدام:
1. أولاً، ثبت تطبيق الوكيل على هاتفك
2. اضغط 'ربط جهاز' واتبع التعليمات
3. أرسل أوامر للبوت للتحكم بهاتفك

مثال على الأوامر:
- "أعرض حالة البطارية"
- "أنشئ مجلد جديد اسمه Backup"
- "اعرض ملفات المجلد الرئيسي"`

const linkInstructions = `🔗 ربط جهاز جديد

1. ثبت تطبيق الوكيل على هاتفك
2. افتح التطبيق واسمح بالصلاحيات المطلوبة
3. انسخ معرّف الجهاز الظاهر في التطبيق
4. أرسل هنا: /link <معرّف الجهاز>

سيصلك رمز من 6 أرقام صالح لخمس دقائق، أدخله في التطبيق لإتمام الربط.`

// mainKeyboard is the persistent reply keyboard shown after /start.
func mainKeyboard() map[string]any {
	return map[string]any{
		"telegram_keyboard": [][]string{
			{buttonStatus},
			{buttonFiles, buttonTasks},
			{buttonLink, buttonHelp},
		},
	}
}

func (b *Bot) handleMenuCommand(ctx context.Context, msg *channels.IncomingMessage, user *store.User, text string) {
	cmd, arg, _ := strings.Cut(strings.TrimPrefix(text, "/"), " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(cmd) {
	case "start":
		b.logOperation(user.ID, nil, "", "bot_start", fmt.Sprintf("المستخدم %s بدأ استخدام البوت", msg.From))
		name := metaString(msg, "first_name")
		if name == "" {
			name = msg.FromName
		}
		welcome := fmt.Sprintf("🎉 مرحباً %s!\n\n"+
			"أنا بوت التحكم بهاتفك الذكي.\n"+
			"يمكنني مساعدتك في:\n"+
			"• عرض حالة الجهاز\n"+
			"• إدارة الملفات\n"+
			"• جدولة المهام\n"+
			"• والمزيد...\n\n"+
			"اضغط على زر 'ربط جهاز' للبدء!", name)
		b.send(ctx, msg, welcome, mainKeyboard())
	case "help":
		b.send(ctx, msg, helpText, nil)
	case "status":
		b.submitOperation(ctx, msg, user, interpret.OpDeviceStatus)
	case "battery":
		b.submitOperation(ctx, msg, user, interpret.OpBatteryInfo)
	case "storage":
		b.submitOperation(ctx, msg, user, interpret.OpStorageInfo)
	case "network":
		b.submitOperation(ctx, msg, user, interpret.OpNetworkInfo)
	case "files":
		b.sendFilesMenu(ctx, msg)
	case "tasks":
		b.sendTasksMenu(ctx, msg)
	case "link":
		b.handleLink(ctx, msg, user, arg)
	case "unlink":
		b.handleUnlink(ctx, msg, user)
	default:
		b.send(ctx, msg, "❓ أمر غير معروف. أرسل /help لعرض الأوامر المتاحة.", nil)
	}
}

// handleKeyboardButton maps main keyboard labels to their commands.
func (b *Bot) handleKeyboardButton(ctx context.Context, msg *channels.IncomingMessage, user *store.User, text string) bool {
	switch text {
	case buttonStatus:
		b.submitOperation(ctx, msg, user, interpret.OpDeviceStatus)
	case buttonFiles:
		b.sendFilesMenu(ctx, msg)
	case buttonTasks:
		b.sendTasksMenu(ctx, msg)
	case buttonLink:
		b.handleLink(ctx, msg, user, "")
	case buttonHelp:
		b.send(ctx, msg, helpText, nil)
	default:
		return false
	}
	return true
}

func (b *Bot) handleCallback(ctx context.Context, msg *channels.IncomingMessage, user *store.User) {
	switch msg.Content {
	case "files_list":
		b.submitOperation(ctx, msg, user, interpret.OpListFiles)
	case "files_create_folder":
		b.send(ctx, msg, "➕ أرسل: أنشئ مجلد اسم: <الاسم>", nil)
	case "files_upload":
		b.send(ctx, msg, "📤 أرسل: رفع ملف في <المسار>", nil)
	case "files_download":
		b.send(ctx, msg, "📥 أرسل: تنزيل ملف من <المسار>", nil)
	case "files_delete":
		b.send(ctx, msg, "🗑️ أرسل: حذف ملف من <المسار>", nil)
	case "tasks_list":
		b.submitOperation(ctx, msg, user, interpret.OpListTasks)
	case "tasks_add":
		b.send(ctx, msg, "➕ أرسل: أنشئ مهمة اسم: <الاسم>", nil)
	case "tasks_delete":
		b.send(ctx, msg, "❌ أرسل: حذف مهمة اسم: <الاسم>", nil)
	case "back_main":
		b.send(ctx, msg, "القائمة الرئيسية:", mainKeyboard())
	default:
		b.logger.Debug("unknown callback", "data", msg.Content)
	}
}

// submitOperation submits a parameterless vocabulary operation.
func (b *Bot) submitOperation(ctx context.Context, msg *channels.IncomingMessage, user *store.User, operation string) {
	category, ok := interpret.KnownOperation(operation)
	if !ok {
		b.logger.Error("menu wired to unknown operation", "operation", operation)
		return
	}
	b.submitAction(ctx, msg, user, &interpret.Action{
		Category:   category,
		Operation:  operation,
		Parameters: map[string]string{},
		Origin:     interpret.OriginDirect,
	})
}

func (b *Bot) sendFilesMenu(ctx context.Context, msg *channels.IncomingMessage) {
	buttons := map[string]any{
		"telegram_buttons": []map[string]any{
			{"text": "📁 عرض الملفات", "callback_data": "files_list"},
			{"text": "📤 رفع ملف", "callback_data": "files_upload"},
			{"text": "📥 تنزيل ملف", "callback_data": "files_download"},
			{"text": "🗑️ حذف ملف", "callback_data": "files_delete"},
			{"text": "➕ إنشاء مجلد", "callback_data": "files_create_folder"},
			{"text": "🔙 رجوع", "callback_data": "back_main"},
		},
	}
	b.send(ctx, msg, "📁 إدارة الملفات\n\nاختر الإجراء المطلوب:", buttons)
}

func (b *Bot) sendTasksMenu(ctx context.Context, msg *channels.IncomingMessage) {
	buttons := map[string]any{
		"telegram_buttons": []map[string]any{
			{"text": "📋 عرض المهام", "callback_data": "tasks_list"},
			{"text": "➕ إضافة مهمة", "callback_data": "tasks_add"},
			{"text": "❌ حذف مهمة", "callback_data": "tasks_delete"},
			{"text": "🔙 رجوع", "callback_data": "back_main"},
		},
	}
	b.send(ctx, msg, "📋 المهام المجدولة\n\nاختر الإجراء المطلوب:", buttons)
}

// handleLink issues a 6-digit pairing code for the given device id.
func (b *Bot) handleLink(ctx context.Context, msg *channels.IncomingMessage, user *store.User, deviceID string) {
	if deviceID == "" {
		b.send(ctx, msg, linkInstructions, nil)
		return
	}

	code, err := b.tokens.IssueOTP(user.ID, deviceID)
	if err != nil {
		b.logger.Error("issuing OTP failed", "error", err)
		b.send(ctx, msg, "❌ تعذر إنشاء رمز الربط، حاول مجدداً.", nil)
		return
	}

	b.logOperation(user.ID, nil, "", "link_requested", "طلب ربط الجهاز "+deviceID)
	b.send(ctx, msg, fmt.Sprintf(
		"🔗 رمز ربط الجهاز %s:\n\n%s\n\nأدخل الرمز في التطبيق خلال 5 دقائق. الرمز صالح لمرة واحدة.",
		deviceID, code), nil)
}

func (b *Bot) handleUnlink(ctx context.Context, msg *channels.IncomingMessage, user *store.User) {
	removed, err := b.store.UnlinkDevicesForUser(user.ID)
	if err != nil {
		b.logger.Error("unlinking devices failed", "error", err)
		b.send(ctx, msg, "❌ تعذر إلغاء الربط، حاول مجدداً.", nil)
		return
	}
	if removed == 0 {
		b.send(ctx, msg, "ℹ️ لم تقم بربط أي جهاز.", nil)
		return
	}
	b.logOperation(user.ID, nil, "", "devices_unlinked", fmt.Sprintf("تم إلغاء ربط %d جهاز", removed))
	b.send(ctx, msg, "✅ تم إلغاء ربط جميع الأجهزة بنجاح.", nil)
}
