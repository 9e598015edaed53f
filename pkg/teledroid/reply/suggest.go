package reply

import "github.com/raedthawaba/teledroid/pkg/teledroid/store"

// Telemetry is the snapshot the suggestion engine evaluates.
type Telemetry struct {
	BatteryLow  bool
	StorageLow  bool
	NetworkSlow bool
}

// Thresholds for deriving telemetry flags from raw stats.
const (
	lowBatteryPercent = 20
	lowStorageRatio   = 0.9 // used/total
	slowNetworkMbps   = 5.0
)

// Suggest derives proactive suggestions from telemetry flags. Flags
// are evaluated independently, battery → storage → network; each set
// flag contributes its fixed pair in that order. No flag set yields
// an empty sequence.
func Suggest(t Telemetry) []string {
	var suggestions []string

	if t.BatteryLow {
		suggestions = append(suggestions,
			"خفض سطوع الشاشة",
			"إغلاق التطبيقات المفتوحة")
	}
	if t.StorageLow {
		suggestions = append(suggestions,
			"حذف ملفات الكاش",
			"نقل الصور إلى السحابة")
	}
	if t.NetworkSlow {
		suggestions = append(suggestions,
			"إعادة تشغيل الواي فاي",
			"البحث عن شبكات أفضل")
	}

	return suggestions
}

// TelemetryFromStats folds a raw stats snapshot into threshold flags.
// Missing readings never set a flag.
func TelemetryFromStats(st *store.DeviceStats) Telemetry {
	var t Telemetry
	if st == nil {
		return t
	}

	if st.BatteryLevel != nil && *st.BatteryLevel <= lowBatteryPercent {
		t.BatteryLow = true
	}
	if st.StorageUsed != nil && st.StorageTotal != nil && *st.StorageTotal > 0 &&
		*st.StorageUsed / *st.StorageTotal >= lowStorageRatio {
		t.StorageLow = true
	}
	if st.NetworkSpeed != nil && *st.NetworkSpeed > 0 && *st.NetworkSpeed < slowNetworkMbps {
		t.NetworkSlow = true
	}
	return t
}
