package store

import "time"

// Command lifecycle states.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Schedule kinds for scheduled tasks.
const (
	ScheduleOnce     = "once"
	ScheduleInterval = "interval"
	ScheduleCron     = "cron"
)

// User is a chat identity.
type User struct {
	ID        int64
	ChatID    string
	Username  string
	FirstName string
	LastName  string
	IsActive  bool
	IsAdmin   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Device is a linked remote endpoint. DeviceID is the stable agent
// identifier; ID is the database row.
type Device struct {
	ID             int64
	UserID         int64
	DeviceID       string
	DeviceName     string
	DeviceModel    string
	AndroidVersion string
	PushToken      string
	IsOnline       bool
	LastSeen       time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Command is a persisted unit of work for a device.
// Result is non-nil only when Status is completed; ErrorMessage is
// non-empty only when Status is failed; CompletedAt is set exactly
// when the command is terminal.
type Command struct {
	ID           string
	UserID       int64
	DeviceID     *int64
	CommandType  string
	Action       string
	Parameters   map[string]string
	Status       string
	Result       map[string]any
	ErrorMessage string
	CreatedAt    time.Time
	CompletedAt  *time.Time
}

// Terminal reports whether the command reached a final state.
func (c *Command) Terminal() bool {
	return c.Status == StatusCompleted || c.Status == StatusFailed
}

// ScheduledTask is a recurring command template.
type ScheduledTask struct {
	ID           int64
	DeviceID     int64
	Name         string
	CommandType  string
	Action       string
	Parameters   map[string]string
	ScheduleKind string
	ScheduleExpr string
	IsActive     bool
	LastRun      *time.Time
	NextRun      *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// AuthToken binds an identity to a device, either as a short-lived
// single-use OTP or as a long-lived device token (stored hashed).
type AuthToken struct {
	ID           int64
	UserID       int64
	DeviceID     string
	TokenHash    string
	OTPCode      string
	OTPExpiresAt *time.Time
	IsUsed       bool
	ExpiresAt    time.Time
	CreatedAt    time.Time
}

// DeviceStats is a telemetry snapshot reported by a device.
type DeviceStats struct {
	ID            int64
	DeviceID      string
	BatteryLevel  *int
	BatteryStatus string
	StorageTotal  *float64
	StorageUsed   *float64
	NetworkType   string
	NetworkSpeed  *float64
	MemoryTotal   *float64
	MemoryUsed    *float64
	CPUUsage      *float64
	CreatedAt     time.Time
}

// OperationLog is an audit entry.
type OperationLog struct {
	ID            int64
	UserID        int64
	DeviceID      *int64
	CommandID     string
	OperationType string
	Description   string
	IPAddress     string
	UserAgent     string
	CreatedAt     time.Time
}
