package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/raedthawaba/teledroid/pkg/teledroid/command"
	"github.com/raedthawaba/teledroid/pkg/teledroid/interpret"
	"github.com/raedthawaba/teledroid/pkg/teledroid/scheduler"
	"github.com/raedthawaba/teledroid/pkg/teledroid/store"
)

const version = "1.0.0"

// errorResponse is the consistent error format.
type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	var resp errorResponse
	resp.Error.Message = msg
	resp.Error.Code = code
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// handleHealth implements GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	resp := map[string]any{
		"status":  "ok",
		"version": version,
		"uptime":  time.Since(s.startedAt).Round(time.Second).String(),
	}
	if s.chans != nil {
		health := map[string]any{}
		for name, h := range s.chans.HealthAll() {
			health[name] = map[string]any{
				"connected":   h.Connected,
				"error_count": h.ErrorCount,
			}
		}
		resp["channels"] = health
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleRegisterUser implements POST /api/v1/users/register.
// Get-or-create behind the whitelist.
func (s *Server) handleRegisterUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		ChatID    string `json:"chat_id"`
		Username  string `json:"username"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ChatID == "" {
		s.writeError(w, "chat_id is required", http.StatusBadRequest)
		return
	}
	if !s.authorizer.IsAuthorized(req.ChatID) {
		s.writeError(w, "user is not allowed", http.StatusForbidden)
		return
	}
	user, err := s.store.UpsertUser(req.ChatID, req.Username, req.FirstName, req.LastName)
	if err != nil {
		s.writeError(w, "registering user failed", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"id":      user.ID,
		"chat_id": user.ChatID,
	})
}

// handleListDevices implements GET /api/v1/devices?user_id=.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil {
		s.writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}
	devices, err := s.store.ListDevicesForUser(userID)
	if err != nil {
		s.writeError(w, "listing devices failed", http.StatusInternalServerError)
		return
	}
	out := make([]map[string]any, 0, len(devices))
	for _, d := range devices {
		out = append(out, deviceJSON(d))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"devices": out})
}

// handleUnlinkDevices implements POST /api/v1/devices/unlink: bulk
// removal of a user's devices and their tokens in one transaction.
func (s *Server) handleUnlinkDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		UserID int64 `json:"user_id"`
	}
	if err := decodeBody(r, &req); err != nil || req.UserID == 0 {
		s.writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}
	removed, err := s.store.UnlinkDevicesForUser(req.UserID)
	if err != nil {
		s.writeError(w, "unlinking devices failed", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}

// handleLinkDevice implements POST /api/v1/devices/link. The OTP is
// the credential; a successful redemption mints the device token.
func (s *Server) handleLinkDevice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		DeviceID       string `json:"device_id"`
		OTPCode        string `json:"otp_code"`
		DeviceName     string `json:"device_name"`
		DeviceModel    string `json:"device_model"`
		AndroidVersion string `json:"android_version"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.DeviceID == "" || req.OTPCode == "" {
		s.writeError(w, "device_id and otp_code are required", http.StatusBadRequest)
		return
	}

	token, userID, err := s.tokens.RedeemOTP(req.DeviceID, req.OTPCode)
	if err != nil {
		s.writeError(w, "invalid or expired code", http.StatusUnauthorized)
		return
	}
	device, err := s.store.LinkDevice(userID, req.DeviceID, req.DeviceName, req.DeviceModel, req.AndroidVersion)
	if err != nil {
		s.writeError(w, "linking device failed", http.StatusInternalServerError)
		return
	}

	s.logger.Info("device linked", "device_id", device.DeviceID, "user_id", userID)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"token":   token,
		"user_id": userID,
		"device":  deviceJSON(device),
	})
}

// handleHeartbeat implements POST /api/v1/devices/heartbeat.
func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request, device *store.Device) {
	if r.Method != http.MethodPost {
		s.writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		PushToken string `json:"push_token"`
	}
	if r.ContentLength > 0 {
		if err := decodeBody(r, &req); err != nil {
			s.writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}
	if err := s.store.TouchDevice(device.DeviceID, req.PushToken); err != nil {
		s.writeError(w, "heartbeat failed", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handlePendingCommands implements GET /api/v1/commands/pending.
// Delivery is at-least-once: the same command may be returned until
// the device settles it.
func (s *Server) handlePendingCommands(w http.ResponseWriter, r *http.Request, device *store.Device) {
	if r.Method != http.MethodGet {
		s.writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	pending, err := s.commands.ListPending(device.ID)
	if err != nil {
		s.writeError(w, "listing commands failed", http.StatusInternalServerError)
		return
	}
	out := make([]map[string]any, 0, len(pending))
	for _, c := range pending {
		out = append(out, map[string]any{
			"id":           c.ID,
			"command_type": c.CommandType,
			"action":       c.Action,
			"parameters":   c.Parameters,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"commands": out})
}

// handleCommandResult implements POST /api/v1/commands/result. Only
// the first settlement of a command takes effect.
func (s *Server) handleCommandResult(w http.ResponseWriter, r *http.Request, device *store.Device) {
	if r.Method != http.MethodPost {
		s.writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		CommandID    string         `json:"command_id"`
		Status       string         `json:"status"`
		Result       map[string]any `json:"result"`
		ErrorMessage string         `json:"error_message"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.CommandID == "" {
		s.writeError(w, "command_id is required", http.StatusBadRequest)
		return
	}
	if req.Status != store.StatusCompleted && req.Status != store.StatusFailed {
		s.writeError(w, "status must be completed or failed", http.StatusBadRequest)
		return
	}

	applied, err := s.commands.Settle(req.CommandID, command.Outcome{
		Success: req.Status == store.StatusCompleted,
		Result:  req.Result,
		Detail:  req.ErrorMessage,
	})
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, "command not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.writeError(w, "settling command failed", http.StatusInternalServerError)
		return
	}
	if applied && s.onSettled != nil {
		s.onSettled(req.CommandID)
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleExecuteCommand implements POST /api/v1/commands/execute for
// operators submitting structured commands directly.
func (s *Server) handleExecuteCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		UserID      int64             `json:"user_id"`
		DeviceID    string            `json:"device_id"`
		CommandType string            `json:"command_type"`
		Action      string            `json:"action"`
		Parameters  map[string]string `json:"parameters"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == 0 || req.Action == "" {
		s.writeError(w, "user_id and action are required", http.StatusBadRequest)
		return
	}
	category, ok := interpret.KnownOperation(req.Action)
	if !ok {
		s.writeError(w, "unknown action", http.StatusBadRequest)
		return
	}
	if req.CommandType == "" {
		req.CommandType = category
	}

	var deviceRow *int64
	var device *store.Device
	if req.DeviceID != "" {
		var err error
		device, err = s.store.FindDeviceByDeviceID(req.DeviceID)
		if err != nil {
			s.writeError(w, "device not found", http.StatusNotFound)
			return
		}
		deviceRow = &device.ID
	}

	cmd, err := s.commands.Submit(req.UserID, deviceRow, &interpret.Action{
		Category:   req.CommandType,
		Operation:  req.Action,
		Parameters: req.Parameters,
		Origin:     interpret.OriginDirect,
	})
	switch {
	case err == nil:
	case errors.Is(err, command.ErrForbidden):
		s.writeError(w, "device does not belong to user", http.StatusForbidden)
		return
	case errors.Is(err, store.ErrNotFound):
		s.writeError(w, "user or device not found", http.StatusNotFound)
		return
	default:
		var verr *interpret.ValidationError
		if errors.As(err, &verr) {
			s.writeError(w, verr.Error(), http.StatusBadRequest)
			return
		}
		s.writeError(w, "submitting command failed", http.StatusInternalServerError)
		return
	}

	if device != nil {
		s.NudgeDevice(device.DeviceID)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"id":     cmd.ID,
		"status": cmd.Status,
	})
}

// handleScheduledTasks implements GET and POST /api/v1/scheduled-tasks.
func (s *Server) handleScheduledTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listScheduledTasks(w, r)
	case http.MethodPost:
		s.createScheduledTask(w, r)
	default:
		s.writeError(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) listScheduledTasks(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("device_id")
	if deviceID == "" {
		s.writeError(w, "device_id is required", http.StatusBadRequest)
		return
	}
	device, err := s.store.FindDeviceByDeviceID(deviceID)
	if err != nil {
		s.writeError(w, "device not found", http.StatusNotFound)
		return
	}
	tasks, err := s.store.ListScheduledTasks(device.ID)
	if err != nil {
		s.writeError(w, "listing tasks failed", http.StatusInternalServerError)
		return
	}
	out := make([]map[string]any, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, taskJSON(t))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"tasks": out})
}

func (s *Server) createScheduledTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceID     string            `json:"device_id"`
		Name         string            `json:"name"`
		CommandType  string            `json:"command_type"`
		Action       string            `json:"action"`
		Parameters   map[string]string `json:"parameters"`
		ScheduleKind string            `json:"schedule_kind"`
		ScheduleExpr string            `json:"schedule_expr"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.DeviceID == "" || req.Name == "" || req.Action == "" {
		s.writeError(w, "device_id, name, and action are required", http.StatusBadRequest)
		return
	}
	category, ok := interpret.KnownOperation(req.Action)
	if !ok {
		s.writeError(w, "unknown action", http.StatusBadRequest)
		return
	}
	if req.CommandType == "" {
		req.CommandType = category
	}

	device, err := s.store.FindDeviceByDeviceID(req.DeviceID)
	if err != nil {
		s.writeError(w, "device not found", http.StatusNotFound)
		return
	}

	next, err := scheduler.FirstRun(req.ScheduleKind, req.ScheduleExpr, time.Now())
	if err != nil {
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	task, err := s.store.CreateScheduledTask(&store.ScheduledTask{
		DeviceID:     device.ID,
		Name:         req.Name,
		CommandType:  req.CommandType,
		Action:       req.Action,
		Parameters:   req.Parameters,
		ScheduleKind: req.ScheduleKind,
		ScheduleExpr: req.ScheduleExpr,
		IsActive:     true,
		NextRun:      next,
	})
	if err != nil {
		s.writeError(w, "creating task failed", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, taskJSON(task))
}

// handleIngestStats implements POST /api/v1/stats.
func (s *Server) handleIngestStats(w http.ResponseWriter, r *http.Request, device *store.Device) {
	if r.Method != http.MethodPost {
		s.writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		BatteryLevel  *int     `json:"battery_level"`
		BatteryStatus string   `json:"battery_status"`
		StorageTotal  *float64 `json:"storage_total"`
		StorageUsed   *float64 `json:"storage_used"`
		NetworkType   string   `json:"network_type"`
		NetworkSpeed  *float64 `json:"network_speed"`
		MemoryTotal   *float64 `json:"memory_total"`
		MemoryUsed    *float64 `json:"memory_used"`
		CPUUsage      *float64 `json:"cpu_usage"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	err := s.store.RecordStats(&store.DeviceStats{
		DeviceID:      device.DeviceID,
		BatteryLevel:  req.BatteryLevel,
		BatteryStatus: req.BatteryStatus,
		StorageTotal:  req.StorageTotal,
		StorageUsed:   req.StorageUsed,
		NetworkType:   req.NetworkType,
		NetworkSpeed:  req.NetworkSpeed,
		MemoryTotal:   req.MemoryTotal,
		MemoryUsed:    req.MemoryUsed,
		CPUUsage:      req.CPUUsage,
	})
	if err != nil {
		s.writeError(w, "recording stats failed", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleLatestStats implements GET /api/v1/stats/{device_id}.
func (s *Server) handleLatestStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	deviceID := strings.TrimPrefix(r.URL.Path, "/api/v1/stats/")
	if deviceID == "" {
		s.writeError(w, "device id required", http.StatusBadRequest)
		return
	}
	stats, err := s.store.LatestStats(deviceID)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, "no stats for device", http.StatusNotFound)
		return
	}
	if err != nil {
		s.writeError(w, "reading stats failed", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"device_id":      stats.DeviceID,
		"battery_level":  stats.BatteryLevel,
		"battery_status": stats.BatteryStatus,
		"storage_total":  stats.StorageTotal,
		"storage_used":   stats.StorageUsed,
		"network_type":   stats.NetworkType,
		"network_speed":  stats.NetworkSpeed,
		"memory_total":   stats.MemoryTotal,
		"memory_used":    stats.MemoryUsed,
		"cpu_usage":      stats.CPUUsage,
		"created_at":     stats.CreatedAt,
	})
}

// handleLogs implements GET /api/v1/logs?user_id=&limit=.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil {
		s.writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 50
	}
	logs, err := s.store.ListLogsForUser(userID, limit)
	if err != nil {
		s.writeError(w, "listing logs failed", http.StatusInternalServerError)
		return
	}
	out := make([]map[string]any, 0, len(logs))
	for _, l := range logs {
		out = append(out, map[string]any{
			"id":             l.ID,
			"operation_type": l.OperationType,
			"description":    l.Description,
			"command_id":     l.CommandID,
			"created_at":     l.CreatedAt,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"logs": out})
}

func deviceJSON(d *store.Device) map[string]any {
	return map[string]any{
		"id":              d.ID,
		"device_id":       d.DeviceID,
		"device_name":     d.DeviceName,
		"device_model":    d.DeviceModel,
		"android_version": d.AndroidVersion,
		"is_online":       d.IsOnline,
		"last_seen":       d.LastSeen,
	}
}

func taskJSON(t *store.ScheduledTask) map[string]any {
	return map[string]any{
		"id":            t.ID,
		"name":          t.Name,
		"command_type":  t.CommandType,
		"action":        t.Action,
		"parameters":    t.Parameters,
		"schedule_kind": t.ScheduleKind,
		"schedule_expr": t.ScheduleExpr,
		"is_active":     t.IsActive,
		"last_run":      t.LastRun,
		"next_run":      t.NextRun,
	}
}
