// ai.go exposes the interpretation pipeline over HTTP, for operator
// tooling that wants the analysis without a chat surface.
package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/raedthawaba/teledroid/pkg/teledroid/interpret"
)

// handleAnalyze implements POST /api/v1/ai/analyze: runs a message
// through the pattern rules and the fallback and returns the resolved
// action without executing anything.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.interp == nil {
		s.writeError(w, "interpreter not configured", http.StatusServiceUnavailable)
		return
	}

	var req struct {
		Message string `json:"message"`
		Context string `json:"context"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Message == "" {
		s.writeError(w, "message is required", http.StatusBadRequest)
		return
	}

	action, err := s.interp.Interpret(r.Context(), req.Message, req.Context)
	if err != nil {
		var failure *interpret.Failure
		if errors.As(err, &failure) {
			s.writeJSON(w, http.StatusOK, map[string]any{
				"success": false,
				"error":   failure.Reason,
			})
			return
		}
		s.logger.Error("analysis failed", "error", err)
		s.writeError(w, "interpretation failed", http.StatusBadGateway)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"command_type": action.Category,
		"action":       action.Operation,
		"parameters":   action.Parameters,
		"description":  interpret.OperationDescription(action.Operation),
	})
}

// handleAIChat implements POST /api/v1/ai/chat: interprets a message
// on behalf of a chat user and returns a rendered reply alongside the
// resolved action. The caller decides whether to execute it.
func (s *Server) handleAIChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.interp == nil {
		s.writeError(w, "interpreter not configured", http.StatusServiceUnavailable)
		return
	}

	var req struct {
		Message string `json:"message"`
		ChatID  string `json:"chat_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Message == "" {
		s.writeError(w, "message is required", http.StatusBadRequest)
		return
	}

	action, err := s.interp.Interpret(r.Context(), req.Message, s.chatContext(req.ChatID))
	if err != nil {
		var failure *interpret.Failure
		if errors.As(err, &failure) {
			s.writeJSON(w, http.StatusOK, map[string]any{
				"success":  false,
				"response": "❌ " + failure.Reason,
				"action":   nil,
			})
			return
		}
		s.logger.Error("chat analysis failed", "error", err)
		s.writeError(w, "interpretation failed", http.StatusBadGateway)
		return
	}

	response := "✅ تم فهم الأمر"
	if desc := interpret.OperationDescription(action.Operation); desc != "" {
		response = "✅ " + desc
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"response": response,
		"action":   action,
	})
}

// chatContext summarizes the chat user's device for the fallback
// prompt; empty when the user or device is unknown.
func (s *Server) chatContext(chatID string) string {
	if chatID == "" {
		return ""
	}
	user, err := s.store.FindUserByChatID(chatID)
	if err != nil {
		return ""
	}
	devices, err := s.store.ListDevicesForUser(user.ID)
	if err != nil || len(devices) == 0 {
		return ""
	}
	device := devices[0]
	for _, d := range devices {
		if d.IsOnline {
			device = d
			break
		}
	}
	state := "غير متصل"
	if device.IsOnline {
		state = "متصل"
	}
	return fmt.Sprintf("جهاز المستخدم: %s (%s)، الحالة: %s", device.DeviceName, device.DeviceModel, state)
}
