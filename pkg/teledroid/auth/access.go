// Package auth covers who may talk to the bot (chat whitelist) and
// how devices prove themselves (linking OTPs and device tokens).
package auth

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/raedthawaba/teledroid/pkg/teledroid/config"
)

// Authorizer is the access-policy capability the bot consults before
// handling a message. An empty whitelist allows everyone; a non-empty
// one allows only the listed chat IDs.
type Authorizer struct {
	logger *slog.Logger

	mu      sync.RWMutex
	allowed map[string]struct{}
	open    bool
}

// NewAuthorizer builds the policy from config.
func NewAuthorizer(cfg config.AccessConfig, logger *slog.Logger) *Authorizer {
	a := &Authorizer{
		logger:  logger.With("component", "access"),
		allowed: make(map[string]struct{}, len(cfg.AllowedUsers)),
		open:    len(cfg.AllowedUsers) == 0,
	}
	for _, id := range cfg.AllowedUsers {
		id = strings.TrimSpace(id)
		if id != "" {
			a.allowed[id] = struct{}{}
		}
	}

	a.logger.Info("access policy initialized",
		"whitelisted", len(a.allowed),
		"open", a.open,
	)
	return a
}

// IsAuthorized reports whether a chat ID may use the bot.
func (a *Authorizer) IsAuthorized(chatID string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.open {
		return true
	}
	_, ok := a.allowed[strings.TrimSpace(chatID)]
	return ok
}

// Grant adds a chat ID at runtime. Granting on an open policy closes
// it to the explicit list.
func (a *Authorizer) Grant(chatID string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.allowed[strings.TrimSpace(chatID)] = struct{}{}
	a.open = false
	a.logger.Info("access granted", "chat_id", chatID)
}

// Revoke removes a chat ID at runtime.
func (a *Authorizer) Revoke(chatID string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.allowed, strings.TrimSpace(chatID))
	a.logger.Info("access revoked", "chat_id", chatID)
}
