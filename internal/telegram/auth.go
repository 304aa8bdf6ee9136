package telegram

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// AuthManager управляет правами операторов и rate limiting
type AuthManager struct {
	adminIDs        map[int64]bool
	whitelist       map[int64]bool
	rateLimiters    map[int64]*RateLimiter
	mu              sync.RWMutex
	enableWhitelist bool
	now             func() time.Time
}

// RateLimiter ограничивает частоту команд от пользователя (token bucket)
type RateLimiter struct {
	limiter     *rate.Limiter
	lastRequest time.Time
}

// NewAuthManager создает менеджер авторизации из списков ID через запятую
func NewAuthManager(adminIDsStr, whitelistStr string) *AuthManager {
	am := &AuthManager{
		adminIDs:     parseIDs(adminIDsStr),
		whitelist:    parseIDs(whitelistStr),
		rateLimiters: make(map[int64]*RateLimiter),
		now:          time.Now,
	}
	am.enableWhitelist = strings.TrimSpace(whitelistStr) != ""
	return am
}

func parseIDs(s string) map[int64]bool {
	ids := make(map[int64]bool)
	for _, idStr := range strings.Split(s, ",") {
		idStr = strings.TrimSpace(idStr)
		if idStr == "" {
			continue
		}
		if id, err := strconv.ParseInt(idStr, 10, 64); err == nil {
			ids[id] = true
		}
	}
	return ids
}

// IsAdmin проверяет, может ли пользователь сбрасывать предохранители.
// Пустой список админов означает, что админы все допущенные пользователи.
func (am *AuthManager) IsAdmin(userID int64) bool {
	am.mu.RLock()
	defer am.mu.RUnlock()

	if len(am.adminIDs) == 0 {
		return true
	}
	return am.adminIDs[userID]
}

// IsAllowed проверяет, разрешен ли доступ пользователю
func (am *AuthManager) IsAllowed(userID int64) bool {
	am.mu.RLock()
	defer am.mu.RUnlock()

	if !am.enableWhitelist {
		return true
	}
	// Админы всегда разрешены
	if am.adminIDs[userID] {
		return true
	}
	return am.whitelist[userID]
}

// RequireAdmin возвращает ошибку, если пользователь не администратор
func (am *AuthManager) RequireAdmin(userID int64) error {
	if !am.IsAdmin(userID) {
		return fmt.Errorf("access denied: admin permission required")
	}
	return nil
}

// CheckRateLimit проверяет rate limit для пользователя
func (am *AuthManager) CheckRateLimit(userID int64, maxRequestsPerSecond int) error {
	am.mu.Lock()
	defer am.mu.Unlock()

	limit := rate.Limit(maxRequestsPerSecond)
	limiter, exists := am.rateLimiters[userID]
	if !exists || limiter.limiter.Limit() != limit {
		limiter = &RateLimiter{limiter: rate.NewLimiter(limit, maxRequestsPerSecond)}
		am.rateLimiters[userID] = limiter
	}

	now := am.now()
	limiter.lastRequest = now
	if !limiter.limiter.AllowN(now, 1) {
		waitTime := time.Second / time.Duration(maxRequestsPerSecond)
		return fmt.Errorf("rate limit exceeded, please wait %v", waitTime.Round(time.Millisecond))
	}
	return nil
}

// CleanupRateLimiters очищает неактивные rate limiters (вызывать периодически)
func (am *AuthManager) CleanupRateLimiters() {
	am.mu.Lock()
	defer am.mu.Unlock()

	now := am.now()
	for userID, limiter := range am.rateLimiters {
		if now.Sub(limiter.lastRequest) > 5*time.Minute {
			delete(am.rateLimiters, userID)
		}
	}
}
