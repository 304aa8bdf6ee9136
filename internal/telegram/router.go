package telegram

import (
	"context"
	"fmt"
)

// CommandHandler обработчик команды оператора
type CommandHandler func(ctx context.Context, userID int64, args *CommandArgs) (string, error)

// Router маршрутизирует команды к обработчикам
type Router struct {
	handlers      map[string]CommandHandler
	authManager   *AuthManager
	formatter     *Formatter
	adminCommands map[string]bool
}

// NewRouter создает новый роутер
func NewRouter(authManager *AuthManager, formatter *Formatter) *Router {
	return &Router{
		handlers:      make(map[string]CommandHandler),
		authManager:   authManager,
		formatter:     formatter,
		adminCommands: make(map[string]bool),
	}
}

// RegisterHandler регистрирует обработчик команды
func (r *Router) RegisterHandler(command string, handler CommandHandler) {
	r.handlers[command] = handler
}

// RegisterAdminHandler регистрирует обработчик с требованием админских прав
func (r *Router) RegisterAdminHandler(command string, handler CommandHandler) {
	r.adminCommands[command] = true
	r.handlers[command] = handler
}

// HandleCommand обрабатывает команду и возвращает текст ответа.
// Ошибка возвращается только при сбое обработчика; ответ в этом случае уже отформатирован.
func (r *Router) HandleCommand(ctx context.Context, userID int64, text string) (string, error) {
	if err := r.authManager.CheckRateLimit(userID, 2); err != nil {
		return r.formatter.FormatError(err), nil
	}

	if !r.authManager.IsAllowed(userID) {
		return r.formatter.T("access_denied"), nil
	}

	args, err := ParseCommand(text)
	if err != nil {
		return r.formatter.FormatError(err), nil
	}

	if r.adminCommands[args.Command] {
		if err := r.authManager.RequireAdmin(userID); err != nil {
			return r.formatter.T("admin_required"), nil
		}
	}

	handler, exists := r.handlers[args.Command]
	if !exists {
		return fmt.Sprintf("%s: %s", r.formatter.T("error"), "unknown command"), nil
	}

	response, err := handler(ctx, userID, args)
	if err != nil {
		return r.formatter.FormatError(err), err
	}
	return response, nil
}

// IsAdminCommand проверяет, является ли команда админской
func (r *Router) IsAdminCommand(command string) bool {
	return r.adminCommands[command]
}
