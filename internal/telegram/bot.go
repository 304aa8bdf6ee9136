package telegram

import (
	"context"
	"fmt"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/kirillm/riskgate/internal/domain"
	"github.com/kirillm/riskgate/pkg/utils"
)

const alertBuffer = 32

// botAPI часть tgbotapi.BotAPI, которую использует бот
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Bot шлет уведомления о срабатывании предохранителей и принимает команды операторов.
// Реализует breaker.Notifier; отправка идет в отдельной горутине, вызывающий не ждет сеть.
type Bot struct {
	api       botAPI
	chatID    int64
	logger    *utils.Logger
	formatter *Formatter
	router    *Router

	alertsMu sync.RWMutex
	alerts   chan string
	closed   bool
	wg       sync.WaitGroup
}

// NewBot авторизуется в Telegram и создает бота
func NewBot(token string, chatID int64, auth *AuthManager, lang Lang, logger *utils.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	logger.Info("Telegram bot authorized: @%s", api.Self.UserName)
	return newBot(api, chatID, auth, lang, logger), nil
}

func newBot(api botAPI, chatID int64, auth *AuthManager, lang Lang, logger *utils.Logger) *Bot {
	formatter := NewFormatter(lang)
	b := &Bot{
		api:       api,
		chatID:    chatID,
		logger:    logger.Named("telegram"),
		formatter: formatter,
		router:    NewRouter(auth, formatter),
		alerts:    make(chan string, alertBuffer),
	}
	b.wg.Add(1)
	go b.sendAlerts()
	return b
}

// NotifyTrigger отправляет уведомление о срабатывании
func (b *Bot) NotifyTrigger(record domain.TriggerRecord) {
	b.enqueue(b.formatter.FormatTrigger(record))
}

// NotifyReset отправляет уведомление о сбросе
func (b *Bot) NotifyReset(breakerType domain.BreakerType, operatorID string) {
	b.enqueue(b.formatter.FormatReset(breakerType, operatorID))
}

func (b *Bot) enqueue(text string) {
	b.alertsMu.RLock()
	defer b.alertsMu.RUnlock()

	if b.closed {
		b.logger.Warn("bot closed, dropping alert: %s", firstLine(text))
		return
	}
	select {
	case b.alerts <- text:
	default:
		b.logger.Error("alert buffer full, dropping: %s", firstLine(text))
	}
}

func (b *Bot) sendAlerts() {
	defer b.wg.Done()
	for text := range b.alerts {
		b.SendMessage(text)
	}
}

// Start обрабатывает команды до отмены ctx
func (b *Bot) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	defer b.api.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			// Проверяем, что сообщение из чата операторов
			if update.Message.Chat.ID != b.chatID {
				b.logger.Warn("Unauthorized access attempt from chat ID: %d", update.Message.Chat.ID)
				continue
			}
			b.handleMessage(ctx, update.Message)
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	var userID int64
	if message.From != nil {
		userID = message.From.ID
	}
	b.logger.Info("command from %d: %s", userID, message.Text)

	response, err := b.router.HandleCommand(ctx, userID, message.Text)
	if err != nil {
		b.logger.Error("command %q failed: %v", message.Text, err)
	}
	b.SendMessage(response)
}

// SendMessage отправляет сообщение в чат операторов
func (b *Bot) SendMessage(text string) {
	// Разбиваем длинные сообщения
	const maxLength = 4096
	for _, msg := range splitMessage(text, maxLength) {
		message := tgbotapi.NewMessage(b.chatID, msg)
		message.ParseMode = "Markdown"
		if _, err := b.api.Send(message); err != nil {
			b.logger.Error("Failed to send telegram message: %v", err)
		}
	}
}

// Close дожидается отправки накопленных уведомлений
func (b *Bot) Close() {
	b.alertsMu.Lock()
	if !b.closed {
		b.closed = true
		close(b.alerts)
	}
	b.alertsMu.Unlock()
	b.wg.Wait()
}

// splitMessage разбивает длинное сообщение на части по строкам
func splitMessage(text string, maxLength int) []string {
	if len(text) <= maxLength {
		return []string{text}
	}

	var messages []string
	current := ""
	for _, line := range strings.Split(text, "\n") {
		if current != "" && len(current)+len(line)+1 > maxLength {
			messages = append(messages, current)
			current = ""
		}
		if current != "" {
			current += "\n"
		}
		current += line
	}
	if current != "" {
		messages = append(messages, current)
	}
	return messages
}

func firstLine(text string) string {
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		return text[:i]
	}
	return text
}

// CleanupRateLimiters задача обслуживания для orchestrator
func (b *Bot) CleanupRateLimiters(ctx context.Context) error {
	b.router.authManager.CleanupRateLimiters()
	return nil
}
