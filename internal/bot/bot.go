// Package bot serves scraped news over Telegram: a /news command with
// optional category and date filters, and inline-keyboard pagination.
package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/solovyov/newswire/internal/news"
)

// userDateLayout is the date format users type and see: dd.mm.yyyy.
const userDateLayout = "02.01.2006"

const defaultPageSize = 5

// client is the slice of the Telegram API the bot uses; *tgbotapi.BotAPI
// satisfies it.
type client interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(cfg tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
}

// Bot answers Telegram commands from the record store.
type Bot struct {
	api      client
	store    news.Store
	pageSize int
	logger   *zap.Logger
}

// New wires a Bot. pageSize <= 0 falls back to the default.
func New(api client, store news.Store, pageSize int, logger *zap.Logger) *Bot {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bot{
		api:      api,
		store:    store,
		pageSize: pageSize,
		logger:   logger.Named("bot"),
	}
}

// Run consumes updates until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	updates := b.api.GetUpdatesChan(tgbotapi.UpdateConfig{Timeout: 30})
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil && update.Message.IsCommand():
		b.handleCommand(ctx, update.Message)
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	switch msg.Command() {
	case "start":
		b.reply(chatID, "Привет! Я показываю новости университета.\nНаберите /news, чтобы начать, или /help для справки.")
	case "help":
		b.reply(chatID, helpText)
	case "news":
		filter, err := parseNewsArgs(msg.CommandArguments())
		if err != nil {
			b.reply(chatID, err.Error()+"\n\n"+helpText)
			return
		}
		b.sendPage(ctx, chatID, 0, filter)
	default:
		b.reply(chatID, "Неизвестная команда. Наберите /help для справки.")
	}
}

const helpText = `Как пользоваться:
/news — последние новости
/news <категория> — новости категории
/news <дата с> <дата по> — новости за период
/news <категория> <дата с> <дата по> — и то и другое

Даты в формате дд.мм.гггг, например 01.09.2025.`

// parseNewsArgs interprets the free-form arguments after /news.
// One argument is a category unless it parses as a date; two arguments
// are a date range; three are a category plus a range.
func parseNewsArgs(args string) (news.RecordFilter, error) {
	fields := strings.Fields(args)
	var filter news.RecordFilter
	switch len(fields) {
	case 0:
		return filter, nil
	case 1:
		if from, err := time.Parse(userDateLayout, fields[0]); err == nil {
			filter.From = from
			return filter, nil
		}
		filter.Category = fields[0]
		return filter, nil
	case 2:
		from, err := time.Parse(userDateLayout, fields[0])
		if err != nil {
			return filter, fmt.Errorf("не понимаю дату %q", fields[0])
		}
		to, err := time.Parse(userDateLayout, fields[1])
		if err != nil {
			return filter, fmt.Errorf("не понимаю дату %q", fields[1])
		}
		filter.From = from
		filter.To = endOfDay(to)
		return filter, nil
	case 3:
		from, err := time.Parse(userDateLayout, fields[1])
		if err != nil {
			return filter, fmt.Errorf("не понимаю дату %q", fields[1])
		}
		to, err := time.Parse(userDateLayout, fields[2])
		if err != nil {
			return filter, fmt.Errorf("не понимаю дату %q", fields[2])
		}
		filter.Category = fields[0]
		filter.From = from
		filter.To = endOfDay(to)
		return filter, nil
	default:
		return filter, fmt.Errorf("слишком много аргументов")
	}
}

func endOfDay(t time.Time) time.Time {
	return t.Add(24*time.Hour - time.Nanosecond)
}

// sendPage renders one page of results as a new message.
func (b *Bot) sendPage(ctx context.Context, chatID int64, offset int, filter news.RecordFilter) {
	text, keyboard, err := b.renderPage(ctx, offset, filter)
	if err != nil {
		b.logger.Error("page query failed", zap.Error(err))
		b.reply(chatID, "Не получилось достать новости, попробуйте позже.")
		return
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if keyboard != nil {
		msg.ReplyMarkup = *keyboard
	}
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("send failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

// handleCallback flips an existing message to another page.
func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	defer func() {
		if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
			b.logger.Warn("callback ack failed", zap.Error(err))
		}
	}()

	offset, filter, err := decodeCallback(cb.Data)
	if err != nil {
		b.logger.Warn("bad callback data", zap.String("data", cb.Data), zap.Error(err))
		return
	}
	if cb.Message == nil {
		return
	}

	text, keyboard, err := b.renderPage(ctx, offset, filter)
	if err != nil {
		b.logger.Error("page query failed", zap.Error(err))
		return
	}

	chatID := cb.Message.Chat.ID
	messageID := cb.Message.MessageID
	var edit tgbotapi.EditMessageTextConfig
	if keyboard != nil {
		edit = tgbotapi.NewEditMessageTextAndMarkup(chatID, messageID, text, *keyboard)
	} else {
		edit = tgbotapi.NewEditMessageText(chatID, messageID, text)
	}
	edit.ParseMode = tgbotapi.ModeHTML
	if _, err := b.api.Send(edit); err != nil {
		b.logger.Error("edit failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

// renderPage queries one page and formats it with its pagination
// keyboard. A nil keyboard means the whole result fits on one page.
func (b *Bot) renderPage(ctx context.Context, offset int, filter news.RecordFilter) (string, *tgbotapi.InlineKeyboardMarkup, error) {
	filter.Limit = b.pageSize
	filter.Offset = offset

	records, err := b.store.Query(ctx, filter)
	if err != nil {
		return "", nil, fmt.Errorf("query records: %w", err)
	}
	total, err := b.store.Count(ctx, filter)
	if err != nil {
		return "", nil, fmt.Errorf("count records: %w", err)
	}

	if total == 0 {
		return "Ничего не найдено.", nil, nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Новости %d–%d из %d\n\n", offset+1, offset+len(records), total)
	for _, rec := range records {
		sb.WriteString(formatRecord(rec))
		sb.WriteString("\n")
	}

	keyboard := b.pageKeyboard(offset, total, filter)
	return strings.TrimRight(sb.String(), "\n"), keyboard, nil
}

func formatRecord(rec news.NewsRecord) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "<b>%s</b>\n", escapeHTML(rec.Title))
	fmt.Fprintf(&sb, "%s, %s\n", escapeHTML(rec.Category), rec.PublishedAt.Format(userDateLayout))
	if rec.Summary != "" {
		fmt.Fprintf(&sb, "%s\n", escapeHTML(rec.Summary))
	}
	fmt.Fprintf(&sb, "%s\n", rec.URL)
	return sb.String()
}

func escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}

func (b *Bot) pageKeyboard(offset int, total int, filter news.RecordFilter) *tgbotapi.InlineKeyboardMarkup {
	var buttons []tgbotapi.InlineKeyboardButton
	if offset > 0 {
		prev := offset - b.pageSize
		if prev < 0 {
			prev = 0
		}
		buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData("⬅️ Назад", encodeCallback(prev, filter)))
	}
	if offset+b.pageSize < total {
		buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData("Вперёд ➡️", encodeCallback(offset+b.pageSize, filter)))
	}
	if len(buttons) == 0 {
		return nil
	}
	kb := tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(buttons...))
	return &kb
}

func (b *Bot) reply(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("send failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}
