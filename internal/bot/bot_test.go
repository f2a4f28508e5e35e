package bot

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/solovyov/newswire/internal/news"
	storemem "github.com/solovyov/newswire/internal/storage/memory"
)

type fakeTelegram struct {
	mu      sync.Mutex
	sent    []tgbotapi.Chattable
	acks    int
	updates chan tgbotapi.Update
}

func newFakeTelegram() *fakeTelegram {
	return &fakeTelegram{updates: make(chan tgbotapi.Update, 8)}
}

func (f *fakeTelegram) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c)
	return tgbotapi.Message{MessageID: len(f.sent)}, nil
}

func (f *fakeTelegram) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := c.(tgbotapi.CallbackConfig); ok {
		f.acks++
	}
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeTelegram) GetUpdatesChan(_ tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return f.updates
}

func (f *fakeTelegram) lastMessage(t *testing.T) tgbotapi.MessageConfig {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.sent)
	msg, ok := f.sent[len(f.sent)-1].(tgbotapi.MessageConfig)
	require.True(t, ok, "last send was %T, want MessageConfig", f.sent[len(f.sent)-1])
	return msg
}

func (f *fakeTelegram) lastEdit(t *testing.T) tgbotapi.EditMessageTextConfig {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.sent)
	edit, ok := f.sent[len(f.sent)-1].(tgbotapi.EditMessageTextConfig)
	require.True(t, ok, "last send was %T, want EditMessageTextConfig", f.sent[len(f.sent)-1])
	return edit
}

// seededStore holds 8 science records published daily from May 1 and
// one sports record.
func seededStore(t *testing.T) *storemem.RecordStore {
	t.Helper()
	store := storemem.NewRecordStore()
	for i := 0; i < 8; i++ {
		url := fmt.Sprintf("https://news.example.org/science-%d/", i)
		require.NoError(t, store.Upsert(context.Background(), news.NewsRecord{
			ID:          news.RecordID(url),
			Title:       fmt.Sprintf("Научная новость %d", i),
			Category:    "Наука",
			PublishedAt: time.Date(2025, time.May, 1+i, 0, 0, 0, 0, time.UTC),
			Body:        "текст",
			URL:         url,
			ScrapedAt:   time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC),
		}))
	}
	require.NoError(t, store.Upsert(context.Background(), news.NewsRecord{
		ID:          news.RecordID("https://news.example.org/sport-1/"),
		Title:       "Спортивная новость",
		Category:    "Спорт",
		PublishedAt: time.Date(2025, time.May, 15, 0, 0, 0, 0, time.UTC),
		Body:        "текст",
		URL:         "https://news.example.org/sport-1/",
		ScrapedAt:   time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC),
	}))
	return store
}

func commandUpdate(text string) tgbotapi.Update {
	cmdLen := len(text)
	if i := indexOf(text, ' '); i > 0 {
		cmdLen = i
	}
	return tgbotapi.Update{
		Message: &tgbotapi.Message{
			Text: text,
			Chat: &tgbotapi.Chat{ID: 42},
			Entities: []tgbotapi.MessageEntity{
				{Type: "bot_command", Offset: 0, Length: cmdLen},
			},
		},
	}
}

func indexOf(s string, c byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == c {
			return i
		}
	}
	return -1
}

func callbackUpdate(data string) tgbotapi.Update {
	return tgbotapi.Update{
		CallbackQuery: &tgbotapi.CallbackQuery{
			ID:   "cb-1",
			Data: data,
			Message: &tgbotapi.Message{
				MessageID: 7,
				Chat:      &tgbotapi.Chat{ID: 42},
			},
		},
	}
}

func TestNewsCommandListsFirstPage(t *testing.T) {
	t.Parallel()
	tg := newFakeTelegram()
	b := New(tg, seededStore(t), 5, zap.NewNop())

	b.handleUpdate(context.Background(), commandUpdate("/news"))

	msg := tg.lastMessage(t)
	require.Contains(t, msg.Text, "Новости 1–5 из 9")
	require.Equal(t, tgbotapi.ModeHTML, msg.ParseMode)

	kb, ok := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok, "expected pagination keyboard")
	require.Len(t, kb.InlineKeyboard, 1)
	require.Len(t, kb.InlineKeyboard[0], 1) // next only on the first page
	require.Equal(t, "page_5_s:_sd:_ed:", *kb.InlineKeyboard[0][0].CallbackData)
}

func TestNewsCommandFiltersByCategory(t *testing.T) {
	t.Parallel()
	tg := newFakeTelegram()
	b := New(tg, seededStore(t), 5, zap.NewNop())

	b.handleUpdate(context.Background(), commandUpdate("/news Спорт"))

	msg := tg.lastMessage(t)
	require.Contains(t, msg.Text, "Новости 1–1 из 1")
	require.Contains(t, msg.Text, "Спортивная новость")
	require.Nil(t, msg.ReplyMarkup) // one page, no keyboard
}

func TestNewsCommandFiltersByDateRange(t *testing.T) {
	t.Parallel()
	tg := newFakeTelegram()
	b := New(tg, seededStore(t), 10, zap.NewNop())

	b.handleUpdate(context.Background(), commandUpdate("/news 03.05.2025 05.05.2025"))

	msg := tg.lastMessage(t)
	require.Contains(t, msg.Text, "из 3")
	require.NotContains(t, msg.Text, "Спортивная")
}

func TestNewsCommandCategoryAndDates(t *testing.T) {
	t.Parallel()
	tg := newFakeTelegram()
	b := New(tg, seededStore(t), 10, zap.NewNop())

	b.handleUpdate(context.Background(), commandUpdate("/news Наука 01.05.2025 31.05.2025"))

	msg := tg.lastMessage(t)
	require.Contains(t, msg.Text, "из 8")
}

func TestNewsCommandRejectsBadDate(t *testing.T) {
	t.Parallel()
	tg := newFakeTelegram()
	b := New(tg, seededStore(t), 5, zap.NewNop())

	b.handleUpdate(context.Background(), commandUpdate("/news 2025-05-03 2025-05-05"))

	msg := tg.lastMessage(t)
	require.Contains(t, msg.Text, "не понимаю дату")
	require.Contains(t, msg.Text, "дд.мм.гггг")
}

func TestNewsCommandEmptyResult(t *testing.T) {
	t.Parallel()
	tg := newFakeTelegram()
	b := New(tg, seededStore(t), 5, zap.NewNop())

	b.handleUpdate(context.Background(), commandUpdate("/news Культура"))

	msg := tg.lastMessage(t)
	require.Contains(t, msg.Text, "Ничего не найдено")
}

func TestCallbackFlipsPage(t *testing.T) {
	t.Parallel()
	tg := newFakeTelegram()
	b := New(tg, seededStore(t), 5, zap.NewNop())

	b.handleUpdate(context.Background(), callbackUpdate("page_5_s:_sd:_ed:"))

	edit := tg.lastEdit(t)
	require.Contains(t, edit.Text, "Новости 6–9 из 9")
	require.NotNil(t, edit.ReplyMarkup)
	require.Len(t, edit.ReplyMarkup.InlineKeyboard[0], 1) // back only on the last page
	require.Equal(t, "page_0_s:_sd:_ed:", *edit.ReplyMarkup.InlineKeyboard[0][0].CallbackData)

	tg.mu.Lock()
	defer tg.mu.Unlock()
	require.Equal(t, 1, tg.acks)
}

func TestCallbackKeepsFilters(t *testing.T) {
	t.Parallel()
	tg := newFakeTelegram()
	b := New(tg, seededStore(t), 3, zap.NewNop())

	b.handleUpdate(context.Background(), callbackUpdate("page_3_s:Наука_sd:01.05.2025_ed:31.05.2025"))

	edit := tg.lastEdit(t)
	require.Contains(t, edit.Text, "Новости 4–6 из 8")
	require.NotContains(t, edit.Text, "Спортивная")
}

func TestCallbackIgnoresGarbage(t *testing.T) {
	t.Parallel()
	tg := newFakeTelegram()
	b := New(tg, seededStore(t), 5, zap.NewNop())

	b.handleUpdate(context.Background(), callbackUpdate("nonsense"))

	tg.mu.Lock()
	defer tg.mu.Unlock()
	require.Empty(t, tg.sent)  // nothing edited
	require.Equal(t, 1, tg.acks) // still acknowledged
}

func TestStartAndHelp(t *testing.T) {
	t.Parallel()
	tg := newFakeTelegram()
	b := New(tg, seededStore(t), 5, zap.NewNop())

	b.handleUpdate(context.Background(), commandUpdate("/start"))
	require.Contains(t, tg.lastMessage(t).Text, "/news")

	b.handleUpdate(context.Background(), commandUpdate("/help"))
	require.Contains(t, tg.lastMessage(t).Text, "дд.мм.гггг")
}

func TestRunStopsOnContextCancel(t *testing.T) {
	t.Parallel()
	tg := newFakeTelegram()
	b := New(tg, seededStore(t), 5, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	tg.updates <- commandUpdate("/news")
	require.Eventually(t, func() bool {
		tg.mu.Lock()
		defer tg.mu.Unlock()
		return len(tg.sent) > 0
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("bot did not stop on cancel")
	}
}

func TestCallbackRoundTrip(t *testing.T) {
	t.Parallel()
	filter := news.RecordFilter{
		Category: "Наука",
		From:     time.Date(2025, time.May, 1, 0, 0, 0, 0, time.UTC),
		To:       endOfDay(time.Date(2025, time.May, 31, 0, 0, 0, 0, time.UTC)),
	}

	data := encodeCallback(15, filter)
	offset, decoded, err := decodeCallback(data)
	require.NoError(t, err)
	require.Equal(t, 15, offset)
	require.Equal(t, filter.Category, decoded.Category)
	require.True(t, filter.From.Equal(decoded.From))
	require.True(t, filter.To.Equal(decoded.To))
}

func TestDecodeCallbackRejectsMalformed(t *testing.T) {
	t.Parallel()
	for _, data := range []string{
		"",
		"page_",
		"page_x_s:_sd:_ed:",
		"page_-1_s:_sd:_ed:",
		"page_5_s:_sd:99.99.9999_ed:",
	} {
		_, _, err := decodeCallback(data)
		require.Error(t, err, "data %q", data)
	}
}
