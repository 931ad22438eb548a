package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/botfactory/botfactory/internal/database"
	"github.com/botfactory/botfactory/internal/gemini"
	"github.com/botfactory/botfactory/internal/language"
	"github.com/botfactory/botfactory/internal/telegram"
	"github.com/botfactory/botfactory/internal/work"
)

type pipelineStore struct {
	database.Store

	mu            sync.Mutex
	saveErr       error
	participants  map[int64]*database.Participant
	conversations map[[2]int64]*database.Conversation
	knowledge     []database.KnowledgeEntry
	exchanges     int
	statsCalls    int
	newUsers      int
	nextConvID    int64
}

func newPipelineStore() *pipelineStore {
	return &pipelineStore{
		participants:  make(map[int64]*database.Participant),
		conversations: make(map[[2]int64]*database.Conversation),
	}
}

func (s *pipelineStore) GetParticipant(_ context.Context, id int64) (*database.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.participants[id], nil
}

func (s *pipelineStore) SaveParticipant(_ context.Context, p *database.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.participants[p.ParticipantID] = p
	return nil
}

func (s *pipelineStore) HasConversation(_ context.Context, botID, participantID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.conversations[[2]int64{botID, participantID}]
	return ok, nil
}

func (s *pipelineStore) UpsertConversation(_ context.Context, conv *database.Conversation) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := [2]int64{conv.BotID, conv.ParticipantID}
	if existing, ok := s.conversations[key]; ok {
		conv.ID = existing.ID
		return false, nil
	}
	s.nextConvID++
	conv.ID = s.nextConvID
	s.conversations[key] = conv
	return true, nil
}

func (s *pipelineStore) GetKnowledgeEntries(context.Context, int64) ([]database.KnowledgeEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.knowledge, nil
}

func (s *pipelineStore) SaveExchange(context.Context, int64, string, string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exchanges++
	return nil
}

func (s *pipelineStore) IncrementBotStats(_ context.Context, _ int64, newUser bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statsCalls++
	if newUser {
		s.newUsers++
	}
	return nil
}

type fakeAI struct {
	gemini.Client

	mu    sync.Mutex
	reply string
	err   error
	calls []gemini.ReplyRequest
}

func (a *fakeAI) GenerateReply(_ context.Context, req gemini.ReplyRequest) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, req)
	return a.reply, a.err
}

func (a *fakeAI) ClassifySentiment(context.Context, string) string {
	return "positive"
}

type recordingSender struct {
	mu    sync.Mutex
	sends []telegram.SendParams
}

func (s *recordingSender) Send(_ context.Context, params telegram.SendParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sends = append(s.sends, params)
	return nil
}

func (s *recordingSender) sent() []telegram.SendParams {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]telegram.SendParams(nil), s.sends...)
}

func (s *recordingSender) toChat(chatID int64) []telegram.SendParams {
	var out []telegram.SendParams
	for _, p := range s.sent() {
		if p.ChatID == chatID {
			out = append(out, p)
		}
	}
	return out
}

type testPipeline struct {
	pipeline *Pipeline
	store    *pipelineStore
	ai       *fakeAI
	exec     *work.Executor
}

func newTestPipeline(t *testing.T) *testPipeline {
	t.Helper()

	store := newPipelineStore()
	ai := &fakeAI{reply: "AI answer"}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	exec := work.NewExecutor(logger)
	prefs := language.NewPreferences(store, logger)

	return &testPipeline{
		pipeline: NewPipeline(store, ai, prefs, language.NewDetector(), exec, logger, time.Second),
		store:    store,
		ai:       ai,
		exec:     exec,
	}
}

func (tp *testPipeline) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := tp.exec.Wait(ctx); err != nil {
		t.Fatalf("drain: %v", err)
	}
}

var testBot = &database.Bot{
	ID:           1,
	Name:         "ShopBot",
	SystemPrompt: "You are a sales assistant.",
	AdminChatID:  500,
}

func TestFirstContactAsksForLanguage(t *testing.T) {
	t.Parallel()

	tp := newTestPipeline(t)
	sender := &recordingSender{}
	handler := tp.pipeline.HandlerFor(testBot)

	handler(context.Background(), sender, telegram.Event{
		ParticipantID: 10, ChatID: 100, FirstName: "Ann", Text: "hello",
	})
	tp.drain(t)

	sends := sender.toChat(100)
	if len(sends) != 1 {
		t.Fatalf("sends = %d, want 1", len(sends))
	}
	if !strings.Contains(sends[0].Text, "Tilni tanlang") {
		t.Errorf("expected language prompt, got %q", sends[0].Text)
	}
	if len(sends[0].Buttons) != 3 {
		t.Errorf("keyboard rows = %d, want 3", len(sends[0].Buttons))
	}
	if len(tp.ai.calls) != 0 {
		t.Errorf("AI must not be called on first contact, got %d calls", len(tp.ai.calls))
	}
}

func TestStartForNewUserNotifiesAdmin(t *testing.T) {
	t.Parallel()

	tp := newTestPipeline(t)
	sender := &recordingSender{}
	handler := tp.pipeline.HandlerFor(testBot)

	handler(context.Background(), sender, telegram.Event{
		ParticipantID: 11, ChatID: 110, FirstName: "Bob", Username: "bob", Text: "/start",
	})
	tp.drain(t)

	if sends := sender.toChat(110); len(sends) != 1 || !strings.Contains(sends[0].Text, "Tilni tanlang") {
		t.Errorf("expected language prompt for new user, got %+v", sends)
	}
	adminSends := sender.toChat(500)
	if len(adminSends) != 1 || !strings.Contains(adminSends[0].Text, "Yangi foydalanuvchi") {
		t.Errorf("expected new-user admin notification, got %+v", adminSends)
	}
	if tp.store.newUsers != 1 {
		t.Errorf("newUsers = %d, want 1", tp.store.newUsers)
	}
}

func TestStartForKnownUserOffersLanguageChange(t *testing.T) {
	t.Parallel()

	tp := newTestPipeline(t)
	tp.store.participants[12] = &database.Participant{ParticipantID: 12, Language: language.Russian}
	sender := &recordingSender{}
	handler := tp.pipeline.HandlerFor(testBot)

	handler(context.Background(), sender, telegram.Event{
		ParticipantID: 12, ChatID: 120, FirstName: "Eva", Text: "/start",
	})
	tp.drain(t)

	sends := sender.toChat(120)
	if len(sends) != 1 {
		t.Fatalf("sends = %d, want 1", len(sends))
	}
	if !strings.Contains(sends[0].Text, "Привет Eva") {
		t.Errorf("expected russian welcome, got %q", sends[0].Text)
	}
	if len(sends[0].Buttons) != 1 || sends[0].Buttons[0][0].CallbackData != callbackChangeLanguage {
		t.Errorf("expected change-language button, got %+v", sends[0].Buttons)
	}
}

func TestLanguageCallbackPersistsAndConfirms(t *testing.T) {
	t.Parallel()

	tp := newTestPipeline(t)
	sender := &recordingSender{}
	handler := tp.pipeline.HandlerFor(testBot)

	handler(context.Background(), sender, telegram.Event{
		ParticipantID: 13, ChatID: 130, FirstName: "Lev", Username: "lev", CallbackData: "lang_ru",
	})
	tp.drain(t)

	if p := tp.store.participants[13]; p == nil || p.Language != language.Russian {
		t.Errorf("preference not persisted: %+v", p)
	}
	if ok, _ := tp.store.HasConversation(context.Background(), testBot.ID, 13); !ok {
		t.Error("conversation not established by language selection")
	}
	sends := sender.toChat(130)
	if len(sends) != 1 || !strings.Contains(sends[0].Text, "Выбор сделан") {
		t.Errorf("expected russian confirmation, got %+v", sends)
	}
}

func TestLanguageCallbackStoreFailureSendsError(t *testing.T) {
	t.Parallel()

	tp := newTestPipeline(t)
	tp.store.saveErr = errors.New("disk full")
	sender := &recordingSender{}
	handler := tp.pipeline.HandlerFor(testBot)

	handler(context.Background(), sender, telegram.Event{
		ParticipantID: 18, ChatID: 180, FirstName: "Uma", CallbackData: "lang_en",
	})
	tp.drain(t)

	sends := sender.toChat(180)
	if len(sends) != 1 || !strings.Contains(sends[0].Text, "an error occurred") {
		t.Errorf("expected localized error reply, got %+v", sends)
	}
	// No confirmation and no conversation for a selection that was lost.
	if ok, _ := tp.store.HasConversation(context.Background(), testBot.ID, 18); ok {
		t.Error("conversation must not be established when the selection fails")
	}
}

func TestMessageExchangeWithStoredPreference(t *testing.T) {
	t.Parallel()

	tp := newTestPipeline(t)
	tp.store.participants[14] = &database.Participant{ParticipantID: 14, Language: language.English}
	sender := &recordingSender{}
	handler := tp.pipeline.HandlerFor(testBot)

	handler(context.Background(), sender, telegram.Event{
		ParticipantID: 14, ChatID: 140, FirstName: "Kim", Text: "what do you sell?",
	})
	tp.drain(t)

	if len(tp.ai.calls) != 1 {
		t.Fatalf("AI calls = %d, want 1", len(tp.ai.calls))
	}
	req := tp.ai.calls[0]
	if req.Language != language.English || req.UserText != "what do you sell?" {
		t.Errorf("unexpected AI request: %+v", req)
	}

	sends := sender.toChat(140)
	if len(sends) != 1 || sends[0].Text != "AI answer" {
		t.Errorf("expected AI reply, got %+v", sends)
	}
	if tp.store.exchanges != 1 {
		t.Errorf("exchanges = %d, want 1", tp.store.exchanges)
	}
	if tp.store.statsCalls != 1 || tp.store.newUsers != 1 {
		t.Errorf("stats = (%d calls, %d new), want (1, 1)", tp.store.statsCalls, tp.store.newUsers)
	}

	// Admin hears about the exchange, including the sentiment label.
	adminSends := sender.toChat(500)
	if len(adminSends) != 1 || !strings.Contains(adminSends[0].Text, "AI answer") {
		t.Errorf("expected admin exchange notification, got %+v", adminSends)
	}
	if len(adminSends) == 1 && !strings.Contains(adminSends[0].Text, "positive") {
		t.Errorf("expected sentiment in admin notification, got %q", adminSends[0].Text)
	}
}

func TestAIFailureFallsBackLocalized(t *testing.T) {
	t.Parallel()

	tp := newTestPipeline(t)
	tp.ai.err = errors.New("backend down")
	tp.ai.reply = ""
	tp.store.participants[15] = &database.Participant{ParticipantID: 15, Language: language.Russian}
	sender := &recordingSender{}
	handler := tp.pipeline.HandlerFor(testBot)

	handler(context.Background(), sender, telegram.Event{
		ParticipantID: 15, ChatID: 150, Text: "вопрос",
	})
	tp.drain(t)

	sends := sender.toChat(150)
	if len(sends) != 1 || !strings.Contains(sends[0].Text, "Извините") {
		t.Errorf("expected russian fallback, got %+v", sends)
	}
	// The failed exchange is still persisted with the fallback reply.
	if tp.store.exchanges != 1 {
		t.Errorf("exchanges = %d, want 1", tp.store.exchanges)
	}
}

func TestMediaIntentAttachesImage(t *testing.T) {
	t.Parallel()

	tp := newTestPipeline(t)
	tp.store.participants[16] = &database.Participant{ParticipantID: 16, Language: language.English}
	tp.store.knowledge = []database.KnowledgeEntry{
		{Title: "Helmet", Content: "Safety first"},
		{Title: "Mountain Bike", Content: "A sturdy bicycle", ImageURL: "https://example.com/bike.jpg", ImageCaption: "Red bike"},
	}
	sender := &recordingSender{}
	handler := tp.pipeline.HandlerFor(testBot)

	handler(context.Background(), sender, telegram.Event{
		ParticipantID: 16, ChatID: 160, Text: "show me the mountain bike",
	})
	tp.drain(t)

	sends := sender.toChat(160)
	if len(sends) != 1 {
		t.Fatalf("sends = %d, want 1", len(sends))
	}
	if sends[0].MediaURL != "https://example.com/bike.jpg" || sends[0].MediaCaption != "Red bike" {
		t.Errorf("expected media attachment, got %+v", sends[0])
	}
}

func TestPlainQuestionDoesNotAttachMedia(t *testing.T) {
	t.Parallel()

	tp := newTestPipeline(t)
	tp.store.participants[17] = &database.Participant{ParticipantID: 17, Language: language.English}
	tp.store.knowledge = []database.KnowledgeEntry{
		{Title: "Mountain Bike", Content: "A sturdy bicycle", ImageURL: "https://example.com/bike.jpg"},
	}
	sender := &recordingSender{}
	handler := tp.pipeline.HandlerFor(testBot)

	handler(context.Background(), sender, telegram.Event{
		ParticipantID: 17, ChatID: 170, Text: "how much is the mountain bike?",
	})
	tp.drain(t)

	sends := sender.toChat(170)
	if len(sends) != 1 || sends[0].MediaURL != "" {
		t.Errorf("expected no media without show-me intent, got %+v", sends)
	}
}
