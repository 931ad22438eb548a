package lifecycle

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/botfactory/botfactory/internal/database"
	"github.com/botfactory/botfactory/internal/telegram"
)

type lifecycleStore struct {
	database.Store

	ending  []database.ExpiringSubscription
	expired []database.ExpiringSubscription
	bots    map[int64][]database.Bot
	chats   map[int64][]int64

	events              []*database.NotificationEvent
	deactivatedSubs     []int64
	deactivatedTenants  []int64
	runningIDsPerTenant map[int64][]int64
}

func newLifecycleStore() *lifecycleStore {
	return &lifecycleStore{
		bots:                make(map[int64][]database.Bot),
		chats:               make(map[int64][]int64),
		runningIDsPerTenant: make(map[int64][]int64),
	}
}

func (s *lifecycleStore) ListSubscriptionsEndingBetween(_ context.Context, from, to time.Time) ([]database.ExpiringSubscription, error) {
	var out []database.ExpiringSubscription
	for _, sub := range s.ending {
		if sub.EndDate.Valid && !sub.EndDate.Time.Before(from) && !sub.EndDate.Time.After(to) {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (s *lifecycleStore) ListExpiredSubscriptions(_ context.Context, asOf time.Time) ([]database.ExpiringSubscription, error) {
	var out []database.ExpiringSubscription
	for _, sub := range s.expired {
		if sub.EndDate.Valid && sub.EndDate.Time.Before(asOf) {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (s *lifecycleStore) HasNotificationEventOn(_ context.Context, tenantID int64, eventType string, day time.Time) (bool, error) {
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	for _, ev := range s.events {
		if ev.TenantID == tenantID && ev.EventType == eventType && !ev.CreatedAt.Before(dayStart) {
			return true, nil
		}
	}
	return false, nil
}

func (s *lifecycleStore) SaveNotificationEvent(_ context.Context, ev *database.NotificationEvent) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *lifecycleStore) ListActiveTenantBots(_ context.Context, tenantID int64) ([]database.Bot, error) {
	return s.bots[tenantID], nil
}

func (s *lifecycleStore) ListConversationChatIDs(_ context.Context, botID int64) ([]int64, error) {
	return s.chats[botID], nil
}

func (s *lifecycleStore) DeactivateSubscription(_ context.Context, tenantID int64) error {
	s.deactivatedSubs = append(s.deactivatedSubs, tenantID)
	return nil
}

func (s *lifecycleStore) DeactivateTenantBots(_ context.Context, tenantID int64) ([]int64, error) {
	s.deactivatedTenants = append(s.deactivatedTenants, tenantID)
	return s.runningIDsPerTenant[tenantID], nil
}

type lifecycleSend struct {
	Token  string
	ChatID int64
	Text   string
}

type lifecycleSender struct {
	sends    []lifecycleSend
	failAll  bool
	failChat int64
}

func (s *lifecycleSender) SendWithToken(_ context.Context, token string, params telegram.SendParams) error {
	if s.failAll || (s.failChat != 0 && params.ChatID == s.failChat) {
		return errors.New("delivery failed")
	}
	s.sends = append(s.sends, lifecycleSend{Token: token, ChatID: params.ChatID, Text: params.Text})
	return nil
}

type recordingStopper struct {
	stopped []int64
}

func (s *recordingStopper) Stop(_ context.Context, botID int64) error {
	s.stopped = append(s.stopped, botID)
	return nil
}

func newTestNotifier(store *lifecycleStore, sender *lifecycleSender, stopper *recordingStopper) *Notifier {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewNotifier(store, sender, stopper, rate.NewLimiter(rate.Inf, 1), logger)
}

func endingAt(tenantID int64, tier, lang string, endDate time.Time) database.ExpiringSubscription {
	return database.ExpiringSubscription{
		SubscriptionID: tenantID,
		TenantID:       tenantID,
		Tier:           tier,
		EndDate:        sql.NullTime{Time: endDate, Valid: true},
		TenantLanguage: lang,
	}
}

func TestSweepSendsTrialReminder(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	store := newLifecycleStore()
	store.ending = []database.ExpiringSubscription{
		endingAt(1, database.TierFree, "uz", now.Add(72*time.Hour)),
		endingAt(2, database.TierFree, "ru", now.Add(12*time.Hour)), // outside the window
	}
	store.bots[1] = []database.Bot{{ID: 10, TenantID: 1, TelegramToken: "tok-1"}}
	store.chats[10] = []int64{100, 101}

	sender := &lifecycleSender{}
	stopper := &recordingStopper{}
	n := newTestNotifier(store, sender, stopper)

	if err := n.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	if len(store.events) != 1 {
		t.Fatalf("events = %d, want 1", len(store.events))
	}
	ev := store.events[0]
	if ev.TenantID != 1 || ev.EventType != database.EventTrialExpiringSoon {
		t.Errorf("event = %+v, want trial reminder for tenant 1", ev)
	}
	if !strings.Contains(ev.MessageText, "3 kun") {
		t.Errorf("expected uzbek reminder text, got %q", ev.MessageText)
	}
	if len(sender.sends) != 2 {
		t.Errorf("sends = %d, want one per chat", len(sender.sends))
	}
	if len(stopper.stopped) != 0 {
		t.Errorf("reminder must not stop bots, stopped %v", stopper.stopped)
	}
}

func TestSweepSendsPaidReminderNotTrialWindow(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	store := newLifecycleStore()
	store.ending = []database.ExpiringSubscription{
		// Paid subscription inside the trial's 3-day window must not fire.
		endingAt(1, database.TierBasic, "ru", now.Add(72*time.Hour)),
		endingAt(2, database.TierPremium, "en", now.Add(24*time.Hour)),
	}
	store.bots[2] = []database.Bot{{ID: 20, TenantID: 2, TelegramToken: "tok-2"}}
	store.chats[20] = []int64{200}

	sender := &lifecycleSender{}
	n := newTestNotifier(store, sender, &recordingStopper{})

	if err := n.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	if len(store.events) != 1 {
		t.Fatalf("events = %d, want 1", len(store.events))
	}
	ev := store.events[0]
	if ev.TenantID != 2 || ev.EventType != database.EventPaidExpiringSoon {
		t.Errorf("event = %+v, want paid reminder for tenant 2", ev)
	}
	if !strings.Contains(ev.MessageText, "expires tomorrow") {
		t.Errorf("expected english reminder text, got %q", ev.MessageText)
	}
}

func TestSweepIsIdempotentPerDay(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	store := newLifecycleStore()
	store.ending = []database.ExpiringSubscription{
		endingAt(1, database.TierFree, "uz", now.Add(72*time.Hour)),
	}
	store.bots[1] = []database.Bot{{ID: 10, TenantID: 1, TelegramToken: "tok-1"}}
	store.chats[10] = []int64{100}

	sender := &lifecycleSender{}
	n := newTestNotifier(store, sender, &recordingStopper{})
	ctx := context.Background()

	if err := n.Sweep(ctx); err != nil {
		t.Fatalf("first Sweep: %v", err)
	}
	if err := n.Sweep(ctx); err != nil {
		t.Fatalf("second Sweep: %v", err)
	}

	if len(store.events) != 1 {
		t.Errorf("events = %d, want 1 after repeated sweeps", len(store.events))
	}
	if len(sender.sends) != 1 {
		t.Errorf("sends = %d, want 1 after repeated sweeps", len(sender.sends))
	}
}

func TestSweepExpiredTrialStopsBotsKeepsSubscription(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	store := newLifecycleStore()
	store.expired = []database.ExpiringSubscription{
		endingAt(1, database.TierFree, "ru", now.Add(-time.Hour)),
	}
	store.bots[1] = []database.Bot{{ID: 10, TenantID: 1, TelegramToken: "tok-1"}}
	store.chats[10] = []int64{100}
	store.runningIDsPerTenant[1] = []int64{10}

	sender := &lifecycleSender{}
	stopper := &recordingStopper{}
	n := newTestNotifier(store, sender, stopper)

	if err := n.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	if len(store.events) != 1 || store.events[0].EventType != database.EventTrialExpired {
		t.Fatalf("events = %+v, want one trial-expired event", store.events)
	}
	if len(store.deactivatedTenants) != 1 || store.deactivatedTenants[0] != 1 {
		t.Errorf("deactivated tenants = %v, want [1]", store.deactivatedTenants)
	}
	if len(stopper.stopped) != 1 || stopper.stopped[0] != 10 {
		t.Errorf("stopped = %v, want [10]", stopper.stopped)
	}
	// An expired trial keeps its subscription row active so an upgrade
	// reactivates in place.
	if len(store.deactivatedSubs) != 0 {
		t.Errorf("deactivated subscriptions = %v, want none", store.deactivatedSubs)
	}
}

func TestSweepExpiredPaidDeactivatesSubscription(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	store := newLifecycleStore()
	store.expired = []database.ExpiringSubscription{
		endingAt(2, database.TierPremium, "en", now.Add(-24*time.Hour)),
	}
	store.bots[2] = []database.Bot{{ID: 20, TenantID: 2, TelegramToken: "tok-2"}}
	store.chats[20] = []int64{200}
	store.runningIDsPerTenant[2] = []int64{20}

	sender := &lifecycleSender{}
	stopper := &recordingStopper{}
	n := newTestNotifier(store, sender, stopper)

	if err := n.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	if len(store.events) != 1 || store.events[0].EventType != database.EventPaidExpired {
		t.Fatalf("events = %+v, want one subscription-expired event", store.events)
	}
	if len(store.deactivatedSubs) != 1 || store.deactivatedSubs[0] != 2 {
		t.Errorf("deactivated subscriptions = %v, want [2]", store.deactivatedSubs)
	}
	if len(stopper.stopped) != 1 || stopper.stopped[0] != 20 {
		t.Errorf("stopped = %v, want [20]", stopper.stopped)
	}
}

func TestSweepRecordsDeliveryFailure(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	store := newLifecycleStore()
	store.ending = []database.ExpiringSubscription{
		endingAt(1, database.TierFree, "uz", now.Add(72*time.Hour)),
	}
	store.bots[1] = []database.Bot{{ID: 10, TenantID: 1, TelegramToken: "tok-1"}}
	store.chats[10] = []int64{100}

	sender := &lifecycleSender{failAll: true}
	n := newTestNotifier(store, sender, &recordingStopper{})

	if err := n.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	if len(store.events) != 1 {
		t.Fatalf("events = %d, want 1", len(store.events))
	}
	if store.events[0].ErrorMessage == "" {
		t.Error("undeliverable notification must record an error message")
	}
	if !store.events[0].IsSent {
		t.Error("event is still recorded as processed")
	}
}

func TestSweepTenantWithoutBots(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	store := newLifecycleStore()
	store.ending = []database.ExpiringSubscription{
		endingAt(1, database.TierFree, "uz", now.Add(72*time.Hour)),
	}

	sender := &lifecycleSender{}
	n := newTestNotifier(store, sender, &recordingStopper{})

	if err := n.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	if len(store.events) != 1 {
		t.Fatalf("events = %d, want 1", len(store.events))
	}
	if store.events[0].ErrorMessage != "no active bots found" {
		t.Errorf("error message = %q, want no-bots marker", store.events[0].ErrorMessage)
	}
	if len(sender.sends) != 0 {
		t.Errorf("sends = %d, want 0", len(sender.sends))
	}
}
