// Package runtime manages live Telegram connections: one polling goroutine per
// active bot, plus the watchdog reconciling the registry against the store.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/botfactory/botfactory/internal/database"
	"github.com/botfactory/botfactory/internal/telegram"
)

const stopGracePeriod = 5 * time.Second

// HandlerFactory builds the event handler for one bot. The handler closes
// over the bot snapshot taken at start time.
type HandlerFactory func(bot *database.Bot) telegram.EventHandler

// instance is one running polling loop.
type instance struct {
	botID  int64
	conn   telegram.Connection
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager owns the registry of running bot connections. At most one
// connection exists per bot ID; Start and Stop are serialized per bot so a
// reconcile cycle racing an admin request cannot leak a second polling loop.
type Manager struct {
	dialer   telegram.Dialer
	store    database.Store
	handlers HandlerFactory
	logger   *slog.Logger

	mu        sync.Mutex
	instances map[int64]*instance
	locks     map[int64]*sync.Mutex
}

// NewManager creates a runtime manager. handlers is invoked once per Start to
// bind the dispatch pipeline to the bot's configuration snapshot.
func NewManager(dialer telegram.Dialer, store database.Store, handlers HandlerFactory, logger *slog.Logger) *Manager {
	return &Manager{
		dialer:    dialer,
		store:     store,
		handlers:  handlers,
		logger:    logger.With("component", "runtime"),
		instances: make(map[int64]*instance),
		locks:     make(map[int64]*sync.Mutex),
	}
}

// lockFor returns the mutex serializing Start and Stop for one bot ID.
// Entries are never removed; the platform hosts a bounded set of bots.
func (m *Manager) lockFor(botID int64) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[botID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[botID] = l
	}
	return l
}

// Start dials a connection for the bot and launches its polling loop. Any
// existing connection for the same bot ID is stopped first, so Start doubles
// as restart. An invalid token surfaces as an error; transient polling errors
// are retried inside the connection's loop.
func (m *Manager) Start(ctx context.Context, bot *database.Bot) error {
	if bot.TelegramToken == "" {
		return fmt.Errorf("bot %d has no telegram token", bot.ID)
	}

	// The whole stop/dial/register sequence holds the bot's lock: two
	// racing Starts must not both dial and strand a loop outside the
	// registry.
	l := m.lockFor(bot.ID)
	l.Lock()
	defer l.Unlock()

	// Idempotent restart: tear down the current occupant before dialing.
	if err := m.stopCurrent(ctx, bot.ID); err != nil {
		m.logger.WarnContext(ctx, "Failed to stop existing connection before restart",
			"bot_id", bot.ID, "error", err)
	}

	handler := m.handlers(bot)
	conn, err := m.dialer.Dial(ctx, bot.TelegramToken, handler)
	if err != nil {
		return fmt.Errorf("failed to dial telegram for bot %d: %w", bot.ID, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	inst := &instance{
		botID:  bot.ID,
		conn:   conn,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	m.mu.Lock()
	m.instances[bot.ID] = inst
	m.mu.Unlock()

	go func() {
		defer close(inst.done)
		m.logger.Info("Bot polling loop started",
			"bot_id", bot.ID, "bot_username", conn.Info().Username)

		conn.Start(loopCtx)

		m.logger.Info("Bot polling loop stopped", "bot_id", bot.ID)

		// Self-removal, but only while we are still the current occupant. A
		// restart may already have replaced this entry.
		m.mu.Lock()
		if current, ok := m.instances[bot.ID]; ok && current == inst {
			delete(m.instances, bot.ID)
		}
		m.mu.Unlock()
	}()

	return nil
}

// Stop cancels the bot's polling loop and waits for it to exit within the
// grace period. Stopping a bot that is not running is a no-op.
func (m *Manager) Stop(ctx context.Context, botID int64) error {
	l := m.lockFor(botID)
	l.Lock()
	defer l.Unlock()
	return m.stopCurrent(ctx, botID)
}

// stopCurrent removes and cancels the registered instance. Callers hold the
// bot's lock.
func (m *Manager) stopCurrent(ctx context.Context, botID int64) error {
	m.mu.Lock()
	inst, ok := m.instances[botID]
	if ok {
		delete(m.instances, botID)
	}
	m.mu.Unlock()

	if !ok {
		return nil
	}

	inst.cancel()

	select {
	case <-inst.done:
		return nil
	case <-time.After(stopGracePeriod):
		return fmt.Errorf("bot %d polling loop did not exit within %s", botID, stopGracePeriod)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsActive reports whether a connection is registered for the bot.
func (m *Manager) IsActive(botID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.instances[botID]
	return ok
}

// ListActive returns the IDs of all bots with a running connection.
func (m *Manager) ListActive() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]int64, 0, len(m.instances))
	for id := range m.instances {
		ids = append(ids, id)
	}
	return ids
}

// StopAll stops every running connection. Used during shutdown.
func (m *Manager) StopAll(ctx context.Context) {
	for _, id := range m.ListActive() {
		if err := m.Stop(ctx, id); err != nil {
			m.logger.WarnContext(ctx, "Failed to stop bot during shutdown", "bot_id", id, "error", err)
		}
	}
}

// Reconcile compares bots marked active in the store against the registry:
// it starts missing connections and stops orphans whose rows went inactive.
// Per-bot failures are logged and the cycle continues.
func (m *Manager) Reconcile(ctx context.Context) error {
	bots, err := m.store.ListBotsByStatus(ctx, database.BotStatusActive)
	if err != nil {
		return fmt.Errorf("failed to list active bots: %w", err)
	}

	wanted := make(map[int64]*database.Bot, len(bots))
	for i := range bots {
		wanted[bots[i].ID] = &bots[i]
	}

	started, stopped := 0, 0

	for id, bot := range wanted {
		if m.IsActive(id) {
			continue
		}
		if err := m.Start(ctx, bot); err != nil {
			m.logger.WarnContext(ctx, "Reconcile failed to start bot", "bot_id", id, "error", err)
			continue
		}
		started++
	}

	for _, id := range m.ListActive() {
		if _, ok := wanted[id]; ok {
			continue
		}
		if err := m.Stop(ctx, id); err != nil {
			m.logger.WarnContext(ctx, "Reconcile failed to stop orphan bot", "bot_id", id, "error", err)
			continue
		}
		stopped++
	}

	if started > 0 || stopped > 0 {
		m.logger.InfoContext(ctx, "Reconcile cycle adjusted runtime",
			"started", started, "stopped", stopped, "active", len(m.ListActive()))
	}
	return nil
}
