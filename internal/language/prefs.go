package language

import (
	"context"
	"log/slog"
	"sync"

	"github.com/botfactory/botfactory/internal/database"
)

// PreferenceStore is the slice of the data layer the preference cache needs.
type PreferenceStore interface {
	GetParticipant(ctx context.Context, participantID int64) (*database.Participant, error)
	SaveParticipant(ctx context.Context, p *database.Participant) error
}

// Preferences resolves and persists per-participant language choices through
// a memory cache backed by the store. A missing preference resolves to "".
type Preferences struct {
	store  PreferenceStore
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[int64]string
}

// NewPreferences creates a preference cache over the given store.
func NewPreferences(store PreferenceStore, logger *slog.Logger) *Preferences {
	return &Preferences{
		store:  store,
		logger: logger.With("component", "language"),
		cache:  make(map[int64]string),
	}
}

// Get returns the stored language for a participant, or "" when none exists.
// Store errors degrade to "" so dispatch never stalls on a read failure.
func (p *Preferences) Get(ctx context.Context, participantID int64) string {
	p.mu.RLock()
	lang, ok := p.cache[participantID]
	p.mu.RUnlock()
	if ok {
		return lang
	}

	participant, err := p.store.GetParticipant(ctx, participantID)
	if err != nil {
		p.logger.WarnContext(ctx, "Failed to load participant language", "participant_id", participantID, "error", err)
		return ""
	}

	lang = ""
	if participant != nil {
		lang = participant.Language
	}

	p.mu.Lock()
	p.cache[participantID] = lang
	p.mu.Unlock()
	return lang
}

// Set persists a participant's language and updates the cache. The cache is
// updated even when persistence fails so the current session stays consistent.
func (p *Preferences) Set(ctx context.Context, participantID int64, username, firstName, lang string) error {
	p.mu.Lock()
	p.cache[participantID] = lang
	p.mu.Unlock()

	err := p.store.SaveParticipant(ctx, &database.Participant{
		ParticipantID: participantID,
		Username:      username,
		FirstName:     firstName,
		Language:      lang,
	})
	if err != nil {
		p.logger.WarnContext(ctx, "Failed to persist participant language",
			"participant_id", participantID, "language", lang, "error", err)
	}
	return err
}
