package attempt

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/roach88/capgate/internal/boundedcache"
)

// Default bounds for a Tracker.
const (
	DefaultTerminalTTLMs = 5 * 60 * 1000
	DefaultReadyTTLMs    = 30 * 60 * 1000
	DefaultMaxAttempts   = 512
)

// Attempt is one capture cycle.
type Attempt struct {
	ID              string `json:"attempt_id"`
	Platform        string `json:"platform"`
	ConversationID  string `json:"conversation_id,omitempty"`
	Phase           Phase  `json:"phase"`
	CreatedAtMs     int64  `json:"created_at_ms"`
	LastUpdatedAtMs int64  `json:"last_updated_at_ms"`
}

// CreateParams describes a new attempt. Phase defaults to idle and
// ConversationID may be empty when not yet known.
type CreateParams struct {
	AttemptID      string
	Platform       string
	ConversationID string
	Phase          Phase
	TimestampMs    int64
}

// Config bounds the tracker's memory.
type Config struct {
	// TerminalTTLMs is how long superseded/disposed attempts are retained.
	TerminalTTLMs int64
	// ReadyTTLMs is how long a captured_ready attempt may go without an
	// update before it counts as timed out and becomes purgeable.
	// Zero disables the timeout.
	ReadyTTLMs int64
	// MaxAttempts caps the table. At the cap the oldest terminal attempt
	// goes first, then the oldest attempt by update time.
	MaxAttempts int
}

// DefaultConfig returns the production bounds.
func DefaultConfig() Config {
	return Config{
		TerminalTTLMs: DefaultTerminalTTLMs,
		ReadyTTLMs:    DefaultReadyTTLMs,
		MaxAttempts:   DefaultMaxAttempts,
	}
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) {
		if l != nil {
			t.logger = l
		}
	}
}

type conversationKey struct {
	platform       string
	conversationID string
}

// Tracker owns attempt records.
//
// Thread-safety: all methods are safe for concurrent use.
type Tracker struct {
	mu       sync.Mutex
	cfg      Config
	logger   *slog.Logger
	attempts *boundedcache.Cache[string, *Attempt]
	active   map[conversationKey]string // (platform, conversation) → attempt id
}

// NewTracker creates a tracker with the given bounds.
func NewTracker(cfg Config, opts ...Option) *Tracker {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	t := &Tracker{
		cfg:    cfg,
		logger: slog.Default(),
		active: make(map[conversationKey]string),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.attempts = boundedcache.New(cfg.MaxAttempts,
		boundedcache.WithOnEvict(func(id string, a *Attempt) {
			t.unindex(a)
			t.logger.Debug("attempt evicted at capacity",
				"attempt_id", id,
				"phase", a.Phase,
				"event", "attempt_evicted",
			)
		}),
	)
	return t
}

// Create registers an attempt, or returns the existing one unchanged when
// the id is already known. The second return value reports whether a new
// attempt was created.
func (t *Tracker) Create(p CreateParams) (Attempt, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.purgeExpired(p.TimestampMs)

	if existing, ok := t.attempts.Get(p.AttemptID); ok {
		return *existing, false
	}

	phase := p.Phase
	if phase == "" || !phase.Valid() || phase.Terminal() {
		phase = PhaseIdle
	}

	a := &Attempt{
		ID:              p.AttemptID,
		Platform:        p.Platform,
		ConversationID:  p.ConversationID,
		Phase:           phase,
		CreatedAtMs:     p.TimestampMs,
		LastUpdatedAtMs: p.TimestampMs,
	}
	if a.ConversationID != "" {
		t.supersedeActive(conversationKey{a.Platform, a.ConversationID}, a.ID, p.TimestampMs)
	}
	if t.attempts.Len() >= t.cfg.MaxAttempts {
		t.evictForRoom()
	}
	t.attempts.Set(a.ID, a)
	if a.ConversationID != "" {
		t.active[conversationKey{a.Platform, a.ConversationID}] = a.ID
	}

	t.logger.Debug("attempt created",
		"attempt_id", a.ID,
		"platform", a.Platform,
		"conversation_id", a.ConversationID,
		"phase", a.Phase,
	)
	return *a, true
}

// Get returns the attempt with the given id.
func (t *Tracker) Get(attemptID string) (Attempt, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	a, ok := t.attempts.Get(attemptID)
	if !ok {
		return Attempt{}, false
	}
	return *a, true
}

// ActiveByConversationID returns the non-terminal attempts bound to
// conversationID on any platform, ordered by attempt id.
func (t *Tracker) ActiveByConversationID(conversationID string) []Attempt {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []Attempt
	for key, id := range t.active {
		if key.conversationID != conversationID {
			continue
		}
		a, ok := t.attempts.Get(id)
		if !ok || a.Phase.Terminal() {
			continue
		}
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Advance moves a non-terminal attempt forward to phase. Backward moves and
// moves into terminal phases are ignored; use Dispose for the latter.
// Returns the attempt as it stands after the call.
func (t *Tracker) Advance(attemptID string, phase Phase, timestampMs int64) (Attempt, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	a, ok := t.attempts.Get(attemptID)
	if !ok {
		return Attempt{}, false
	}
	if a.Phase.Terminal() || phase.Terminal() {
		return *a, true
	}
	to, known := rank[phase]
	if !known || to <= rank[a.Phase] {
		return *a, true
	}

	a.Phase = phase
	t.bump(a, timestampMs)
	return *a, true
}

// BindConversation attaches a conversation id learned after creation.
// Any other active attempt for the same (platform, conversation) is
// superseded. Terminal attempts are never rebound.
func (t *Tracker) BindConversation(attemptID, conversationID string, timestampMs int64) (Attempt, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	a, ok := t.attempts.Get(attemptID)
	if !ok {
		return Attempt{}, false
	}
	if conversationID == "" || a.Phase.Terminal() || a.ConversationID == conversationID {
		return *a, true
	}

	t.unindex(a)
	key := conversationKey{a.Platform, conversationID}
	t.supersedeActive(key, a.ID, timestampMs)
	a.ConversationID = conversationID
	t.active[key] = a.ID
	t.bump(a, timestampMs)
	return *a, true
}

// Dispose forces an attempt to disposed. Returns false if the attempt is
// unknown or already disposed.
func (t *Tracker) Dispose(attemptID string, timestampMs int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	a, ok := t.attempts.Get(attemptID)
	if !ok || a.Phase == PhaseDisposed {
		return false
	}
	t.disposeLocked(a, timestampMs)
	return true
}

// DisposeAllForRouteChange disposes every in-flight (prompt_sent or
// streaming) attempt and returns their ids in sorted order. Captured
// attempts keep their data across navigation and are left alone.
func (t *Tracker) DisposeAllForRouteChange(timestampMs int64) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var inFlight []*Attempt
	t.attempts.Range(func(_ string, a *Attempt) bool {
		if a.Phase.InFlight() {
			inFlight = append(inFlight, a)
		}
		return true
	})

	ids := make([]string, 0, len(inFlight))
	for _, a := range inFlight {
		t.disposeLocked(a, timestampMs)
		ids = append(ids, a.ID)
	}
	sort.Strings(ids)
	if len(ids) > 0 {
		t.logger.Info("attempts disposed for route change",
			"count", len(ids),
			"event", "route_change",
		)
	}
	return ids
}

// Len returns the number of retained attempts, terminal ones included.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempts.Len()
}

func (t *Tracker) disposeLocked(a *Attempt, timestampMs int64) {
	t.unindex(a)
	a.Phase = PhaseDisposed
	t.bump(a, timestampMs)
}

// supersedeActive marks the current active attempt for key superseded,
// unless it is keepID.
func (t *Tracker) supersedeActive(key conversationKey, keepID string, timestampMs int64) {
	prevID, ok := t.active[key]
	if !ok || prevID == keepID {
		return
	}
	delete(t.active, key)

	prev, ok := t.attempts.Get(prevID)
	if !ok || prev.Phase.Terminal() {
		return
	}
	prev.Phase = PhaseSuperseded
	t.bump(prev, timestampMs)

	t.logger.Info("attempt superseded",
		"attempt_id", prevID,
		"superseded_by", keepID,
		"platform", key.platform,
		"conversation_id", key.conversationID,
		"event", "attempt_superseded",
	)
}

// unindex drops a from the active index if it is the indexed attempt.
func (t *Tracker) unindex(a *Attempt) {
	if a.ConversationID == "" {
		return
	}
	key := conversationKey{a.Platform, a.ConversationID}
	if t.active[key] == a.ID {
		delete(t.active, key)
	}
}

// bump advances LastUpdatedAtMs without letting it move backwards and
// refreshes the attempt's recency.
func (t *Tracker) bump(a *Attempt, timestampMs int64) {
	if timestampMs > a.LastUpdatedAtMs {
		a.LastUpdatedAtMs = timestampMs
	}
	t.attempts.Touch(a.ID)
}

// purgeExpired removes terminal attempts older than the terminal TTL and
// captured_ready attempts that have timed out.
func (t *Tracker) purgeExpired(nowMs int64) {
	t.attempts.Range(func(id string, a *Attempt) bool {
		age := nowMs - a.LastUpdatedAtMs
		expired := false
		switch {
		case a.Phase.Terminal():
			expired = age > t.cfg.TerminalTTLMs
		case a.Phase == PhaseCapturedReady && t.cfg.ReadyTTLMs > 0:
			expired = age > t.cfg.ReadyTTLMs
		}
		if expired {
			t.unindex(a)
			t.attempts.Delete(id)
		}
		return true
	})
}

// evictForRoom drops one attempt to make room for an insert: the terminal
// attempt with the oldest update, or the oldest attempt when none is
// terminal. Ties go to the least recently used.
func (t *Tracker) evictForRoom() {
	var oldestTerminal, oldest *Attempt
	t.attempts.Range(func(_ string, a *Attempt) bool {
		if oldest == nil || a.LastUpdatedAtMs < oldest.LastUpdatedAtMs {
			oldest = a
		}
		if a.Phase.Terminal() && (oldestTerminal == nil || a.LastUpdatedAtMs < oldestTerminal.LastUpdatedAtMs) {
			oldestTerminal = a
		}
		return true
	})

	victim := oldestTerminal
	if victim == nil {
		victim = oldest
	}
	if victim == nil {
		return
	}
	t.unindex(victim)
	t.attempts.Delete(victim.ID)
	t.logger.Debug("attempt evicted at capacity",
		"attempt_id", victim.ID,
		"phase", victim.Phase,
		"event", "attempt_evicted",
	)
}
