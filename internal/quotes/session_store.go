package quotes

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"shipping-rates-service/internal/models"
)

// SessionStore persists quote sessions with their absolute expiry. Select
// and MarkBooked are conditional updates: two near-simultaneous selection
// calls must not both win (no lost updates).
type SessionStore interface {
	Save(ctx context.Context, session *models.QuoteSession) error
	Get(ctx context.Context, tenantID string, id uuid.UUID) (*models.QuoteSession, error)
	Select(ctx context.Context, tenantID string, id, optionID uuid.UUID) error
	MarkBooked(ctx context.Context, tenantID string, id, optionID uuid.UUID) error
}

// --- Redis store ---

// selectScript performs the conditional selection atomically: the session
// must exist (not expired via TTL), must not be booked, and the option must
// be present.
var selectScript = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then return 'missing' end
local session = cjson.decode(raw)
if session.booked then return 'booked' end
if type(session.options) ~= 'table' then session.options = {} end
local found = false
for _, opt in ipairs(session.options) do
  if opt.id == ARGV[1] then found = true break end
end
if not found then return 'invalid_option' end
session.selectedOptionId = ARGV[1]
if ARGV[2] == '1' then session.booked = true end
local ttl = redis.call('PTTL', KEYS[1])
if ttl <= 0 then return 'missing' end
redis.call('SET', KEYS[1], cjson.encode(session), 'PX', ttl)
return 'ok'
`)

// RedisSessionStore keeps sessions in Redis with a TTL equal to the
// session's remaining lifetime, so expiry needs no sweeper.
type RedisSessionStore struct {
	client *redis.Client
}

// NewRedisSessionStore creates a Redis-backed session store
func NewRedisSessionStore(client *redis.Client) *RedisSessionStore {
	return &RedisSessionStore{client: client}
}

func sessionKey(tenantID string, id uuid.UUID) string {
	return fmt.Sprintf("quote:session:%s:%s", tenantID, id)
}

// Save stores the session until its absolute expiry
func (s *RedisSessionStore) Save(ctx context.Context, session *models.QuoteSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		return models.ErrSessionExpired
	}
	return s.client.Set(ctx, sessionKey(session.TenantID, session.ID), data, ttl).Err()
}

// Get loads a session; a missing key means expired or never created
func (s *RedisSessionStore) Get(ctx context.Context, tenantID string, id uuid.UUID) (*models.QuoteSession, error) {
	raw, err := s.client.Get(ctx, sessionKey(tenantID, id)).Bytes()
	if err == redis.Nil {
		return nil, models.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	var session models.QuoteSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &session, nil
}

// Select marks one option as selected, atomically
func (s *RedisSessionStore) Select(ctx context.Context, tenantID string, id, optionID uuid.UUID) error {
	return s.runSelect(ctx, tenantID, id, optionID, false)
}

// MarkBooked locks the selection and flags the session terminal
func (s *RedisSessionStore) MarkBooked(ctx context.Context, tenantID string, id, optionID uuid.UUID) error {
	return s.runSelect(ctx, tenantID, id, optionID, true)
}

func (s *RedisSessionStore) runSelect(ctx context.Context, tenantID string, id, optionID uuid.UUID, book bool) error {
	bookArg := "0"
	if book {
		bookArg = "1"
	}
	res, err := selectScript.Run(ctx, s.client, []string{sessionKey(tenantID, id)}, optionID.String(), bookArg).Text()
	if err != nil {
		return fmt.Errorf("select session option: %w", err)
	}
	switch res {
	case "ok":
		return nil
	case "missing":
		return models.ErrSessionNotFound
	case "booked":
		return models.ErrSessionBooked
	case "invalid_option":
		return models.ErrInvalidOption
	default:
		return fmt.Errorf("unexpected select result %q", res)
	}
}

// --- In-memory store ---

// MemorySessionStore is the fallback when Redis is unavailable and the test
// double. A single mutex makes every update conditional-atomic.
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]*models.QuoteSession
	now      func() time.Time
}

// NewMemorySessionStore creates an in-memory session store
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		sessions: make(map[string]*models.QuoteSession),
		now:      time.Now,
	}
}

// Save stores a copy of the session
func (s *MemorySessionStore) Save(ctx context.Context, session *models.QuoteSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *session
	s.sessions[sessionKey(session.TenantID, session.ID)] = &cp
	return nil
}

// Get loads a session, treating a passed expiry as not found
func (s *MemorySessionStore) Get(ctx context.Context, tenantID string, id uuid.UUID) (*models.QuoteSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionKey(tenantID, id)]
	if !ok {
		return nil, models.ErrSessionNotFound
	}
	if session.Expired(s.now()) {
		delete(s.sessions, sessionKey(tenantID, id))
		return nil, models.ErrSessionNotFound
	}
	cp := *session
	return &cp, nil
}

// Select marks one option as selected under the store lock
func (s *MemorySessionStore) Select(ctx context.Context, tenantID string, id, optionID uuid.UUID) error {
	return s.update(tenantID, id, optionID, false)
}

// MarkBooked locks the selection and flags the session terminal
func (s *MemorySessionStore) MarkBooked(ctx context.Context, tenantID string, id, optionID uuid.UUID) error {
	return s.update(tenantID, id, optionID, true)
}

func (s *MemorySessionStore) update(tenantID string, id, optionID uuid.UUID, book bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionKey(tenantID, id)]
	if !ok || session.Expired(s.now()) {
		return models.ErrSessionNotFound
	}
	if session.Booked {
		return models.ErrSessionBooked
	}
	if session.Option(optionID) == nil {
		return models.ErrInvalidOption
	}
	opt := optionID
	session.SelectedOptionID = &opt
	if book {
		session.Booked = true
	}
	return nil
}
