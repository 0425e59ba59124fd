package store

import (
	"sort"
	"sync"
	"time"

	"giftpool/pkg/domain"
)

// MemoryStore keeps records in-process. It applies the same compare-and-set
// semantics as the Postgres store so lifecycle tests behave identically.
type MemoryStore struct {
	mu       sync.Mutex
	users    map[string]domain.User
	email    map[string]string // email -> user ID
	gifts    map[string]domain.Gift
	order    []string // gift insertion order
	openings []domain.GiftOpening
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users: make(map[string]domain.User),
		email: make(map[string]string),
		gifts: make(map[string]domain.Gift),
	}
}

// SaveUser registers a user.
func (m *MemoryStore) SaveUser(u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	m.email[u.Email] = u.ID
	return nil
}

// GetUserByEmail looks up a user by email.
func (m *MemoryStore) GetUserByEmail(email string) (domain.User, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.email[email]
	if !ok {
		return domain.User{}, false, nil
	}
	u, ok := m.users[id]
	return u, ok, nil
}

// GetUserByID returns a user by ID.
func (m *MemoryStore) GetUserByID(id string) (domain.User, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	return u, ok, nil
}

// SaveGift stores a gift record and tracks insertion order.
func (m *MemoryStore) SaveGift(g domain.Gift) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.gifts[g.ID]; !exists {
		m.order = append(m.order, g.ID)
	}
	m.gifts[g.ID] = g
	return nil
}

// GetGift retrieves a gift by ID.
func (m *MemoryStore) GetGift(id string) (domain.Gift, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.gifts[id]
	return g, ok, nil
}

// ListGiftsByCreator returns a creator's gifts, newest first.
func (m *MemoryStore) ListGiftsByCreator(creatorID string) ([]domain.Gift, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := m.collect(func(g domain.Gift) bool { return g.CreatorID == creatorID })
	sort.SliceStable(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	return res, nil
}

// ListGiftsByRecipient returns a recipient's gifts, most recently claimed first.
func (m *MemoryStore) ListGiftsByRecipient(recipientID string) ([]domain.Gift, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := m.collect(func(g domain.Gift) bool { return g.RecipientID == recipientID })
	sort.SliceStable(res, func(i, j int) bool {
		ti, tj := res[i].ClaimedAt, res[j].ClaimedAt
		if ti == nil || tj == nil {
			return tj == nil && ti != nil
		}
		return ti.After(*tj)
	})
	return res, nil
}

// ListPoolGifts returns unclaimed pool gifts not created by the given user.
func (m *MemoryStore) ListPoolGifts(excludeCreatorID string) ([]domain.Gift, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.collect(func(g domain.Gift) bool {
		return g.Status == domain.StatusInPool && g.RecipientID == "" && g.CreatorID != excludeCreatorID
	}), nil
}

func (m *MemoryStore) collect(keep func(domain.Gift) bool) []domain.Gift {
	res := make([]domain.Gift, 0, len(m.order))
	for _, id := range m.order {
		if g, ok := m.gifts[id]; ok && keep(g) {
			res = append(res, g)
		}
	}
	return res
}

// ClaimGift performs the compare-and-set claim transition under the lock.
func (m *MemoryStore) ClaimGift(id, recipientID string, claimedAt time.Time) (domain.Gift, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.gifts[id]
	if !ok || g.Status != domain.StatusInPool || g.RecipientID != "" {
		return domain.Gift{}, false, nil
	}
	at := claimedAt.UTC()
	g.RecipientID = recipientID
	g.Status = domain.StatusClaimed
	g.ClaimedAt = &at
	m.gifts[id] = g
	return g, true, nil
}

// OpenGift marks the gift opened when the recipient matches. Idempotent.
func (m *MemoryStore) OpenGift(id, recipientID string) (domain.Gift, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.gifts[id]
	if !ok || g.RecipientID != recipientID {
		return domain.Gift{}, false, nil
	}
	g.Wrapped = false
	g.Status = domain.StatusOpened
	m.gifts[id] = g
	return g, true, nil
}

// AppendOpening records a gift opening event.
func (m *MemoryStore) AppendOpening(o domain.GiftOpening) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openings = append(m.openings, o)
	return nil
}

// ListOpeningsByGift returns opening events for a gift in insertion order.
func (m *MemoryStore) ListOpeningsByGift(giftID string) ([]domain.GiftOpening, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]domain.GiftOpening, 0, len(m.openings))
	for _, o := range m.openings {
		if o.GiftID == giftID {
			res = append(res, o)
		}
	}
	return res, nil
}
