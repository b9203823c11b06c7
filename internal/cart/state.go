package cart

import (
	"errors"
	"sync"

	"village-store/internal/models"

	"github.com/shopspring/decimal"
)

// ErrAuthRequired is returned when a cart mutation is attempted without a logged-in identity
var ErrAuthRequired = errors.New("login required")

// State is the in-memory view of one session's cart.
// The total is derived from the items on every mutation and never set directly.
type State struct {
	mu      sync.RWMutex
	userID  string
	items   []models.CartItem
	loading bool
	total   decimal.Decimal
}

// Snapshot is an immutable copy of a State
type Snapshot struct {
	UserID  string            `json:"user_id,omitempty"`
	Items   []models.CartItem `json:"items"`
	Loading bool              `json:"loading"`
	Total   decimal.Decimal   `json:"total"`
}

// NewState creates an empty cart state with no identity
func NewState() *State {
	return &State{items: []models.CartItem{}}
}

// Total computes Σ(price × quantity). Items whose product is unresolved contribute zero.
func Total(items []models.CartItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.UnitPrice().Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return total
}

// Load replaces the items with the given rows for userID. An empty userID always yields an empty cart.
func (s *State) Load(userID string, items []models.CartItem) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.userID = userID
	if userID == "" {
		items = nil
	}
	s.items = cloneItems(items)
	s.recompute()
}

// Add merges item into the cart: an existing line for the same product has its
// quantity incremented, otherwise the item is appended.
func (s *State) Add(item models.CartItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.userID == "" {
		return ErrAuthRequired
	}

	for i := range s.items {
		if s.items[i].ProductID == item.ProductID {
			s.items[i].Quantity += item.Quantity
			s.recompute()
			return nil
		}
	}

	s.items = append(s.items, cloneItem(item))
	s.recompute()
	return nil
}

// SetQuantity overwrites an item's quantity. A quantity of zero or less removes the item.
func (s *State) SetQuantity(itemID string, quantity int) {
	if quantity <= 0 {
		s.Remove(itemID)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.items {
		if s.items[i].ID == itemID {
			s.items[i].Quantity = quantity
		}
	}
	s.recompute()
}

// Remove deletes an item from the cart
func (s *State) Remove(itemID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	filtered := s.items[:0]
	for _, item := range s.items {
		if item.ID != itemID {
			filtered = append(filtered, item)
		}
	}
	s.items = filtered
	s.recompute()
}

// Clear empties the cart
func (s *State) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = []models.CartItem{}
	s.total = decimal.Zero
}

// SetLoading toggles the loading flag
func (s *State) SetLoading(loading bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = loading
}

// UserID returns the identity the cart was last loaded for
func (s *State) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

// Find returns the item with the given id
func (s *State) Find(itemID string) (models.CartItem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, item := range s.items {
		if item.ID == itemID {
			return cloneItem(item), true
		}
	}
	return models.CartItem{}, false
}

// Snapshot returns a copy of the current state
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Snapshot{
		UserID:  s.userID,
		Items:   cloneItems(s.items),
		Loading: s.loading,
		Total:   s.total,
	}
}

func (s *State) recompute() {
	s.total = Total(s.items)
}

func cloneItems(items []models.CartItem) []models.CartItem {
	out := make([]models.CartItem, 0, len(items))
	for _, item := range items {
		out = append(out, cloneItem(item))
	}
	return out
}

func cloneItem(item models.CartItem) models.CartItem {
	if item.Product != nil {
		p := *item.Product
		item.Product = &p
	}
	return item
}
