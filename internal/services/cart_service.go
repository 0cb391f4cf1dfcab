package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/farmstall/api/internal/domain"
	"github.com/farmstall/api/internal/platform/kv"
)

var errCartStoreRequired = errors.New("cart service: store is required")

// maxQuantityDelta bounds a single quantity adjustment.
const maxQuantityDelta = 10000

// CartStoreDeps wires the persistence and notification collaborators of a device cart.
type CartStoreDeps struct {
	// Store holds the device slots; the cart lives under kv.KeyCart.
	Store    kv.Store
	Locker   KeyLocker
	Notifier Notifier
	Observer CartCountObserver
	Logger   func(context.Context, string, map[string]any)
}

// CartStore owns one device's cart collection.
type CartStore struct {
	store    kv.Store
	locker   KeyLocker
	notifier Notifier
	observer CartCountObserver
	logger   func(context.Context, string, map[string]any)
}

var _ CartService = (*CartStore)(nil)

// NewCartStore constructs a CartStore enforcing dependency validation.
func NewCartStore(deps CartStoreDeps) (*CartStore, error) {
	if deps.Store == nil {
		return nil, errCartStoreRequired
	}
	locker := deps.Locker
	if locker == nil {
		locker = kv.NewLocker()
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &CartStore{
		store:    deps.Store,
		locker:   locker,
		notifier: deps.Notifier,
		observer: deps.Observer,
		logger:   logger,
	}, nil
}

// LockKey is the lock name guarding this cart.
func (s *CartStore) LockKey() string {
	return kv.ResolveKey(s.store, kv.KeyCart)
}

// GetCart returns the persisted cart. Absent, corrupt or unreadable storage yields an empty cart.
func (s *CartStore) GetCart(ctx context.Context) []CartLineItem {
	var items []CartLineItem
	if _, err := kv.ReadJSON(ctx, s.store, kv.KeyCart, &items); err != nil {
		event := "cart.read_failed"
		if errors.Is(err, kv.ErrCorrupt) {
			event = "cart.corrupt"
		}
		s.logger(ctx, event, map[string]any{"error": err.Error()})
		return []CartLineItem{}
	}
	return domain.CloneCart(items)
}

// AddItem increments the line named like product, or appends a new line with quantity 1.
func (s *CartStore) AddItem(ctx context.Context, product Product) error {
	name := strings.TrimSpace(product.Name)
	if name == "" {
		return fmt.Errorf("%w: product name is required", ErrInvalidInput)
	}

	err := s.mutate(ctx, func(items []CartLineItem) ([]CartLineItem, bool) {
		for i := range items {
			if items[i].Name == product.Name {
				items[i].Quantity = items[i].EffectiveQuantity() + 1
				return items, true
			}
		}
		return append(items, domain.NewCartLineItem(product)), true
	})
	if err != nil {
		return err
	}

	s.notify(ctx, product.Name+" added to cart!")
	s.UpdateCartCount(ctx)
	return nil
}

// UpdateQuantity applies delta to the line at index, removing it when the quantity drops below 1.
// It reports false without touching storage when index is out of range.
func (s *CartStore) UpdateQuantity(ctx context.Context, index, delta int) (bool, error) {
	if delta > maxQuantityDelta || delta < -maxQuantityDelta {
		return false, fmt.Errorf("%w: quantity change must be between -%d and %d", ErrInvalidInput, maxQuantityDelta, maxQuantityDelta)
	}
	changed := false
	err := s.mutate(ctx, func(items []CartLineItem) ([]CartLineItem, bool) {
		if index < 0 || index >= len(items) {
			return items, false
		}
		changed = true
		next := items[index].EffectiveQuantity() + delta
		if next < 1 {
			return append(items[:index], items[index+1:]...), true
		}
		items[index].Quantity = next
		return items, true
	})
	if err != nil || !changed {
		return false, err
	}
	s.UpdateCartCount(ctx)
	return true, nil
}

// RemoveItem drops the line at index. It reports false when index is out of range.
func (s *CartStore) RemoveItem(ctx context.Context, index int) (bool, error) {
	changed := false
	err := s.mutate(ctx, func(items []CartLineItem) ([]CartLineItem, bool) {
		if index < 0 || index >= len(items) {
			return items, false
		}
		changed = true
		return append(items[:index], items[index+1:]...), true
	})
	if err != nil || !changed {
		return false, err
	}
	s.UpdateCartCount(ctx)
	return true, nil
}

// ClearCart persists an empty cart.
func (s *CartStore) ClearCart(ctx context.Context) error {
	ctx, unlock := s.locker.Lock(ctx, s.LockKey())
	err := s.persist(ctx, []CartLineItem{})
	unlock()
	if err != nil {
		return err
	}
	s.UpdateCartCount(ctx)
	return nil
}

// UpdateCartCount sums the line quantities and pushes the result to the observer.
func (s *CartStore) UpdateCartCount(ctx context.Context) CartCount {
	count := 0
	for _, item := range s.GetCart(ctx) {
		count += item.EffectiveQuantity()
	}
	state := CartCount{Count: count, Visible: count > 0}
	if s.observer != nil {
		s.observer.CartCountChanged(ctx, state)
	}
	return state
}

// mutate runs fn under the cart lock and persists its result when fn reports a change.
// A failed read aborts the mutation so the stored cart is never replaced by a partial view.
func (s *CartStore) mutate(ctx context.Context, fn func([]CartLineItem) ([]CartLineItem, bool)) error {
	ctx, unlock := s.locker.Lock(ctx, s.LockKey())
	defer unlock()

	current, err := s.loadForUpdate(ctx)
	if err != nil {
		return err
	}
	items, changed := fn(current)
	if !changed {
		return nil
	}
	return s.persist(ctx, items)
}

// loadForUpdate reads the cart for a mutation. Absent or corrupt data starts an empty cart;
// any other backend error is returned.
func (s *CartStore) loadForUpdate(ctx context.Context) ([]CartLineItem, error) {
	var items []CartLineItem
	if _, err := kv.ReadJSON(ctx, s.store, kv.KeyCart, &items); err != nil {
		if errors.Is(err, kv.ErrCorrupt) {
			s.logger(ctx, "cart.corrupt", map[string]any{"error": err.Error()})
			return []CartLineItem{}, nil
		}
		s.logger(ctx, "cart.read_failed", map[string]any{"error": err.Error()})
		return nil, fmt.Errorf("cart service: read cart: %w", err)
	}
	return domain.CloneCart(items), nil
}

func (s *CartStore) persist(ctx context.Context, items []CartLineItem) error {
	if items == nil {
		items = []CartLineItem{}
	}
	if err := kv.WriteJSON(ctx, s.store, kv.KeyCart, items); err != nil {
		s.logger(ctx, "cart.write_failed", map[string]any{"error": err.Error()})
		return fmt.Errorf("cart service: persist cart: %w", err)
	}
	return nil
}

func (s *CartStore) notify(ctx context.Context, message string) {
	if s.notifier != nil {
		s.notifier.Notify(ctx, message)
	}
}
