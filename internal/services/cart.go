package services

import (
	"errors"
	"fmt"

	"github.com/Ananth-NQI/orderbot-backend/internal/models"
)

var (
	ErrQuantityExceedsMax = errors.New("quantity exceeds maximum")
	ErrInvalidQuantity    = errors.New("invalid quantity")
	ErrLineNotFound       = errors.New("cart line not found")
)

// CartManager applies cart changes. It never does I/O and never mutates its
// input slice; every operation returns a new cart.
type CartManager struct {
	MaxQuantity int
}

// NewCartManager creates a cart manager with the given per-line cap
func NewCartManager(maxQuantity int) *CartManager {
	if maxQuantity < 1 {
		maxQuantity = 1
	}
	return &CartManager{MaxQuantity: maxQuantity}
}

// AddLine merges quantity into the line for the same item, or appends a new
// line with the name and price snapshot from item.
func (c *CartManager) AddLine(cart []models.CartLine, item models.PendingItem, quantity int) ([]models.CartLine, error) {
	if quantity < 1 {
		return cart, ErrInvalidQuantity
	}
	if quantity > c.MaxQuantity {
		return cart, fmt.Errorf("%w: %d > %d", ErrQuantityExceedsMax, quantity, c.MaxQuantity)
	}

	out := copyCart(cart)
	for i := range out {
		if out[i].ItemID == item.ItemID {
			merged := out[i].Quantity + quantity
			if merged > c.MaxQuantity {
				return cart, fmt.Errorf("%w: %d > %d", ErrQuantityExceedsMax, merged, c.MaxQuantity)
			}
			out[i].Quantity = merged
			return out, nil
		}
	}

	return append(out, models.CartLine{
		ItemID:    item.ItemID,
		Name:      item.Name,
		UnitPrice: item.UnitPrice,
		Quantity:  quantity,
	}), nil
}

// RemoveLine removes exactly the line for itemID
func (c *CartManager) RemoveLine(cart []models.CartLine, itemID string) ([]models.CartLine, error) {
	for i := range cart {
		if cart[i].ItemID == itemID {
			out := make([]models.CartLine, 0, len(cart)-1)
			out = append(out, cart[:i]...)
			return append(out, cart[i+1:]...), nil
		}
	}
	return cart, ErrLineNotFound
}

// RemoveIndex removes the line at a zero based position
func (c *CartManager) RemoveIndex(cart []models.CartLine, index int) ([]models.CartLine, error) {
	if index < 0 || index >= len(cart) {
		return cart, ErrLineNotFound
	}
	return c.RemoveLine(cart, cart[index].ItemID)
}

// SetQuantity replaces a line's quantity
func (c *CartManager) SetQuantity(line models.CartLine, n int) (models.CartLine, error) {
	if err := c.ValidateQuantity(n); err != nil {
		return line, err
	}
	line.Quantity = n
	return line, nil
}

// ValidateQuantity checks n against [1, MaxQuantity]
func (c *CartManager) ValidateQuantity(n int) error {
	if n < 1 {
		return ErrInvalidQuantity
	}
	if n > c.MaxQuantity {
		return fmt.Errorf("%w: %d > %d", ErrQuantityExceedsMax, n, c.MaxQuantity)
	}
	return nil
}

// Total sums the snapshot prices
func (c *CartManager) Total(cart []models.CartLine) int64 {
	var total int64
	for _, l := range cart {
		total += l.Subtotal()
	}
	return total
}

func copyCart(cart []models.CartLine) []models.CartLine {
	out := make([]models.CartLine, len(cart))
	copy(out, cart)
	return out
}
