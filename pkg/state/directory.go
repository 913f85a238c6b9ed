package state

import (
	"context"
	"fmt"
	"sync"

	params "github.com/goliatone/go-params"
)

// MemoryDirectory is an in-memory Directory intended for tests, examples and
// seeded local runs.
type MemoryDirectory struct {
	mu        sync.RWMutex
	merchants map[string]Merchant
}

func NewMemoryDirectory(merchants ...Merchant) *MemoryDirectory {
	d := &MemoryDirectory{merchants: map[string]Merchant{}}
	for _, merchant := range merchants {
		d.Put(merchant)
	}
	return d
}

// Put stores or replaces a merchant record.
func (d *MemoryDirectory) Put(merchant Merchant) {
	d.mu.Lock()
	d.merchants[merchant.ID] = cloneMerchant(merchant)
	d.mu.Unlock()
}

// PutMerchant is Put for callers that write through a context-aware sink.
func (d *MemoryDirectory) PutMerchant(ctx context.Context, merchant Merchant) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if merchant.ID == "" {
		return fmt.Errorf("%w: merchant id is required", params.ErrInvalidParameter)
	}
	d.Put(merchant)
	return nil
}

// Remove deletes a merchant record.
func (d *MemoryDirectory) Remove(merchantID string) {
	d.mu.Lock()
	delete(d.merchants, merchantID)
	d.mu.Unlock()
}

func (d *MemoryDirectory) GetMerchant(ctx context.Context, merchantID string) (Merchant, error) {
	if err := ctx.Err(); err != nil {
		return Merchant{}, err
	}
	d.mu.RLock()
	merchant, ok := d.merchants[merchantID]
	d.mu.RUnlock()
	if !ok {
		return Merchant{}, fmt.Errorf("%w: %q", ErrMerchantNotFound, merchantID)
	}
	return cloneMerchant(merchant), nil
}

// Merchants returns every stored merchant in no particular order.
func (d *MemoryDirectory) Merchants() []Merchant {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Merchant, 0, len(d.merchants))
	for _, merchant := range d.merchants {
		out = append(out, cloneMerchant(merchant))
	}
	return out
}

func cloneMerchant(m Merchant) Merchant {
	out := m
	if m.Metadata == nil {
		return out
	}
	out.Metadata = make(map[string]string, len(m.Metadata))
	for k, v := range m.Metadata {
		out.Metadata[k] = v
	}
	return out
}
