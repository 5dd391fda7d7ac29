package catalog

import (
	"context"
	"sync"

	"github.com/fjod/studenthub/settlement-service/internal/domain"
)

// MemoryStore is an in-process ProductStore. Fail makes the next calls to
// MarkSold/MarkAvailable return the given error.
type MemoryStore struct {
	mu       sync.Mutex
	products map[string]*Product
	failWith error
	calls    map[string]int
}

var _ ProductStore = (*MemoryStore)(nil)

func NewMemoryStore(products ...*Product) *MemoryStore {
	s := &MemoryStore{products: make(map[string]*Product), calls: make(map[string]int)}
	for _, p := range products {
		c := *p
		s.products[p.ID] = &c
	}
	return s
}

func (s *MemoryStore) Fail(err error) {
	s.mu.Lock()
	s.failWith = err
	s.mu.Unlock()
}

// Calls reports how many times op ("sold", "available") reached the store.
func (s *MemoryStore) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *MemoryStore) GetProduct(_ context.Context, productID string) (*Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[productID]
	if !ok {
		return nil, domain.ErrProductNotFound
	}
	c := *p
	return &c, nil
}

func (s *MemoryStore) MarkSold(_ context.Context, productID, buyerRef string) error {
	return s.set(string(StatusSold), productID, func(p *Product) {
		p.Status = StatusSold
		p.BuyerRef = buyerRef
	})
}

func (s *MemoryStore) MarkAvailable(_ context.Context, productID, buyerRef string) error {
	return s.set(string(StatusAvailable), productID, func(p *Product) {
		if p.BuyerRef != buyerRef {
			return
		}
		p.Status = StatusAvailable
		p.BuyerRef = ""
	})
}

func (s *MemoryStore) set(op, productID string, apply func(*Product)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[op]++
	if s.failWith != nil {
		return s.failWith
	}
	p, ok := s.products[productID]
	if !ok {
		return domain.ErrProductNotFound
	}
	apply(p)
	return nil
}
