package inventory

import (
	"context"
	"sort"
	"sync"
	"time"
)

// memProduct owns one product's counter together with the holds and orders
// that account for it. mu serializes every check-and-update on the product.
type memProduct struct {
	mu      sync.Mutex
	product Product
	holds   map[string]*Hold
	orders  map[string]*Order
}

// MemoryRepository keeps all state in process memory. Locks are scoped per
// product, so reservations on different products never contend; the store
// level lock only guards the lookup maps and is never held while waiting on a
// product lock.
type MemoryRepository struct {
	mu       sync.RWMutex
	nextID   int64
	products map[int64]*memProduct
	holdIdx  map[string]*memProduct
	orderIdx map[string]*memProduct

	// payMu serializes webhook processing so a webhook id is applied once.
	// Lock order is payMu before any product lock.
	payMu    sync.Mutex
	payments map[string]PaymentLog
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		products: make(map[int64]*memProduct),
		holdIdx:  make(map[string]*memProduct),
		orderIdx: make(map[string]*memProduct),
		payments: make(map[string]PaymentLog),
	}
}

func (m *MemoryRepository) CreateProduct(ctx context.Context, p NewProduct, now time.Time) (Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	out := Product{
		ID:         m.nextID,
		Name:       p.Name,
		Price:      p.Price,
		TotalStock: p.TotalStock,
		CreatedAt:  now,
	}
	m.products[out.ID] = &memProduct{
		product: out,
		holds:   make(map[string]*Hold),
		orders:  make(map[string]*Order),
	}
	return out, nil
}

func (m *MemoryRepository) GetProduct(ctx context.Context, productID int64) (Product, error) {
	mp, ok := m.lookupProduct(productID)
	if !ok {
		return Product{}, ErrNotFound
	}
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return mp.product, nil
}

func (m *MemoryRepository) Reserve(ctx context.Context, req HoldRequest) (ReserveResult, error) {
	if err := ctx.Err(); err != nil {
		return ReserveResult{}, err
	}
	mp, ok := m.lookupProduct(req.ProductID)
	if !ok {
		return ReserveResult{}, ErrNotFound
	}

	mp.mu.Lock()
	defer mp.mu.Unlock()

	available := mp.product.Available()
	if req.Quantity > available {
		return ReserveResult{Available: available}, ErrInsufficientStock
	}

	hold := &Hold{
		ID:        req.ID,
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
		Status:    HoldActive,
		ExpiresAt: req.ExpiresAt,
		CreatedAt: req.Now,
		UpdatedAt: req.Now,
	}
	mp.product.HeldStock += req.Quantity
	mp.holds[hold.ID] = hold

	m.mu.Lock()
	m.holdIdx[hold.ID] = mp
	m.mu.Unlock()

	return ReserveResult{Hold: *hold, Available: mp.product.Available()}, nil
}

func (m *MemoryRepository) GetHold(ctx context.Context, holdID string) (Hold, error) {
	m.mu.RLock()
	mp, ok := m.holdIdx[holdID]
	m.mu.RUnlock()
	if !ok {
		return Hold{}, ErrNotFound
	}
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return *mp.holds[holdID], nil
}

func (m *MemoryRepository) ReleaseHold(ctx context.Context, holdID string, now time.Time) (Hold, error) {
	m.mu.RLock()
	mp, ok := m.holdIdx[holdID]
	m.mu.RUnlock()
	if !ok {
		return Hold{}, ErrNotFound
	}

	mp.mu.Lock()
	defer mp.mu.Unlock()

	h := mp.holds[holdID]
	if h.Status != HoldActive {
		return *h, ErrHoldNotActive
	}
	h.Status = HoldReleased
	h.UpdatedAt = now
	mp.product.HeldStock -= h.Quantity
	return *h, nil
}

func (m *MemoryRepository) ReleaseExpired(ctx context.Context, now time.Time, limit int) ([]Hold, error) {
	m.mu.RLock()
	all := make([]*memProduct, 0, len(m.products))
	for _, mp := range m.products {
		all = append(all, mp)
	}
	m.mu.RUnlock()
	sort.Slice(all, func(i, j int) bool { return all[i].product.ID < all[j].product.ID })

	var expired []Hold
	for _, mp := range all {
		if limit > 0 && len(expired) >= limit {
			break
		}
		if err := ctx.Err(); err != nil {
			return expired, err
		}
		expired = append(expired, mp.expire(now, limit-len(expired))...)
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].ExpiresAt.Before(expired[j].ExpiresAt) })
	return expired, nil
}

// expire releases at most limit expired holds of one product; limit <= 0
// means no limit.
func (mp *memProduct) expire(now time.Time, limit int) []Hold {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	var due []*Hold
	for _, h := range mp.holds {
		if h.Status == HoldActive && h.ExpiresAt.Before(now) {
			due = append(due, h)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ExpiresAt.Before(due[j].ExpiresAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	out := make([]Hold, 0, len(due))
	for _, h := range due {
		h.Status = HoldExpired
		h.UpdatedAt = now
		mp.product.HeldStock -= h.Quantity
		out = append(out, *h)
	}
	return out
}

func (m *MemoryRepository) CreateOrder(ctx context.Context, orderID, holdID string, now time.Time) (Order, error) {
	m.mu.RLock()
	mp, ok := m.holdIdx[holdID]
	m.mu.RUnlock()
	if !ok {
		return Order{}, ErrNotFound
	}

	mp.mu.Lock()
	defer mp.mu.Unlock()

	h := mp.holds[holdID]
	if h.Status != HoldActive {
		return Order{}, ErrHoldNotActive
	}
	if !now.Before(h.ExpiresAt) {
		return Order{}, ErrHoldExpired
	}

	h.Status = HoldConverted
	h.UpdatedAt = now
	o := &Order{
		ID:        orderID,
		HoldID:    h.ID,
		ProductID: h.ProductID,
		Quantity:  h.Quantity,
		Status:    OrderPendingPayment,
		CreatedAt: now,
		UpdatedAt: now,
	}
	mp.orders[o.ID] = o

	m.mu.Lock()
	m.orderIdx[o.ID] = mp
	m.mu.Unlock()

	return *o, nil
}

func (m *MemoryRepository) GetOrder(ctx context.Context, orderID string) (Order, error) {
	m.mu.RLock()
	mp, ok := m.orderIdx[orderID]
	m.mu.RUnlock()
	if !ok {
		return Order{}, ErrNotFound
	}
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return *mp.orders[orderID], nil
}

func (m *MemoryRepository) ApplyPayment(ctx context.Context, wh PaymentWebhook, now time.Time) (PaymentResult, error) {
	m.payMu.Lock()
	defer m.payMu.Unlock()

	if existing, ok := m.payments[wh.WebhookID]; ok {
		res := PaymentResult{Log: existing, Duplicate: true}
		if o, err := m.GetOrder(ctx, existing.OrderID); err == nil {
			res.Order = o
		}
		return res, nil
	}

	m.mu.RLock()
	mp, ok := m.orderIdx[wh.OrderID]
	m.mu.RUnlock()
	if !ok {
		return PaymentResult{}, ErrNotFound
	}

	mp.mu.Lock()
	defer mp.mu.Unlock()

	o := mp.orders[wh.OrderID]

	changed := false
	if o.Status == OrderPendingPayment {
		if wh.Status == PaymentFailure {
			o.Status = OrderCancelled
			mp.product.HeldStock -= o.Quantity
		} else {
			o.Status = OrderPaid
		}
		o.UpdatedAt = now
		changed = true
	}

	l := PaymentLog{
		WebhookID: wh.WebhookID,
		OrderID:   wh.OrderID,
		Status:    wh.Status,
		Payload:   wh.Payload,
		CreatedAt: now,
	}
	m.payments[wh.WebhookID] = l
	return PaymentResult{Log: l, Order: *o, Changed: changed}, nil
}

func (m *MemoryRepository) lookupProduct(id int64) (*memProduct, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mp, ok := m.products[id]
	return mp, ok
}
