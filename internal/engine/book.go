package engine

import (
	"container/heap"
	"container/list"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

// OrderBook holds one instrument's resting orders in price-time priority:
// best price first, then earliest creation, then order id ascending for
// identical timestamps. All mutations for the instrument (inserts, the
// matching pass, cancels) serialize on mu.
type OrderBook struct {
	instrument string
	mu         sync.Mutex
	buys       *bookSide
	sells      *bookSide
	orders     map[string]*orderRef
}

func NewOrderBook(instrument string) *OrderBook {
	return &OrderBook{
		instrument: instrument,
		buys:       newBookSide(true),
		sells:      newBookSide(false),
		orders:     make(map[string]*orderRef),
	}
}

func (b *OrderBook) Instrument() string {
	return b.instrument
}

func (b *OrderBook) Depth(side string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	count := 0
	for _, ref := range b.orders {
		if ref.side == side {
			count++
		}
	}
	return count
}

// BestPrice returns the top-of-book price for the given resting side, or
// false when that side is empty.
func (b *OrderBook) BestPrice(side string) (decimal.Decimal, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	level := b.restingSide(side).best()
	if level == nil {
		return decimal.Decimal{}, false
	}
	return level.price, true
}

func (b *OrderBook) Add(order *Order) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.addLocked(order)
}

func (b *OrderBook) addLocked(order *Order) error {
	if err := validateOrderFields(order); err != nil {
		return err
	}
	if _, exists := b.orders[order.ID]; exists {
		return nil
	}
	if order.Remaining().LessThanOrEqual(decimal.Zero) {
		return nil
	}

	side := b.restingSide(order.Side)
	if side == nil {
		return ErrInvalidOrder
	}
	b.orders[order.ID] = side.add(order)
	return nil
}

// Remove takes an order out of the book. Used by cancellation and by the
// matcher when an entry is exhausted or pulled after an integrity fault.
func (b *OrderBook) Remove(orderID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.removeLocked(orderID)
}

func (b *OrderBook) removeLocked(orderID string) bool {
	if strings.TrimSpace(orderID) == "" {
		return false
	}
	ref, ok := b.orders[orderID]
	if !ok {
		return false
	}
	ref.sideBook.remove(ref)
	delete(b.orders, orderID)
	return true
}

func (b *OrderBook) restingSide(side string) *bookSide {
	switch normalizeSide(side) {
	case SideBuy:
		return b.buys
	case SideSell:
		return b.sells
	default:
		return nil
	}
}

type orderRef struct {
	order    *Order
	element  *list.Element
	level    *priceLevel
	side     string
	sideBook *bookSide
}

type priceLevel struct {
	price  decimal.Decimal
	key    string
	orders *list.List
	index  int
}

// enqueue keeps the level's FIFO ordered by (CreatedAt, ID). Orders almost
// always arrive in creation order, so this is an append in practice; the
// walk only matters for snapshot reloads and equal timestamps.
func (l *priceLevel) enqueue(order *Order) *list.Element {
	for e := l.orders.Back(); e != nil; e = e.Prev() {
		resting := e.Value.(*Order)
		if resting.CreatedAt.Before(order.CreatedAt) {
			return l.orders.InsertAfter(order, e)
		}
		if resting.CreatedAt.Equal(order.CreatedAt) && resting.ID <= order.ID {
			return l.orders.InsertAfter(order, e)
		}
	}
	return l.orders.PushFront(order)
}

type bookSide struct {
	levels map[string]*priceLevel
	heap   priceHeap
}

func newBookSide(isBuy bool) *bookSide {
	side := &bookSide{
		levels: make(map[string]*priceLevel),
		heap:   priceHeap{isMax: isBuy},
	}
	heap.Init(&side.heap)
	return side
}

func (s *bookSide) add(order *Order) *orderRef {
	key := order.Price.String()
	level := s.levels[key]
	if level == nil {
		level = &priceLevel{price: order.Price, key: key, orders: list.New()}
		heap.Push(&s.heap, level)
		s.levels[key] = level
	}
	element := level.enqueue(order)
	return &orderRef{order: order, element: element, level: level, side: normalizeSide(order.Side), sideBook: s}
}

func (s *bookSide) remove(ref *orderRef) {
	if ref == nil || ref.level == nil || ref.element == nil {
		return
	}
	ref.level.orders.Remove(ref.element)
	if ref.level.orders.Len() == 0 {
		heap.Remove(&s.heap, ref.level.index)
		delete(s.levels, ref.level.key)
	}
}

func (s *bookSide) best() *priceLevel {
	if s.heap.Len() == 0 {
		return nil
	}
	return s.heap.levels[0]
}

type priceHeap struct {
	levels []*priceLevel
	isMax  bool
}

func (h priceHeap) Len() int { return len(h.levels) }

func (h priceHeap) Less(i, j int) bool {
	cmp := h.levels[i].price.Cmp(h.levels[j].price)
	if h.isMax {
		return cmp > 0
	}
	return cmp < 0
}

func (h priceHeap) Swap(i, j int) {
	h.levels[i], h.levels[j] = h.levels[j], h.levels[i]
	h.levels[i].index = i
	h.levels[j].index = j
}

func (h *priceHeap) Push(x interface{}) {
	level := x.(*priceLevel)
	level.index = len(h.levels)
	h.levels = append(h.levels, level)
}

func (h *priceHeap) Pop() interface{} {
	old := h.levels
	n := len(old)
	item := old[n-1]
	item.index = -1
	h.levels = old[:n-1]
	return item
}
