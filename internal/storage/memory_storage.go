package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/life2you_mini/pledgeflow/internal/apperr"
	"github.com/life2you_mini/pledgeflow/internal/model"
)

// MemoryStore 进程内存储，用于测试和单机演示
type MemoryStore struct {
	mu      sync.Mutex
	users   map[string]model.User
	pledges []model.Pledge
	orders  []*model.FeaturesOrder
	locker  *MemoryLocker
}

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:  make(map[string]model.User),
		locker: NewMemoryLocker(),
	}
}

func (s *MemoryStore) Users() UserRepository     { return (*memoryUsers)(s) }
func (s *MemoryStore) Pledges() PledgeRepository { return (*memoryPledges)(s) }
func (s *MemoryStore) Orders() OrderRepository   { return (*memoryOrders)(s) }
func (s *MemoryStore) Locker() Locker            { return s.locker }

func (s *MemoryStore) Health(ctx context.Context) error { return nil }
func (s *MemoryStore) Close() error                     { return nil }

type memoryUsers MemoryStore

func (r *memoryUsers) GetUser(ctx context.Context, id string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok {
		return nil, apperr.NotFound(apperr.CodeUserNotFound, fmt.Sprintf("用户不存在: %s", id))
	}
	return &u, nil
}

func (r *memoryUsers) SaveUser(ctx context.Context, user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.users[user.ID] = *user
	return nil
}

func (r *memoryUsers) Credit(ctx context.Context, id string, amount decimal.Decimal) (*model.User, error) {
	return r.mutate(id, func(u *model.User) error { return u.Credit(amount) })
}

func (r *memoryUsers) Debit(ctx context.Context, id string, amount decimal.Decimal) (*model.User, error) {
	return r.mutate(id, func(u *model.User) error { return u.Debit(amount) })
}

func (r *memoryUsers) Update(ctx context.Context, id string, fn func(u *model.User) error) (*model.User, error) {
	return r.mutate(id, fn)
}

func (r *memoryUsers) mutate(id string, fn func(u *model.User) error) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok {
		return nil, apperr.NotFound(apperr.CodeUserNotFound, fmt.Sprintf("用户不存在: %s", id))
	}
	if err := fn(&u); err != nil {
		return nil, err
	}
	r.users[id] = u
	return &u, nil
}

type memoryPledges MemoryStore

func (r *memoryPledges) LoadAll(ctx context.Context) ([]*model.Pledge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*model.Pledge, 0, len(r.pledges))
	for i := range r.pledges {
		p := r.pledges[i]
		out = append(out, &p)
	}
	return out, nil
}

func (r *memoryPledges) SaveAll(ctx context.Context, pledges []*model.Pledge) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pledges = make([]model.Pledge, 0, len(pledges))
	for _, p := range pledges {
		r.pledges = append(r.pledges, *p)
	}
	return nil
}

type memoryOrders MemoryStore

func (r *memoryOrders) LoadAll(ctx context.Context) ([]*model.FeaturesOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*model.FeaturesOrder, 0, len(r.orders))
	for _, o := range r.orders {
		out = append(out, o.Clone())
	}
	return out, nil
}

func (r *memoryOrders) SaveAll(ctx context.Context, orders []*model.FeaturesOrder) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.orders = make([]*model.FeaturesOrder, 0, len(orders))
	for _, o := range orders {
		r.orders = append(r.orders, o.Clone())
	}
	return nil
}

// MemoryLocker 进程内按名称的互斥锁，等待时响应 ctx 取消
type MemoryLocker struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewMemoryLocker 创建进程内锁
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{slots: make(map[string]chan struct{})}
}

func (l *MemoryLocker) Lock(ctx context.Context, name string) (func(), error) {
	l.mu.Lock()
	slot, ok := l.slots[name]
	if !ok {
		slot = make(chan struct{}, 1)
		l.slots[name] = slot
	}
	l.mu.Unlock()

	select {
	case slot <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-slot }) }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("等待锁 %s 超时: %w", name, ctx.Err())
	}
}
