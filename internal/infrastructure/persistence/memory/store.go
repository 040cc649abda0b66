// Package memory provides in-process implementations of the repository ports.
// It backs tests and single-process deployments that do not need durability.
package memory

import (
	"context"
	"sync"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/approval"
	"github.com/garyjia/expense-approval/internal/domain/entity"
)

// Store holds every table in maps guarded by one RWMutex. Values are copied on
// the way in and out so callers never share memory with the store.
type Store struct {
	mu         sync.RWMutex
	expenses   map[string]entity.Expense
	chains     map[string]*approval.Chain
	rules      map[string]approval.Rule
	companies  map[string]entity.Company
	users      map[string]entity.User
	categories map[string]entity.ExpenseCategory
	rates      map[string]entity.ExchangeRate
}

func NewStore() *Store {
	return &Store{
		expenses:   make(map[string]entity.Expense),
		chains:     make(map[string]*approval.Chain),
		rules:      make(map[string]approval.Rule),
		companies:  make(map[string]entity.Company),
		users:      make(map[string]entity.User),
		categories: make(map[string]entity.ExpenseCategory),
		rates:      make(map[string]entity.ExchangeRate),
	}
}

type txKey struct{}

// undoLog collects the inverse of every write made inside a transaction.
type undoLog struct {
	mu   sync.Mutex
	undo []func()
}

// WithTransaction runs fn and reverts its writes if fn fails. Nested calls join
// the outer transaction. Writes are visible to other readers before commit;
// callers serialize conflicting writers themselves.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*undoLog); ok {
		return fn(ctx)
	}

	log := &undoLog{}
	if err := fn(context.WithValue(ctx, txKey{}, log)); err != nil {
		s.mu.Lock()
		log.mu.Lock()
		for i := len(log.undo) - 1; i >= 0; i-- {
			log.undo[i]()
		}
		log.mu.Unlock()
		s.mu.Unlock()
		return err
	}
	return nil
}

// recordUndo must be called with s.mu held.
func recordUndo(ctx context.Context, undo func()) {
	log, ok := ctx.Value(txKey{}).(*undoLog)
	if !ok {
		return
	}
	log.mu.Lock()
	log.undo = append(log.undo, undo)
	log.mu.Unlock()
}

// putUndo remembers how to restore key in m to its current state.
func putUndo[K comparable, V any](ctx context.Context, m map[K]V, key K) {
	prev, existed := m[key]
	recordUndo(ctx, func() {
		if existed {
			m[key] = prev
		} else {
			delete(m, key)
		}
	})
}

// Repositories returns the port implementations backed by s.
func (s *Store) Repositories() *Repositories {
	return &Repositories{
		Expenses:   &ExpenseRepository{s: s},
		Chains:     &ChainRepository{s: s},
		Rules:      &RuleRepository{s: s},
		Companies:  &CompanyRepository{s: s},
		Users:      &UserRepository{s: s},
		Categories: &CategoryRepository{s: s},
		Rates:      &ExchangeRateRepository{s: s},
	}
}

// Repositories groups the memory-backed repositories.
type Repositories struct {
	Expenses   *ExpenseRepository
	Chains     *ChainRepository
	Rules      *RuleRepository
	Companies  *CompanyRepository
	Users      *UserRepository
	Categories *CategoryRepository
	Rates      *ExchangeRateRepository
}

var _ port.TransactionManager = (*Store)(nil)
