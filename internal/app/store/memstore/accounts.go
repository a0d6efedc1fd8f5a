// internal/app/store/memstore/accounts.go
package memstore

import (
	"context"

	"github.com/dalemusser/institutehub/internal/app/store"
	"github.com/dalemusser/institutehub/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func (t *tables) CreateAccount(ctx context.Context, a models.Account) error {
	key := emailKey{role: a.Role, emailCI: a.EmailCI}
	if _, ok := t.accountEmail[key]; ok {
		return store.ErrDuplicate
	}
	if _, ok := t.accounts[a.ID]; ok {
		return store.ErrDuplicate
	}
	t.accounts[a.ID] = a
	t.accountEmail[key] = a.ID
	return nil
}

func (t *tables) GetAccount(ctx context.Context, id primitive.ObjectID) (models.Account, error) {
	a, ok := t.accounts[id]
	if !ok {
		return models.Account{}, store.ErrNotFound
	}
	return a, nil
}

func (t *tables) GetAccountByEmail(ctx context.Context, role models.Role, emailCI string) (models.Account, error) {
	id, ok := t.accountEmail[emailKey{role: role, emailCI: emailCI}]
	if !ok {
		return models.Account{}, store.ErrNotFound
	}
	return t.accounts[id], nil
}

func (t *tables) GetAccountsByIDs(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]models.Account, error) {
	out := make(map[primitive.ObjectID]models.Account, len(ids))
	for _, id := range ids {
		if a, ok := t.accounts[id]; ok {
			out[id] = a
		}
	}
	return out, nil
}

func (s *Store) CreateAccount(ctx context.Context, a models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t.CreateAccount(ctx, a)
}

func (s *Store) GetAccount(ctx context.Context, id primitive.ObjectID) (models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t.GetAccount(ctx, id)
}

func (s *Store) GetAccountByEmail(ctx context.Context, role models.Role, emailCI string) (models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t.GetAccountByEmail(ctx, role, emailCI)
}

func (s *Store) GetAccountsByIDs(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t.GetAccountsByIDs(ctx, ids)
}
