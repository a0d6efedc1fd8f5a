// internal/app/store/memstore/memstore.go

// Package memstore is an in-process implementation of store.Store.
//
// All operations serialize through one mutex. WithTx holds the mutex for
// the whole callback and restores a snapshot of every table if the
// callback fails, which gives the same all-or-nothing behavior as a
// MongoDB transaction.
package memstore

import (
	"context"
	"sync"

	"github.com/dalemusser/institutehub/internal/app/store"
	"github.com/dalemusser/institutehub/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type pairKey struct {
	a, b primitive.ObjectID
}

type nameKey struct {
	institute primitive.ObjectID
	nameCI    string
}

type emailKey struct {
	role    models.Role
	emailCI string
}

// tables holds every collection. Its methods assume the caller holds the lock.
type tables struct {
	accounts     map[primitive.ObjectID]models.Account
	accountEmail map[emailKey]primitive.ObjectID

	requests    map[primitive.ObjectID]models.MembershipRequest
	requestPair map[pairKey]primitive.ObjectID

	groups    map[primitive.ObjectID]models.Group
	groupName map[nameKey]primitive.ObjectID
	members   map[pairKey]models.GroupMembership // (group, user)

	documents map[primitive.ObjectID]models.Document
	grants    map[pairKey]models.AccessGrant // (document, user)

	audit []models.AuditEvent
}

func newTables() *tables {
	return &tables{
		accounts:     make(map[primitive.ObjectID]models.Account),
		accountEmail: make(map[emailKey]primitive.ObjectID),
		requests:     make(map[primitive.ObjectID]models.MembershipRequest),
		requestPair:  make(map[pairKey]primitive.ObjectID),
		groups:       make(map[primitive.ObjectID]models.Group),
		groupName:    make(map[nameKey]primitive.ObjectID),
		members:      make(map[pairKey]models.GroupMembership),
		documents:    make(map[primitive.ObjectID]models.Document),
		grants:       make(map[pairKey]models.AccessGrant),
	}
}

// snapshot copies every table. Stored values are never mutated in place,
// so copying the maps is enough.
func (t *tables) snapshot() *tables {
	c := &tables{
		accounts:     make(map[primitive.ObjectID]models.Account, len(t.accounts)),
		accountEmail: make(map[emailKey]primitive.ObjectID, len(t.accountEmail)),
		requests:     make(map[primitive.ObjectID]models.MembershipRequest, len(t.requests)),
		requestPair:  make(map[pairKey]primitive.ObjectID, len(t.requestPair)),
		groups:       make(map[primitive.ObjectID]models.Group, len(t.groups)),
		groupName:    make(map[nameKey]primitive.ObjectID, len(t.groupName)),
		members:      make(map[pairKey]models.GroupMembership, len(t.members)),
		documents:    make(map[primitive.ObjectID]models.Document, len(t.documents)),
		grants:       make(map[pairKey]models.AccessGrant, len(t.grants)),
		audit:        append([]models.AuditEvent(nil), t.audit...),
	}
	for k, v := range t.accounts {
		c.accounts[k] = v
	}
	for k, v := range t.accountEmail {
		c.accountEmail[k] = v
	}
	for k, v := range t.requests {
		c.requests[k] = v
	}
	for k, v := range t.requestPair {
		c.requestPair[k] = v
	}
	for k, v := range t.groups {
		c.groups[k] = v
	}
	for k, v := range t.groupName {
		c.groupName[k] = v
	}
	for k, v := range t.members {
		c.members[k] = v
	}
	for k, v := range t.documents {
		c.documents[k] = v
	}
	for k, v := range t.grants {
		c.grants[k] = v
	}
	return c
}

// WithTx on the inner view runs fn inline; the outer Store owns the snapshot.
func (t *tables) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Store) error) error {
	return fn(ctx, t)
}

func (t *tables) Ping(ctx context.Context) error { return ctx.Err() }

// Store is a mutex-guarded store.Store.
type Store struct {
	mu sync.Mutex
	t  *tables
}

var _ store.Store = (*Store)(nil)
var _ store.Store = (*tables)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{t: newTables()}
}

// WithTx runs fn while holding the store lock. Any error from fn rolls
// every table back to its state before the call.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.t.snapshot()
	if err := fn(ctx, s.t); err != nil {
		s.t = snap
		return err
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

func cloneIDs(ids []primitive.ObjectID) []primitive.ObjectID {
	if ids == nil {
		return nil
	}
	return append([]primitive.ObjectID(nil), ids...)
}

func lessID(a, b primitive.ObjectID) bool {
	return a.Hex() < b.Hex()
}
