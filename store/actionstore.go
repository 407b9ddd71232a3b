package store

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/klaytn-watchtower/pisa/kvstore"
	"github.com/klaytn-watchtower/pisa/responder"
	"github.com/klaytn-watchtower/pisa/statemachine"
)

func init() {
	// Action is deliberately opaque (statemachine.Action = interface{}),
	// so there is no static schema RLP could encode it against; gob's
	// registry-based interface encoding is the stdlib's answer to
	// exactly this case, and nothing in the corpus offers a library for
	// serialising a registry of unrelated concrete types behind one
	// interface.
	gob.Register(responder.ReEnqueueMissingItemsAction{})
	gob.Register(responder.TxMinedAction{})
	gob.Register(responder.CheckResponderBalanceAction{})
	gob.Register(responder.EndResponseAction{})
}

// ActionStore persists pending statemachine actions in a
// kvstore.Database, under keys prefixed `action:`, implementing the
// crash-recovery contract statemachine.ActionStore describes.
type ActionStore struct {
	db     kvstore.Database
	prefix string

	counter uint64
}

// NewActionStore constructs an ActionStore over db. ns namespaces keys
// so multiple responders sharing one database don't collide. It scans
// existing entries to resume id allocation past the highest one
// already persisted, so a restart with pending actions still
// outstanding can't reissue a live id.
func NewActionStore(db kvstore.Database, ns string) (*ActionStore, error) {
	s := &ActionStore{db: db, prefix: fmt.Sprintf("action:%s:", ns)}

	it := db.NewIteratorWithPrefix([]byte(s.prefix))
	defer it.Release()
	for it.Next() {
		id := string(it.Key()[len(s.prefix):])
		if n, err := strconv.ParseUint(id, 10, 64); err == nil && n > s.counter {
			s.counter = n
		}
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("store: scan existing actions: %w", err)
	}
	return s, nil
}

type gobAction struct {
	Component string
	Action    statemachine.Action
}

func (s *ActionStore) key(id string) []byte {
	return []byte(s.prefix + id)
}

// Put implements statemachine.ActionStore.
func (s *ActionStore) Put(component string, action statemachine.Action) (string, error) {
	id := strconv.FormatUint(atomic.AddUint64(&s.counter, 1), 10)

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&gobAction{Component: component, Action: action}); err != nil {
		return "", fmt.Errorf("store: encode action: %w", err)
	}
	if err := s.db.Put(s.key(id), buf.Bytes()); err != nil {
		return "", fmt.Errorf("store: persist action: %w", err)
	}
	return id, nil
}

// Delete implements statemachine.ActionStore.
func (s *ActionStore) Delete(id string) error {
	if err := s.db.Delete(s.key(id)); err != nil {
		return fmt.Errorf("store: delete action %s: %w", id, err)
	}
	return nil
}

// Pending implements statemachine.ActionStore.
func (s *ActionStore) Pending() ([]statemachine.PersistedAction, error) {
	it := s.db.NewIteratorWithPrefix([]byte(s.prefix))
	defer it.Release()

	var out []statemachine.PersistedAction
	for it.Next() {
		var ga gobAction
		if err := gob.NewDecoder(bytes.NewReader(it.Value())).Decode(&ga); err != nil {
			return nil, fmt.Errorf("store: decode pending action: %w", err)
		}
		id := string(it.Key()[len(s.prefix):])
		out = append(out, statemachine.PersistedAction{ID: id, Component: ga.Component, Action: ga.Action})
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("store: iterate pending actions: %w", err)
	}
	return out, nil
}
