package store_test

import (
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klaytn-watchtower/pisa/chain"
	"github.com/klaytn-watchtower/pisa/kvstore"
	"github.com/klaytn-watchtower/pisa/responder"
	"github.com/klaytn-watchtower/pisa/store"
)

func TestActionStore_PutDeletePending(t *testing.T) {
	db, err := kvstore.OpenLevelDB(filepath.Join(t.TempDir(), "ldb"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s, err := store.NewActionStore(db, "signer1")
	require.NoError(t, err)

	appt := chain.Hash(common.BytesToHash([]byte{1}))
	id, err := s.Put("responder", responder.EndResponseAction{AppointmentID: appt})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	pending, err := s.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "responder", pending[0].Component)
	action, ok := pending[0].Action.(responder.EndResponseAction)
	require.True(t, ok)
	assert.Equal(t, appt, action.AppointmentID)

	require.NoError(t, s.Delete(id))

	pending, err = s.Pending()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestActionStore_ResumesIDAllocationAcrossRestarts(t *testing.T) {
	db, err := kvstore.OpenLevelDB(filepath.Join(t.TempDir(), "ldb"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s1, err := store.NewActionStore(db, "signer1")
	require.NoError(t, err)
	id1, err := s1.Put("responder", responder.CheckResponderBalanceAction{})
	require.NoError(t, err)

	// Simulate a restart: a fresh ActionStore over the same db must not
	// reissue id1 while it is still pending.
	s2, err := store.NewActionStore(db, "signer1")
	require.NoError(t, err)
	id2, err := s2.Put("responder", responder.CheckResponderBalanceAction{})
	require.NoError(t, err)

	assert.NotEqual(t, id1, id2)

	pending, err := s2.Pending()
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}
