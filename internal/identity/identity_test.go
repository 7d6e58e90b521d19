package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	kind, err := ParseKind("manager")
	require.NoError(t, err)
	assert.Equal(t, KindManager, kind)

	_, err = ParseKind("root")
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestResolve(t *testing.T) {
	t.Run("tenant comes from record", func(t *testing.T) {
		id, err := Resolve(KindOperator, "op-1", Record{IsActive: true, TenantID: "b1"})

		require.NoError(t, err)
		assert.Equal(t, Operator{Id: "op-1", BranchId: "b1"}, id)
		assert.Equal(t, "operator", id.Role())
	})

	t.Run("tenant scoped kind without tenant", func(t *testing.T) {
		_, err := Resolve(KindManager, "m-1", Record{IsActive: true})

		assert.ErrorIs(t, err, ErrMissingTenant)
	})

	t.Run("super admin uses selected tenant", func(t *testing.T) {
		id, err := Resolve(KindTenantSuperAdmin, "sa-1", Record{IsActive: true, SelectedTenantID: "b9"})

		require.NoError(t, err)
		assert.True(t, IsSuperAdmin(id))
		assert.Equal(t, "b9", id.TenantID())
	})

	t.Run("super admin without selection covers all tenants", func(t *testing.T) {
		id, err := Resolve(KindTenantSuperAdmin, "sa-1", Record{IsActive: true})

		require.NoError(t, err)
		assert.Empty(t, id.TenantID())
	})
}

func TestKindLookup(t *testing.T) {
	assert.Equal(t, "operators", KindOperator.Lookup().Collection)
	assert.Equal(t, "selectedBranchId", KindTenantSuperAdmin.Lookup().SelectedTenantField)
	assert.Empty(t, Kind("unknown").Lookup().Collection)
}

func TestMemoryDirectory(t *testing.T) {
	directory := NewMemoryDirectory()
	directory.Put(KindAdmin, "a-1", Record{IsActive: true, TenantID: "b1"})

	record, err := directory.FindIdentity(context.Background(), "a-1", KindAdmin)
	require.NoError(t, err)
	assert.Equal(t, "b1", record.TenantID)

	_, err = directory.FindIdentity(context.Background(), "a-1", KindOperator)
	assert.ErrorIs(t, err, ErrNotFound)
}
