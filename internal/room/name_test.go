package room

import (
	"testing"

	"github.com/goevery/broker/internal/ierr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		want Room
	}{
		{"branch:b1", Room{Kind: KindBranch, ID: "b1"}},
		{"user:u-1", Room{Kind: KindUser, ID: "u-1"}},
		{"order:64f0c0ffee", Room{Kind: KindOrder, ID: "64f0c0ffee"}},
		{"machine:m_7", Room{Kind: KindMachine, ID: "m_7"}},
		{"customer:c1", Room{Kind: KindCustomer, ID: "c1"}},
		{"role:manager:b1", Room{Kind: KindRole, Role: "manager", ID: "b1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.name)

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.name, got.String())
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	names := []string{
		"",
		"branch",
		"branch:",
		":b1",
		"branch:b1:extra",
		"role:manager",
		"role:manager:b1:x",
		"team:t1",
		"branch:b 1",
		"order:o1/../o2",
		"user:ü",
	}

	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(name)

			assert.ErrorIs(t, err, ErrInvalidName)
			assert.Equal(t, ierr.ErrorCodeInvalidArgument, ierr.CodeOf(err))
			assert.False(t, IsValidName(name))
		})
	}
}

func TestBuilders(t *testing.T) {
	assert.Equal(t, "branch:b1", Branch("b1"))
	assert.Equal(t, "user:u1", User("u1"))
	assert.Equal(t, "role:manager:b1", Role("manager", "b1"))
	assert.Equal(t, "order:o1", Entity(KindOrder, "o1"))
}
