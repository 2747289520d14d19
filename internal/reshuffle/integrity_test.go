package reshuffle

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/docsync/internal/ir"
	"github.com/roach88/docsync/internal/testutil"
)

func TestCheckIntegrity_Clean(t *testing.T) {
	assert.Empty(t, CheckIntegrity(testutil.History("x", 5)))
	assert.Empty(t, CheckIntegrity(nil))
	assert.Empty(t, CheckIntegrity([]ir.Operation{
		testutil.Op("1", 1, 1),
		testutil.Op("2", 2, 0),
		testutil.Op("6", 6, 3),
		testutil.Op("7", 7, 0),
	}))
}

func TestCheckIntegrity_MissingIndex(t *testing.T) {
	issues := CheckIntegrity([]ir.Operation{
		testutil.Op("0", 0, 0),
		testutil.Op("1", 1, 0),
		testutil.Op("3", 3, 0),
	})
	require.Len(t, issues, 1)
	assert.Equal(t, IssueMissingIndex, issues[0].Code)
	assert.Equal(t, int64(3), issues[0].Operation.Index)
	assert.Equal(t, int64(2), issues[0].Expected)
}

func TestCheckIntegrity_DuplicatedIndex(t *testing.T) {
	issues := CheckIntegrity([]ir.Operation{
		testutil.Op("0", 0, 0),
		testutil.Op("1", 1, 0),
		testutil.Op("1b", 1, 0),
	})
	require.Len(t, issues, 1)
	assert.Equal(t, IssueDuplicatedIndex, issues[0].Code)
}

func TestCheckOperationsIntegrity_CollectsFirst(t *testing.T) {
	ops := []ir.Operation{
		testutil.Op("3", 3, 1),
		testutil.Op("0", 0, 0),
		testutil.Op("2", 2, 0),
		testutil.Op("1", 1, 0),
	}
	assert.Empty(t, CheckOperationsIntegrity(ops))
}

func TestIsIntegrityError_Wrapped(t *testing.T) {
	err := fmt.Errorf("load: %w", &ScopeError{Scope: "global", Err: &IntegrityError{}})
	assert.True(t, IsIntegrityError(err))
	assert.False(t, IsIntegrityError(errors.New("other")))
	assert.Contains(t, err.Error(), "scope global")
}
