package registry

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ipaproto/helper/pkg/apperr"
	"github.com/ipaproto/helper/pkg/types"
)

func TestLookupKnownTypes(t *testing.T) {
	for _, qt := range Supported() {
		d, err := Lookup(qt)
		require.NoError(t, err)
		require.NotNil(t, d)
	}
}

func TestLookupUnknownTypeIsBadInput(t *testing.T) {
	_, err := Lookup(types.QueryType("nonexistent"))
	require.Error(t, err)
	require.True(t, apperr.Is(err, apperr.KindBadInput))
}

func TestRegistryIsClosed(t *testing.T) {
	// The registry exposes no Register function; Supported() must
	// always report exactly the four closed entries, regardless of
	// what a caller might otherwise want to add at runtime.
	require.Len(t, Supported(), 4)
}
