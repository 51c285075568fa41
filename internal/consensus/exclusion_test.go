package consensus

import (
	"context"
	"errors"
	"testing"

	"secmaster/internal/store/memory"
	"secmaster/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockVendorResolver struct {
	mock.Mock
}

func (m *MockVendorResolver) ResolveID(ctx context.Context, name string) (types.SourceID, error) {
	args := m.Called(ctx, name)
	return args.Get(0).(types.SourceID), args.Error(1)
}

func TestResolveExclusions(t *testing.T) {
	st := memory.New()
	st.AddVendor(1, "Quandl_WIKI", nil)
	st.AddVendor(9, DefaultConsensusVendor, nil)

	set, unresolved, err := ResolveExclusions(context.Background(), st.Vendors(),
		exclusionNames(DefaultConsensusVendor, []string{"Quandl_WIKI", " ", DefaultConsensusVendor, "Yahoo"}))
	require.NoError(t, err)
	assert.Equal(t, types.NewSourceSet(1, 9), set)
	assert.Equal(t, []string{"Yahoo"}, unresolved)
}

func TestResolveExclusions_LookupFailure(t *testing.T) {
	m := new(MockVendorResolver)
	boom := errors.New("connection reset")
	m.On("ResolveID", mock.Anything, "CSI_Data").Return(types.SourceID(0), boom)

	_, _, err := ResolveExclusions(context.Background(), m, []string{"CSI_Data"})
	assert.ErrorIs(t, err, boom)
	m.AssertExpectations(t)
}

func TestExclusionNames(t *testing.T) {
	assert.Equal(t, []string{"C"}, exclusionNames("C", nil))
	assert.Equal(t, []string{"C", "A", "B"}, exclusionNames("C", []string{"A", "B"}))
}
