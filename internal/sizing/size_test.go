package sizing

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/mpq/internal/mpqtype"
)

func TestToInt(t *testing.T) {
	t.Parallel()

	n, err := ToInt(42)
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	_, err = ToInt(math.MaxUint64)
	require.ErrorIs(t, err, mpqtype.ErrCapacity)

	_, err = ToInt64(math.MaxUint64)
	require.ErrorIs(t, err, mpqtype.ErrCapacity)
}

func TestAddAndFits(t *testing.T) {
	t.Parallel()

	sum, ok := Add(1, 2)
	assert.True(t, ok)
	assert.Equal(t, uint64(3), sum)
	_, ok = Add(math.MaxUint64, 1)
	assert.False(t, ok)

	tests := []struct {
		off, n, size uint64
		want         bool
	}{
		{0, 10, 10, true},
		{5, 6, 10, false},
		{10, 0, 10, true},
		{math.MaxUint64, 2, math.MaxUint64, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Fits(tt.off, tt.n, tt.size), "off=%d n=%d size=%d", tt.off, tt.n, tt.size)
	}
}

func TestUint32(t *testing.T) {
	t.Parallel()

	v, err := Uint32(7, "size")
	require.NoError(t, err)
	assert.Equal(t, uint32(7), v)
	_, err = Uint32(1<<32, "size")
	require.ErrorIs(t, err, mpqtype.ErrCapacity)
}
