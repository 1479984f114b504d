package checked

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAdd64(t *testing.T) {
	sum, err := Add64(1, 2)
	require.NoError(t, err)
	require.Equal(t, uint64(3), sum)

	_, err = Add64(math.MaxUint64, 1)
	require.ErrorIs(t, err, ErrOverflow)
}

func TestSub64(t *testing.T) {
	diff, err := Sub64(5, 3)
	require.NoError(t, err)
	require.Equal(t, uint64(2), diff)

	_, err = Sub64(3, 5)
	require.ErrorIs(t, err, ErrOverflow)
}

func TestMul64(t *testing.T) {
	prod, err := Mul64(1<<32, 1<<31)
	require.NoError(t, err)
	require.Equal(t, uint64(1)<<63, prod)

	_, err = Mul64(1<<32, 1<<32)
	require.ErrorIs(t, err, ErrOverflow)
}

func TestAdd32(t *testing.T) {
	sum, err := Add32(math.MaxUint32-1, 1)
	require.NoError(t, err)
	require.Equal(t, uint32(math.MaxUint32), sum)

	_, err = Add32(math.MaxUint32, 1)
	require.ErrorIs(t, err, ErrOverflow)
}
