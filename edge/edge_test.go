package edge

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/c360/csp/errors"
	"github.com/c360/csp/value"
)

func TestWriteAppendsInOrder(t *testing.T) {
	b := NewBuffer("a", value.Type{Kind: value.KindInt64}, 4, nil)

	_, err := b.Write(10, value.Int64(1))
	require.NoError(t, err)
	_, err = b.Write(20, value.Int64(2))
	require.NoError(t, err)

	last, v, ok := b.Last()
	require.True(t, ok)
	require.Equal(t, Time(20), last)
	n, _ := v.AsInt64()
	require.EqualValues(t, 2, n)
}

func TestWriteSameTimeOverwrites(t *testing.T) {
	b := NewBuffer("a", value.Type{Kind: value.KindInt64}, 4, nil)

	overwrite, err := b.Write(10, value.Int64(1))
	require.NoError(t, err)
	require.False(t, overwrite)

	overwrite, err = b.Write(10, value.Int64(99))
	require.NoError(t, err)
	require.True(t, overwrite)

	require.Equal(t, 1, b.Size())
	_, v, ok := b.Last()
	require.True(t, ok)
	n, _ := v.AsInt64()
	require.EqualValues(t, 99, n)
}

func TestWriteRegressionIsFatal(t *testing.T) {
	b := NewBuffer("a", value.Type{Kind: value.KindInt64}, 4, nil)

	_, err := b.Write(20, value.Int64(1))
	require.NoError(t, err)

	_, err = b.Write(10, value.Int64(2))
	require.Error(t, err)
	require.True(t, errors.IsFatal(err))
}

func TestAtHistoryUnderflow(t *testing.T) {
	b := NewBuffer("a", value.Type{Kind: value.KindInt64}, 4, nil)

	_, err := b.Write(10, value.Int64(1))
	require.NoError(t, err)

	_, _, err = b.At(0)
	require.NoError(t, err)

	_, _, err = b.At(1)
	require.Error(t, err)
	require.True(t, errors.IsTransient(err))
}

func TestAtWalksBackThroughHistory(t *testing.T) {
	b := NewBuffer("a", value.Type{Kind: value.KindInt64}, 3, nil)

	for i, t0 := range []Time{10, 20, 30, 40} {
		_, err := b.Write(t0, value.Int64(int64(i)))
		require.NoError(t, err)
	}

	// capacity is 3, so only samples from t=20,30,40 survive
	tm, v, err := b.At(0)
	require.NoError(t, err)
	require.Equal(t, Time(40), tm)
	n, _ := v.AsInt64()
	require.EqualValues(t, 3, n)

	tm, v, err = b.At(2)
	require.NoError(t, err)
	require.Equal(t, Time(20), tm)
	n, _ = v.AsInt64()
	require.EqualValues(t, 1, n)

	_, _, err = b.At(3)
	require.Error(t, err)
}

func TestTickedAt(t *testing.T) {
	b := NewBuffer("a", value.Type{Kind: value.KindInt64}, 4, nil)
	require.False(t, b.TickedAt(10))

	_, err := b.Write(10, value.Int64(1))
	require.NoError(t, err)

	require.True(t, b.TickedAt(10))
	require.False(t, b.TickedAt(11))
}
