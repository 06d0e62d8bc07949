package vm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeUnsignedRoundTrip(t *testing.T) {
	for _, v := range []uint32{0, 1, 255, 1 << 16, 0xFFFFFFFF} {
		buf := EncodeUnsigned(v)
		require.Len(t, buf, wordSize)

		got, err := DecodeUnsigned(buf, 0)
		require.NoError(t, err)
		require.Equal(t, v, got)
	}
}

func TestEncodeDecodeSignedRoundTrip(t *testing.T) {
	for _, v := range []int32{0, 1, -1, 2147483647, -2147483648} {
		buf := EncodeSigned(v)
		got, err := DecodeSigned(buf, 0)
		require.NoError(t, err)
		require.Equal(t, v, got)
	}
}

func TestDecodeUnsignedBigEndian(t *testing.T) {
	buf := []byte{0x00, 0x00, 0x01, 0x00}
	v, err := DecodeUnsigned(buf, 0)
	require.NoError(t, err)
	require.Equal(t, uint32(256), v)
}

func TestDecodeUnsignedTruncated(t *testing.T) {
	_, err := DecodeUnsigned([]byte{0x01, 0x02}, 0)
	require.ErrorIs(t, err, ErrTruncation)
}

func TestDecodeSignedOffsetPastEnd(t *testing.T) {
	_, err := DecodeSigned([]byte{0x01, 0x02, 0x03, 0x04}, 4)
	require.ErrorIs(t, err, ErrTruncation)
}

func TestDecodeCString(t *testing.T) {
	buf := append([]byte("hi"), 0, 'x')
	s, err := DecodeCString(buf, 0)
	require.NoError(t, err)
	require.Equal(t, "hi", s)
}

func TestDecodeCStringUnterminated(t *testing.T) {
	_, err := DecodeCString([]byte("no-nul"), 0)
	require.ErrorIs(t, err, ErrTruncation)
}
