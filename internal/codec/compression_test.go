package codec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, name Name) {
	t.Helper()
	alg, err := Get(name)
	require.NoError(t, err)

	src := []byte("the quick brown fox jumps over the lazy dog, repeated, repeated, repeated")
	var buf bytes.Buffer
	require.NoError(t, alg.Encode(&buf, src))

	out, err := alg.Decode(buf.Bytes())
	require.NoError(t, err)
	require.Equal(t, src, out)
}

func TestNoneRoundTrip(t *testing.T)   { roundTrip(t, None) }
func TestZstdRoundTrip(t *testing.T)   { roundTrip(t, Zstd) }
func TestSnappyRoundTrip(t *testing.T) { roundTrip(t, Snappy) }
func TestLZ4RoundTrip(t *testing.T)    { roundTrip(t, LZ4) }

func TestGetUnknownAlgorithmFails(t *testing.T) {
	_, err := Get(Name("bogus"))
	require.Error(t, err)
}

func TestValidRecognizesRegisteredNames(t *testing.T) {
	require.True(t, Valid("none"))
	require.True(t, Valid("zstd"))
	require.False(t, Valid("bogus"))
}
