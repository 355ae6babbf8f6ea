package bytesize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	cases := []struct {
		in      string
		want    ByteSize
		wantErr bool
	}{
		{"0", 0, false},
		{"1024", 1024, false},
		{"1KiB", KiB, false},
		{"512Ki", 512 * KiB, false},
		{"1.5MiB", 3 * MiB / 2, false},
		{"100MB", 100 * MB, false},
		{"2Gi", 2 * GiB, false},
		{"1TiB", TiB, false},
		{"64kib", 64 * KiB, false},
		{" 8 MiB ", 8 * MiB, false},
		{"", 0, true},
		{"fast", 0, true},
		{"-1KiB", 0, true},
	}
	for _, c := range cases {
		got, err := Parse(c.in)
		if c.wantErr {
			assert.Error(t, err, "input %q", c.in)
			continue
		}
		require.NoError(t, err, "input %q", c.in)
		assert.Equal(t, c.want, got, "input %q", c.in)
	}
}

func TestString(t *testing.T) {
	assert.Equal(t, "512B", (512 * B).String())
	assert.Equal(t, "64.0KiB", (64 * KiB).String())
	assert.Equal(t, "1.5GiB", (3 * GiB / 2).String())
}

func TestTextRoundTrip(t *testing.T) {
	var b ByteSize
	require.NoError(t, b.UnmarshalText([]byte("512KiB")))
	assert.Equal(t, 512*KiB, b)

	out, err := b.MarshalText()
	require.NoError(t, err)

	var b2 ByteSize
	require.NoError(t, b2.UnmarshalText(out))
	assert.Equal(t, b, b2)
}
