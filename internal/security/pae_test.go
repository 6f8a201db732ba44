package security

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func le64(n uint64) []byte {
	return binary.LittleEndian.AppendUint64(nil, n)
}

func TestPAEKnownVector(t *testing.T) {
	got := PAE([]byte("v4.public."), []byte("hello"), nil)

	var want bytes.Buffer
	want.Write(le64(3))
	want.Write(le64(10))
	want.WriteString("v4.public.")
	want.Write(le64(5))
	want.WriteString("hello")
	want.Write(le64(0))

	require.Len(t, got, 39)
	assert.Equal(t, want.Bytes(), got)
}

func TestPAELength(t *testing.T) {
	cases := []struct{ h, m, f string }{
		{"", "", ""},
		{"v4.public.", "", ""},
		{"v4.public.", `{"sub":"u1"}`, ""},
		{"a", "b", "c"},
		{"", string(make([]byte, 1000)), "footer"},
	}
	for _, c := range cases {
		got := PAE([]byte(c.h), []byte(c.m), []byte(c.f))
		assert.Len(t, got, 8+(8+len(c.h))+(8+len(c.m))+(8+len(c.f)))
		assert.Equal(t, le64(3), got[:8], "piece count is always 3")
	}
}

func TestPAEEmptyFooterStillEncoded(t *testing.T) {
	got := PAE([]byte("h"), []byte("m"), []byte{})
	assert.Equal(t, le64(0), got[len(got)-8:])
	assert.Equal(t, PAE([]byte("h"), []byte("m"), nil), got, "nil and empty footer encode the same")
}

func TestPAEDomainSeparation(t *testing.T) {
	// The raw concatenations are identical; the encodings must not be.
	a := PAE([]byte("ab"), []byte("c"), nil)
	b := PAE([]byte("a"), []byte("bc"), nil)
	c := PAE([]byte("a"), []byte("b"), []byte("c"))
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, b, c)
}

func TestPAEDeterministic(t *testing.T) {
	h, m := []byte("v4.public."), []byte(`{"x":1}`)
	assert.Equal(t, PAE(h, m, nil), PAE(h, m, nil))
}
