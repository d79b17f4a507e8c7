package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursor_RoundTrip(t *testing.T) {
	c := encodeCursor(42)
	id, err := decodeCursor(c)
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
}

func TestCursor_EmptyCursorDecodesToZero(t *testing.T) {
	id, err := decodeCursor(Cursor(""))
	require.NoError(t, err)
	assert.Equal(t, int64(0), id)
}

func TestCursor_InvalidCursorErrors(t *testing.T) {
	_, err := decodeCursor(Cursor("not-valid-base64!!"))
	assert.Error(t, err)
}

func TestCursor_DistinctIDsGiveDistinctCursors(t *testing.T) {
	// Two different IDs must encode to two different cursors.
	c1 := encodeCursor(1)
	c2 := encodeCursor(2)
	assert.NotEqual(t, c1, c2)
}
