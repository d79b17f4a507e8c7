package search

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ocx/gateway/internal/catalog"
)

func TestRerankCache_EvictsOldestInsertionFirst(t *testing.T) {
	c := NewRerankCache(2, time.Hour)

	c.Put("a", []RankedFunction{{Function: catalog.Function{Name: "a"}}})
	c.Put("b", []RankedFunction{{Function: catalog.Function{Name: "b"}}})
	c.Put("c", []RankedFunction{{Function: catalog.Function{Name: "c"}}}) // should evict "a", not "b"

	_, aOK := c.Get("a")
	_, bOK := c.Get("b")
	_, cOK := c.Get("c")

	assert.False(t, aOK, "oldest entry should have been evicted")
	assert.True(t, bOK)
	assert.True(t, cOK)
	assert.Equal(t, 2, c.Len())
}

func TestRerankCache_ReinsertDoesNotDuplicateOrder(t *testing.T) {
	c := NewRerankCache(2, time.Hour)

	c.Put("a", []RankedFunction{{Function: catalog.Function{Name: "a-v1"}}})
	c.Put("a", []RankedFunction{{Function: catalog.Function{Name: "a-v2"}}})
	c.Put("b", []RankedFunction{{Function: catalog.Function{Name: "b"}}})
	c.Put("c", []RankedFunction{{Function: catalog.Function{Name: "c"}}})

	// "a" was re-inserted, not re-ordered by the second Put, so it is still
	// the oldest entry and should be the one evicted.
	_, aOK := c.Get("a")
	assert.False(t, aOK)
	assert.Equal(t, 2, c.Len())
}

func TestRerankCache_ExpiresByTTL(t *testing.T) {
	c := NewRerankCache(10, 20*time.Millisecond)
	c.Put("a", []RankedFunction{{Function: catalog.Function{Name: "a"}}})

	_, ok := c.Get("a")
	assert.True(t, ok)

	time.Sleep(30 * time.Millisecond)
	_, ok = c.Get("a")
	assert.False(t, ok, "entry should have expired")
}
