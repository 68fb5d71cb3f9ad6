package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Title string
	Size  int64
}

func TestMemoryCacheRoundTrip(t *testing.T) {
	c := NewMemoryCache(1 << 20)

	require.NoError(t, c.Set("k", &payload{Title: "Invoice", Size: 42}, time.Minute))

	var got payload
	require.NoError(t, c.Get("k", &got))
	assert.Equal(t, "Invoice", got.Title)
	assert.Equal(t, int64(42), got.Size)

	require.NoError(t, c.Delete("k"))
	assert.Error(t, c.Get("k", &got))
}

func TestFetchComputesOnMiss(t *testing.T) {
	c := NewMemoryCache(1 << 20)
	calls := 0
	fn := func() (payload, error) {
		calls++
		return payload{Title: "Invoice"}, nil
	}

	got, err := Fetch(c, "k", time.Minute, fn)
	require.NoError(t, err)
	assert.Equal(t, "Invoice", got.Title)
	assert.Equal(t, 1, calls)

	// Hit: fn not invoked again.
	got, err = Fetch(c, "k", time.Minute, fn)
	require.NoError(t, err)
	assert.Equal(t, "Invoice", got.Title)
	assert.Equal(t, 1, calls)
}

func TestKey(t *testing.T) {
	assert.Equal(t, "shares:abc", KeyShare("abc"))
	assert.Equal(t, "a:1:true", Key("a", 1, true))
}
