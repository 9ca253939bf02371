package uplink

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kubev2v/host-mover/internal/snapshot"
)

func bindings(device string) []snapshot.UplinkBinding {
	return []snapshot.UplinkBinding{{UplinkName: "uplink1", PhysicalAdapterRef: device}}
}

func TestCacheEvictsOldestEntryFirst(t *testing.T) {
	c := NewCache(2)

	c.Put("host-1/dvs-a", bindings("vmnic0"))
	c.Put("host-1/dvs-b", bindings("vmnic1"))
	c.Put("host-1/dvs-c", bindings("vmnic2"))

	_, ok := c.Get("host-1/dvs-a")
	assert.False(t, ok, "oldest entry should have been evicted")

	got, ok := c.Get("host-1/dvs-b")
	assert.True(t, ok)
	assert.Equal(t, "vmnic1", got[0].PhysicalAdapterRef)

	_, ok = c.Get("host-1/dvs-c")
	assert.True(t, ok)
	assert.Equal(t, 2, c.Len())
}

func TestCacheOverwriteDoesNotEvict(t *testing.T) {
	c := NewCache(2)

	c.Put("a", bindings("vmnic0"))
	c.Put("b", bindings("vmnic1"))
	c.Put("a", bindings("vmnic9"))

	got, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, "vmnic9", got[0].PhysicalAdapterRef)
	_, ok = c.Get("b")
	assert.True(t, ok)
}

func TestCacheMinimumCapacity(t *testing.T) {
	c := NewCache(0)
	c.Put("a", bindings("vmnic0"))
	c.Put("b", bindings("vmnic1"))

	_, ok := c.Get("a")
	assert.False(t, ok)
	_, ok = c.Get("b")
	assert.True(t, ok)
	assert.Equal(t, 1, c.Len())
}
