package pipeline

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFingerprint(t *testing.T) {
	long := strings.Repeat("你好", 15)
	fp := Fingerprint("Alice", textMsg("Alice", long, "10:01"))
	assert.Equal(t, "Alice:"+strings.Repeat("你好", 10)+":10:01", fp)

	assert.Equal(t, "Alice:Hi:", Fingerprint("Alice", textMsg("Alice", "Hi", "")))
	assert.NotEqual(t,
		Fingerprint("Alice", textMsg("Alice", "Hi", "10:01")),
		Fingerprint("Alice", textMsg("Alice", "Hi", "10:02")))
}

func TestDedupCache_SeenAdd(t *testing.T) {
	d := NewDedupCache()
	assert.False(t, d.Seen("Alice", "a"))
	d.Add("Alice", "a")
	d.Add("Alice", "a")
	assert.True(t, d.Seen("Alice", "a"))
	assert.False(t, d.Seen("Bob", "a"), "scoped per conversation")
	assert.Equal(t, 1, d.Len("Alice"))

	d.Forget("Alice")
	assert.False(t, d.Seen("Alice", "a"))
	assert.Equal(t, 0, d.Len("Alice"))
}

func TestDedupCache_Eviction(t *testing.T) {
	d := NewDedupCache()
	for i := 0; i < DedupMaxEntries; i++ {
		d.Add("Alice", fmt.Sprintf("fp-%d", i))
	}
	assert.Equal(t, DedupMaxEntries, d.Len("Alice"))

	d.Add("Alice", "fp-100")
	assert.Equal(t, DedupRetain, d.Len("Alice"))
	assert.False(t, d.Seen("Alice", "fp-0"))
	assert.False(t, d.Seen("Alice", "fp-50"))
	assert.True(t, d.Seen("Alice", "fp-51"))
	assert.True(t, d.Seen("Alice", "fp-100"))
}
