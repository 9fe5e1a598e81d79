package pipeline

import (
	"sync"

	"github.com/hrygo/replybridge/internal/strutil"
	"github.com/hrygo/replybridge/plugin/wechat"
)

// Dedup cache bounds.
const (
	DedupMaxEntries  = 100
	DedupRetain      = 50
	FingerprintChars = 20
)

// Fingerprint derives the dedup key of a message: sender, the first
// FingerprintChars characters of content and the reported time.
func Fingerprint(sender string, m *wechat.Message) string {
	return sender + ":" + strutil.Prefix(m.Content, FingerprintChars) + ":" + m.Time
}

// DedupCache holds recently seen fingerprints per conversation. It is not
// persisted; a restart forgets everything.
type DedupCache struct {
	mu    sync.Mutex
	convs map[string]*fingerprintSet
}

type fingerprintSet struct {
	order []string
	set   map[string]struct{}
}

// NewDedupCache returns an empty cache.
func NewDedupCache() *DedupCache {
	return &DedupCache{convs: make(map[string]*fingerprintSet)}
}

// Seen reports whether fp was recorded for conv.
func (d *DedupCache) Seen(conv, fp string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	fs, ok := d.convs[conv]
	if !ok {
		return false
	}
	_, ok = fs.set[fp]
	return ok
}

// Add records fp for conv. When the set grows past DedupMaxEntries only the
// DedupRetain most recent fingerprints are kept.
func (d *DedupCache) Add(conv, fp string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fs, ok := d.convs[conv]
	if !ok {
		fs = &fingerprintSet{set: make(map[string]struct{})}
		d.convs[conv] = fs
	}
	if _, dup := fs.set[fp]; dup {
		return
	}
	fs.order = append(fs.order, fp)
	fs.set[fp] = struct{}{}

	if len(fs.order) > DedupMaxEntries {
		keep := append([]string(nil), fs.order[len(fs.order)-DedupRetain:]...)
		fs.order = keep
		fs.set = make(map[string]struct{}, len(keep))
		for _, k := range keep {
			fs.set[k] = struct{}{}
		}
	}
}

// Len returns the number of fingerprints held for conv.
func (d *DedupCache) Len(conv string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if fs, ok := d.convs[conv]; ok {
		return len(fs.order)
	}
	return 0
}

// Forget drops every fingerprint of conv.
func (d *DedupCache) Forget(conv string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.convs, conv)
}
