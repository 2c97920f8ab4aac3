package ping

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// pendingTable tracks probes that are waiting for a reply. Entries live for
// the probe timeout; the owner sweeps them on its own schedule and every
// expired entry is reported exactly once through onExpire.
type pendingTable struct {
	cache *ttlcache.Cache[uint64, time.Time]
}

func newPendingTable(timeout time.Duration, onExpire func(seq uint64, sentAt time.Time)) *pendingTable {
	cache := ttlcache.New[uint64, time.Time](
		ttlcache.WithTTL[uint64, time.Time](timeout),
		ttlcache.WithDisableTouchOnHit[uint64, time.Time](),
	)
	cache.OnEviction(func(ctx context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[uint64, time.Time]) {
		if reason == ttlcache.EvictionReasonExpired {
			onExpire(item.Key(), item.Value())
		}
	})
	return &pendingTable{cache: cache}
}

func (t *pendingTable) add(seq uint64, sentAt time.Time) {
	t.cache.Set(seq, sentAt, ttlcache.DefaultTTL)
}

// resolve removes seq and returns its send time. Unknown, answered and
// expired sequences all report false.
func (t *pendingTable) resolve(seq uint64) (time.Time, bool) {
	item, ok := t.cache.GetAndDelete(seq)
	if !ok || item == nil {
		return time.Time{}, false
	}
	return item.Value(), true
}

// sweep evicts every expired entry.
func (t *pendingTable) sweep() {
	t.cache.DeleteExpired()
}

func (t *pendingTable) len() int {
	return t.cache.Len()
}
