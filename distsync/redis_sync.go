// Package distsync provides the optional cluster-wide coordination
// hook for ratelimit.Limiter. It is never required: Limiter works
// fully in local-only mode without it.
package distsync

import (
	"context"
	"strconv"
	"time"

	"github.com/alfred-ai/netctl/redisclient"
)

// RedisSync implements ratelimit.DistributedSync over a shared Redis
// counter: each Sync call atomically increments the key's counter for
// the current fixed window slot and refreshes its expiry to window,
// returning the post-increment cluster-wide count for that slot.
type RedisSync struct {
	client *redisclient.Client
	prefix string
	timeout time.Duration
}

// New wraps client as a distributed rate-limit sync hook. keyPrefix
// namespaces the counters this instance writes (e.g. by deployment or
// region) so multiple limiter pools can share one Redis instance.
func New(client *redisclient.Client, keyPrefix string) *RedisSync {
	return &RedisSync{client: client, prefix: keyPrefix, timeout: 2 * time.Second}
}

// Sync increments the shared counter for key by weight's worth of
// requests and returns the cluster-wide total within window.
func (r *RedisSync) Sync(key string, weight uint32, window time.Duration) (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	// One counter per fixed window slot: the expiry is refreshed on
	// every increment, so a single long-lived key would never reset
	// under steady traffic.
	slot := ""
	if window > 0 {
		slot = ":" + strconv.FormatInt(time.Now().UnixNano()/int64(window), 10)
	}
	total, err := r.client.IncrByWithExpire(ctx, r.prefix+key+slot, int64(weight), window)
	if err != nil {
		return 0, err
	}
	return total, nil
}
