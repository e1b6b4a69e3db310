// Package metrics aggregates admission decisions into counters a stats
// endpoint or dashboard can serve. It implements the middleware's
// Recorder interface.
package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yourusername/floodgate/pkg/floodgate"
)

// Collector accumulates decision counts, overall, per algorithm and per
// client. Safe for concurrent use.
type Collector struct {
	total   atomic.Int64
	allowed atomic.Int64
	denied  atomic.Int64

	mu          sync.RWMutex
	byAlgorithm map[floodgate.Algorithm]*AlgorithmStats
	byClient    map[string]*ClientStats
	startTime   time.Time
}

// AlgorithmStats counts decisions produced by one algorithm.
type AlgorithmStats struct {
	Algorithm floodgate.Algorithm `json:"algorithm"`
	Total     int64               `json:"total"`
	Allowed   int64               `json:"allowed"`
	Denied    int64               `json:"denied"`
}

// ClientStats counts decisions for one client key.
type ClientStats struct {
	Key       string    `json:"key"`
	Total     int64     `json:"total"`
	Allowed   int64     `json:"allowed"`
	Denied    int64     `json:"denied"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// Snapshot is a point-in-time view of the collector.
type Snapshot struct {
	Total         int64             `json:"total"`
	Allowed       int64             `json:"allowed"`
	Denied        int64             `json:"denied"`
	UniqueClients int64             `json:"unique_clients"`
	ByAlgorithm   []*AlgorithmStats `json:"by_algorithm"`
	TopClients    []*ClientStats    `json:"top_clients"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	StartTime     time.Time         `json:"start_time"`
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{
		byAlgorithm: make(map[floodgate.Algorithm]*AlgorithmStats),
		byClient:    make(map[string]*ClientStats),
		startTime:   time.Now(),
	}
}

// Record counts one decision.
func (c *Collector) Record(d *floodgate.Decision) {
	c.total.Add(1)
	if d.Allowed {
		c.allowed.Add(1)
	} else {
		c.denied.Add(1)
	}

	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	alg, ok := c.byAlgorithm[d.Algorithm]
	if !ok {
		alg = &AlgorithmStats{Algorithm: d.Algorithm}
		c.byAlgorithm[d.Algorithm] = alg
	}
	alg.Total++

	client, ok := c.byClient[d.Key]
	if !ok {
		client = &ClientStats{Key: d.Key, FirstSeen: now}
		c.byClient[d.Key] = client
	}
	client.Total++
	client.LastSeen = now

	if d.Allowed {
		alg.Allowed++
		client.Allowed++
	} else {
		alg.Denied++
		client.Denied++
	}
}

// Snapshot copies the current counters. TopClients holds at most the ten
// busiest clients by total decisions.
func (c *Collector) Snapshot() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	byAlgorithm := make([]*AlgorithmStats, 0, len(c.byAlgorithm))
	for _, alg := range c.byAlgorithm {
		copied := *alg
		byAlgorithm = append(byAlgorithm, &copied)
	}
	sort.Slice(byAlgorithm, func(i, j int) bool {
		return byAlgorithm[i].Algorithm < byAlgorithm[j].Algorithm
	})

	topClients := make([]*ClientStats, 0, len(c.byClient))
	for _, client := range c.byClient {
		copied := *client
		topClients = append(topClients, &copied)
	}
	sort.Slice(topClients, func(i, j int) bool {
		if topClients[i].Total != topClients[j].Total {
			return topClients[i].Total > topClients[j].Total
		}
		return topClients[i].Key < topClients[j].Key
	})
	if len(topClients) > 10 {
		topClients = topClients[:10]
	}

	return &Snapshot{
		Total:         c.total.Load(),
		Allowed:       c.allowed.Load(),
		Denied:        c.denied.Load(),
		UniqueClients: int64(len(c.byClient)),
		ByAlgorithm:   byAlgorithm,
		TopClients:    topClients,
		UptimeSeconds: int64(time.Since(c.startTime).Seconds()),
		StartTime:     c.startTime,
	}
}

// Reset clears all counters. The start time is reset too.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.total.Store(0)
	c.allowed.Store(0)
	c.denied.Store(0)
	c.byAlgorithm = make(map[floodgate.Algorithm]*AlgorithmStats)
	c.byClient = make(map[string]*ClientStats)
	c.startTime = time.Now()
}
