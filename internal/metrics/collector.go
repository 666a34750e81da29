package metrics

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/beacon/internal/campaign"
)

// StatusCounter reports how many campaigns are in each status
type StatusCounter interface {
	CountByStatus(ctx context.Context) (map[campaign.Status]int, error)
}

var (
	bucketMetrics = []byte("metrics")
	keyCounters   = []byte("counters")
)

// counterSample is one persisted counter child
type counterSample struct {
	Name   string            `json:"name"`
	Labels map[string]string `json:"labels,omitempty"`
	Value  float64           `json:"value"`
}

// Collector persists delivery and engagement counters across restarts and
// refreshes the system gauges
type Collector struct {
	db            *bolt.DB
	metrics       *Metrics
	statuses      StatusCounter
	storagePath   string
	flushInterval time.Duration
	startTime     time.Time
	logger        *slog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewCollector creates a collector and restores previously persisted counters
func NewCollector(db *bolt.DB, m *Metrics, statuses StatusCounter, storagePath string, flushInterval time.Duration, logger *slog.Logger) (*Collector, error) {
	if flushInterval == 0 {
		flushInterval = 15 * time.Second
	}

	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketMetrics)
		return err
	})
	if err != nil {
		return nil, err
	}

	c := &Collector{
		db:            db,
		metrics:       m,
		statuses:      statuses,
		storagePath:   storagePath,
		flushInterval: flushInterval,
		startTime:     time.Now(),
		logger:        logger,
		stopCh:        make(chan struct{}),
	}

	if err := c.loadCounters(); err != nil {
		return nil, err
	}

	return c, nil
}

// Start begins the collector background tasks
func (c *Collector) Start(ctx context.Context) {
	c.collectSystemMetrics(ctx)

	c.wg.Add(1)
	go c.loop(ctx)
}

// Stop stops the collector and persists final values
func (c *Collector) Stop() error {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
	return c.persistCounters()
}

// loadCounters adds persisted values onto the fresh counters
func (c *Collector) loadCounters() error {
	var samples []counterSample

	err := c.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketMetrics)
		if bucket == nil {
			return nil
		}
		data := bucket.Get(keyCounters)
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &samples); err != nil {
			c.logger.Warn("discarding unreadable persisted counters", "error", err)
			samples = nil
		}
		return nil
	})
	if err != nil {
		return err
	}

	vecs := c.metrics.persistentCounters()
	for _, s := range samples {
		vec, ok := vecs[s.Name]
		if !ok || s.Value <= 0 {
			continue
		}
		counter, err := vec.GetMetricWith(prometheus.Labels(s.Labels))
		if err != nil {
			c.logger.Warn("skipping persisted counter", "name", s.Name, "error", err)
			continue
		}
		counter.Add(s.Value)
	}
	return nil
}

// snapshot reads the current values of all persistent counters
func (c *Collector) snapshot() ([]counterSample, error) {
	families, err := c.metrics.Registry().Gather()
	if err != nil {
		return nil, err
	}

	vecs := c.metrics.persistentCounters()
	var samples []counterSample
	for _, f := range families {
		if _, ok := vecs[f.GetName()]; !ok {
			continue
		}
		for _, m := range f.GetMetric() {
			s := counterSample{
				Name:  f.GetName(),
				Value: m.GetCounter().GetValue(),
			}
			if len(m.GetLabel()) > 0 {
				s.Labels = make(map[string]string, len(m.GetLabel()))
				for _, lp := range m.GetLabel() {
					s.Labels[lp.GetName()] = lp.GetValue()
				}
			}
			samples = append(samples, s)
		}
	}
	return samples, nil
}

// persistCounters saves counter values to BoltDB
func (c *Collector) persistCounters() error {
	samples, err := c.snapshot()
	if err != nil {
		return err
	}
	data, err := json.Marshal(samples)
	if err != nil {
		return err
	}

	return c.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketMetrics)
		if bucket == nil {
			return nil
		}
		return bucket.Put(keyCounters, data)
	})
}

// loop periodically refreshes gauges and persists counters
func (c *Collector) loop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.collectSystemMetrics(ctx)
			if err := c.persistCounters(); err != nil {
				c.logger.Warn("failed to persist counters", "error", err)
			}
		}
	}
}

// collectSystemMetrics collects current system state
func (c *Collector) collectSystemMetrics(ctx context.Context) {
	c.metrics.UptimeSeconds.Set(time.Since(c.startTime).Seconds())
	c.metrics.Goroutines.Set(float64(runtime.NumGoroutine()))

	if c.storagePath != "" {
		if info, err := os.Stat(c.storagePath); err == nil {
			c.metrics.StorageUsedBytes.Set(float64(info.Size()))
		}
	}

	if c.statuses == nil {
		return
	}
	counts, err := c.statuses.CountByStatus(ctx)
	if err != nil {
		c.logger.Warn("failed to count campaigns", "error", err)
		return
	}
	for _, status := range []campaign.Status{
		campaign.StatusDraft,
		campaign.StatusScheduled,
		campaign.StatusSending,
		campaign.StatusSent,
		campaign.StatusCompleted,
		campaign.StatusFailed,
	} {
		c.metrics.CampaignsByStatus.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}
