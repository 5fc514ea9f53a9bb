package metrics

import (
	"strconv"
	"sync"

	"github.com/dbehnke/nr-codec/pkg/harq"
	"github.com/dbehnke/nr-codec/pkg/sch"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector collects codec metrics. It is a harq.Sink for decode
// indications and an sch.Observer for segment and encoder events.
type Collector struct {
	registry *prometheus.Registry

	blocks        *prometheus.CounterVec
	blockBytes    prometheus.Counter
	segments      *prometheus.CounterVec
	iterations    prometheus.Histogram
	encodedBlocks *prometheus.CounterVec
	encodedBytes  prometheus.Counter

	mu      sync.RWMutex
	summary Summary
}

// Summary is a point-in-time view of the counters for the status API.
type Summary struct {
	Blocks          uint64 `json:"blocks"`
	Acks            uint64 `json:"acks"`
	Nacks           uint64 `json:"nacks"`
	BytesDecoded    uint64 `json:"bytes_decoded"`
	SegmentsDecoded uint64 `json:"segments_decoded"`
	SegmentsFailed  uint64 `json:"segments_failed"`
	SegmentsSkipped uint64 `json:"segments_skipped"`
	BlocksEncoded   uint64 `json:"blocks_encoded"`
	Retransmissions uint64 `json:"retransmissions"`
}

// NewCollector creates a new metrics collector on its own registry
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		blocks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nr_sch_blocks_total",
			Help: "Decoded transport block attempts by outcome and HARQ round",
		}, []string{"result", "round"}),
		blockBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "nr_sch_block_bytes_total",
			Help: "Payload bytes of successfully decoded transport blocks",
		}),
		segments: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nr_sch_segments_total",
			Help: "Code block segments by decode outcome",
		}, []string{"result"}),
		iterations: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "nr_ldpc_iterations",
			Help:    "LDPC iterations per decoded segment",
			Buckets: prometheus.LinearBuckets(1, 1, 10),
		}),
		encodedBlocks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nr_sch_encoded_blocks_total",
			Help: "Encoded transport blocks by transmission type",
		}, []string{"type"}),
		encodedBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "nr_sch_encoded_bytes_total",
			Help: "Payload bytes of newly encoded transport blocks",
		}),
	}
}

// Registry returns the registry the collector's metrics live in
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Indicate records a decode indication.
func (c *Collector) Indicate(ind harq.Indication) {
	result := "nack"
	if ind.OK {
		result = "ack"
		c.blockBytes.Add(float64(ind.TBSize))
	}
	c.blocks.WithLabelValues(result, strconv.Itoa(ind.Round)).Inc()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.summary.Blocks++
	if ind.OK {
		c.summary.Acks++
		c.summary.BytesDecoded += uint64(ind.TBSize)
	} else {
		c.summary.Nacks++
	}
}

// SegmentDecoded records the outcome of one segment job.
func (c *Collector) SegmentDecoded(r sch.Result) {
	var result string
	switch {
	case r.Skipped:
		result = "skipped"
	case r.Err != nil:
		result = "error"
	case r.OK:
		result = "ok"
	default:
		result = "crc_fail"
	}
	c.segments.WithLabelValues(result).Inc()
	if !r.Skipped && r.Err == nil {
		c.iterations.Observe(float64(r.Iterations))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	switch result {
	case "ok":
		c.summary.SegmentsDecoded++
	case "skipped":
		c.summary.SegmentsSkipped++
	default:
		c.summary.SegmentsFailed++
	}
}

// BlockEncoded records one transmission from the encoder.
func (c *Collector) BlockEncoded(bytes, segments int, newData bool) {
	kind := "retransmission"
	if newData {
		kind = "new"
		c.encodedBytes.Add(float64(bytes))
	}
	c.encodedBlocks.WithLabelValues(kind).Inc()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.summary.BlocksEncoded++
	if !newData {
		c.summary.Retransmissions++
	}
}

// Summary returns a copy of the running totals
func (c *Collector) Summary() Summary {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.summary
}
