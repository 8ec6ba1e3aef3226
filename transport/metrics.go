package transport

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	queueDepthDesc = prometheus.NewDesc(
		"streamit_transport_queue_depth",
		"Number of filled buffers in flight on an edge.",
		[]string{"edge"}, nil,
	)
	queueFreeDesc = prometheus.NewDesc(
		"streamit_transport_queue_free_buffers",
		"Number of buffers in the free pool of an edge.",
		[]string{"edge"}, nil,
	)
	queueCapacityDesc = prometheus.NewDesc(
		"streamit_transport_queue_capacity",
		"Maximum number of buffers in flight on an edge.",
		[]string{"edge"}, nil,
	)
	producerFlushesDesc = prometheus.NewDesc(
		"streamit_transport_producer_flushes_total",
		"Number of buffers flushed by a producer.",
		[]string{"edge"}, nil,
	)
	producerItemsDesc = prometheus.NewDesc(
		"streamit_transport_producer_items_total",
		"Number of items pushed to a producer.",
		[]string{"edge"}, nil,
	)
)

// Collector reports the state of queues and producers at scrape time.
type Collector struct {
	mu        sync.Mutex
	queues    map[string]*Queue
	producers map[string]*Producer
}

func NewCollector() *Collector {
	return &Collector{
		queues:    make(map[string]*Queue),
		producers: make(map[string]*Producer),
	}
}

func (c *Collector) AddQueue(q *Queue) {
	c.mu.Lock()
	c.queues[q.Name()] = q
	c.mu.Unlock()
}

func (c *Collector) AddProducer(p *Producer) {
	c.mu.Lock()
	c.producers[p.Name()] = p
	c.mu.Unlock()
}

// Remove stops reporting the queue and producer of an edge.
func (c *Collector) Remove(edge string) {
	c.mu.Lock()
	delete(c.queues, edge)
	delete(c.producers, edge)
	c.mu.Unlock()
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- queueDepthDesc
	ch <- queueFreeDesc
	ch <- queueCapacityDesc
	ch <- producerFlushesDesc
	ch <- producerItemsDesc
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for name, q := range c.queues {
		ch <- prometheus.MustNewConstMetric(queueDepthDesc, prometheus.GaugeValue, float64(q.Len()), name)
		ch <- prometheus.MustNewConstMetric(queueFreeDesc, prometheus.GaugeValue, float64(q.Free()), name)
		ch <- prometheus.MustNewConstMetric(queueCapacityDesc, prometheus.GaugeValue, float64(q.Cap()), name)
	}
	for name, p := range c.producers {
		ch <- prometheus.MustNewConstMetric(producerFlushesDesc, prometheus.CounterValue, float64(p.Flushes()), name)
		ch <- prometheus.MustNewConstMetric(producerItemsDesc, prometheus.CounterValue, float64(p.Pushed()), name)
	}
}
