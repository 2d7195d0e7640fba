package metrics

import "github.com/prometheus/client_golang/prometheus"

// DBPoolStats is a snapshot of connection pool state.
type DBPoolStats struct {
	Total        int32
	Idle         int32
	Acquired     int32
	Max          int32
	AcquireCount int64
	EmptyAcquire int64
}

// DBPoolStatFunc returns pool statistics without this package importing pgxpool.
type DBPoolStatFunc func() DBPoolStats

type dbPoolCollector struct {
	statFunc DBPoolStatFunc
	conns    *prometheus.Desc
	maxConns *prometheus.Desc
	acquires *prometheus.Desc
	waits    *prometheus.Desc
}

// NewDBPoolCollector creates a collector exposing pool gauges and counters.
func NewDBPoolCollector(statFunc DBPoolStatFunc) prometheus.Collector {
	return &dbPoolCollector{
		statFunc: statFunc,
		conns: prometheus.NewDesc("indexgate_db_pool_conns",
			"Connections in the DB pool by state.", []string{"state"}, nil),
		maxConns: prometheus.NewDesc("indexgate_db_pool_max_conns",
			"Maximum size of the DB pool.", nil, nil),
		acquires: prometheus.NewDesc("indexgate_db_pool_acquires_total",
			"Connections acquired from the DB pool.", nil, nil),
		waits: prometheus.NewDesc("indexgate_db_pool_empty_acquires_total",
			"Acquires that had to wait because the pool was empty.", nil, nil),
	}
}

func (c *dbPoolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.conns
	ch <- c.maxConns
	ch <- c.acquires
	ch <- c.waits
}

func (c *dbPoolCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.statFunc()
	ch <- prometheus.MustNewConstMetric(c.conns, prometheus.GaugeValue, float64(s.Total), "total")
	ch <- prometheus.MustNewConstMetric(c.conns, prometheus.GaugeValue, float64(s.Idle), "idle")
	ch <- prometheus.MustNewConstMetric(c.conns, prometheus.GaugeValue, float64(s.Acquired), "acquired")
	ch <- prometheus.MustNewConstMetric(c.maxConns, prometheus.GaugeValue, float64(s.Max))
	ch <- prometheus.MustNewConstMetric(c.acquires, prometheus.CounterValue, float64(s.AcquireCount))
	ch <- prometheus.MustNewConstMetric(c.waits, prometheus.CounterValue, float64(s.EmptyAcquire))
}
