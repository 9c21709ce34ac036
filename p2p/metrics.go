package p2p

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes the host manager's book sizes and registry activity as
// prometheus gauges/counters, registered against a caller-supplied registry.
type Metrics struct {
	greyGauge    prometheus.Gauge
	whiteGauge   prometheus.Gauge
	goldGauge    prometheus.Gauge
	blackGauge   prometheus.Gauge
	darkGauge    prometheus.Gauge
	connectedGauge prometheus.Gauge

	insertCounter prometheus.Counter
	rejectCounter prometheus.Counter
	moveCounter   *prometheus.CounterVec
}

// NewMetrics builds a Metrics and registers it against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		greyGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hostmesh_grey_book_size",
			Help: "Number of addresses currently in the grey book.",
		}),
		whiteGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hostmesh_white_book_size",
			Help: "Number of addresses currently in the white book.",
		}),
		goldGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hostmesh_gold_book_size",
			Help: "Number of addresses currently in the gold book.",
		}),
		blackGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hostmesh_black_book_size",
			Help: "Number of addresses currently banned.",
		}),
		darkGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hostmesh_dark_book_size",
			Help: "Number of addresses currently quarantined as unreachable.",
		}),
		connectedGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hostmesh_connected_peers",
			Help: "Number of addresses currently in the Connected registry state.",
		}),
		insertCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hostmesh_addresses_inserted_total",
			Help: "Total addresses that survived filtering and were inserted.",
		}),
		rejectCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hostmesh_addresses_rejected_total",
			Help: "Total candidate addresses rejected by the filter path.",
		}),
		moveCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hostmesh_host_moves_total",
			Help: "Total color moves, labelled by destination color.",
		}, []string{"color"}),
	}
	reg.MustRegister(
		m.greyGauge, m.whiteGauge, m.goldGauge, m.blackGauge, m.darkGauge,
		m.connectedGauge, m.insertCounter, m.rejectCounter, m.moveCounter,
	)
	return m
}

// Observe samples the current book sizes and registry connection count from
// m(anager) into the gauges. Call on a timer, e.g. alongside Manager.Run's
// maintenance ticker.
func (met *Metrics) Observe(m *Manager) {
	met.greyGauge.Set(float64(m.cont.Len(Grey)))
	met.whiteGauge.Set(float64(m.cont.Len(White)))
	met.goldGauge.Set(float64(m.cont.Len(Gold)))
	met.blackGauge.Set(float64(m.cont.Len(Black)))
	met.darkGauge.Set(float64(m.cont.Len(Dark)))
	met.connectedGauge.Set(float64(len(m.reg.Connected())))
}

// RecordInsert increments the insert counter by n.
func (met *Metrics) RecordInsert(n int) {
	met.insertCounter.Add(float64(n))
}

// RecordReject increments the reject counter by one.
func (met *Metrics) RecordReject() {
	met.rejectCounter.Inc()
}

// RecordMove increments the move counter for dest.
func (met *Metrics) RecordMove(dest Color) {
	met.moveCounter.WithLabelValues(dest.String()).Inc()
}
