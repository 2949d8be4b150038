package sim

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector exposes run progress as Prometheus metrics. The registerer is
// injected so tests can use a private registry; pass nil to the
// orchestrator to disable collection entirely. All metric types are safe
// for concurrent use, so one Collector is shared by every rank goroutine.
type Collector struct {
	steps        prometheus.Counter
	simTime      prometheus.Gauge
	timeStep     prometheus.Gauge
	haloBytes    prometheus.Counter
	cellsCreated prometheus.Counter
	cellsRemoved prometheus.Counter
	localCells   *prometheus.GaugeVec
	rebalances   prometheus.Counter
	snapshots    prometheus.Counter
}

// NewCollector registers the simulation metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		steps: factory.NewCounter(prometheus.CounterOpts{
			Name: "amrvect_steps_total",
			Help: "Completed simulation steps.",
		}),
		simTime: factory.NewGauge(prometheus.GaugeOpts{
			Name: "amrvect_simulated_time_seconds",
			Help: "Simulated time reached.",
		}),
		timeStep: factory.NewGauge(prometheus.GaugeOpts{
			Name: "amrvect_time_step_seconds",
			Help: "Current globally agreed time step.",
		}),
		haloBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "amrvect_halo_bytes_total",
			Help: "Bytes moved by halo exchange and migration, all ranks.",
		}),
		cellsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "amrvect_cells_created_total",
			Help: "Cells created by refinement, all ranks.",
		}),
		cellsRemoved: factory.NewCounter(prometheus.CounterOpts{
			Name: "amrvect_cells_removed_total",
			Help: "Cells removed by refinement and unrefinement, all ranks.",
		}),
		localCells: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "amrvect_local_cells",
			Help: "Cells owned per rank.",
		}, []string{"rank"}),
		rebalances: factory.NewCounter(prometheus.CounterOpts{
			Name: "amrvect_rebalances_total",
			Help: "Completed load-balance migrations.",
		}),
		snapshots: factory.NewCounter(prometheus.CounterOpts{
			Name: "amrvect_snapshots_total",
			Help: "Snapshot files written.",
		}),
	}
}

// ObserveStep records one completed step on one rank. Rank 0 additionally
// reports the group-wide time state so the gauges are written once.
func (c *Collector) ObserveStep(rank int, time, dt float64, localCells int) {
	if c == nil {
		return
	}
	if rank == 0 {
		c.steps.Inc()
		c.simTime.Set(time)
		c.timeStep.Set(dt)
	}
	c.localCells.WithLabelValues(strconv.Itoa(rank)).Set(float64(localCells))
}

// ObserveHaloBytes records transferred bytes from one rank's exchange.
func (c *Collector) ObserveHaloBytes(bytes float64) {
	if c == nil {
		return
	}
	c.haloBytes.Add(bytes)
}

// ObserveAdaptation records the cell churn of one adaptation pass.
func (c *Collector) ObserveAdaptation(created, removed uint64) {
	if c == nil {
		return
	}
	c.cellsCreated.Add(float64(created))
	c.cellsRemoved.Add(float64(removed))
}

// ObserveRebalance records one completed migration.
func (c *Collector) ObserveRebalance(rank int) {
	if c == nil || rank != 0 {
		return
	}
	c.rebalances.Inc()
}

// ObserveSnapshot records one written snapshot file.
func (c *Collector) ObserveSnapshot(rank int) {
	if c == nil || rank != 0 {
		return
	}
	c.snapshots.Inc()
}
