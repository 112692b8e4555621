// Package metrics exposes node metrics via github.com/prometheus/client_golang,
// replacing a hand-rolled text-exposition formatter with the real client
// library's registry and collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Chain holds every gauge/counter/histogram the node exposes.
type Chain struct {
	registry *prometheus.Registry

	Height             prometheus.Gauge
	MempoolSize        prometheus.Gauge
	ValidatorsActive   prometheus.Gauge
	ValidatorsStandby  prometheus.Gauge
	ValidatorsJailed   prometheus.Gauge
	BlocksFinalized    prometheus.Counter
	ValidatorsSlashed  prometheus.Counter
	BaseFee            prometheus.Gauge
	TotalSupply        prometheus.Gauge
	BFTRound           prometheus.Gauge
	BlockExecSeconds   prometheus.Histogram
}

func NewChain() *Chain {
	reg := prometheus.NewRegistry()
	c := &Chain{
		registry: reg,
		Height: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trv_chain_height", Help: "Current committed block height.",
		}),
		MempoolSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trv_mempool_size", Help: "Pending transactions in the mempool.",
		}),
		ValidatorsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trv_validators_active", Help: "Validators currently in the active set.",
		}),
		ValidatorsStandby: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trv_validators_standby", Help: "Validators currently standby.",
		}),
		ValidatorsJailed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trv_validators_jailed", Help: "Validators currently jailed.",
		}),
		BlocksFinalized: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trv_blocks_finalized_total", Help: "Total blocks committed.",
		}),
		ValidatorsSlashed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trv_validators_slashed_total", Help: "Total slash events processed.",
		}),
		BaseFee: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trv_base_fee", Help: "Current base fee per gas unit.",
		}),
		TotalSupply: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trv_total_supply", Help: "Current total token supply.",
		}),
		BFTRound: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trv_bft_round", Help: "Current BFT round within the active height.",
		}),
		BlockExecSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "trv_block_exec_seconds", Help: "Time to execute a committed block.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(
		c.Height, c.MempoolSize, c.ValidatorsActive, c.ValidatorsStandby,
		c.ValidatorsJailed, c.BlocksFinalized, c.ValidatorsSlashed,
		c.BaseFee, c.TotalSupply, c.BFTRound, c.BlockExecSeconds,
	)
	return c
}

// Handler returns the HTTP handler to serve on the metrics bind address.
func (c *Chain) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
