package sink

import (
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/fedsim/fedsim/sim"
)

// Prometheus mirrors the latest round into gauges on a private registry.
// A batch run has no scrape endpoint; WriteTextfile dumps the registry in the
// node-exporter textfile format instead.
type Prometheus struct {
	registry *prometheus.Registry

	round          prometheus.Gauge
	rounds         prometheus.Counter
	globalLoss     prometheus.Gauge
	globalAccuracy prometheus.Gauge
	participants   prometheus.Gauge
	clusters       prometheus.Gauge
	silhouette     prometheus.Gauge
	clientAccuracy *prometheus.GaugeVec
	clientLoss     *prometheus.GaugeVec
	blendWeight    *prometheus.GaugeVec
}

// NewPrometheus registers the experiment gauges on a fresh registry.
func NewPrometheus() *Prometheus {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Prometheus{
		registry: reg,
		round: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fedsim_round",
			Help: "Index of the latest completed round (1-based)",
		}),
		rounds: factory.NewCounter(prometheus.CounterOpts{
			Name: "fedsim_rounds_total",
			Help: "Total number of completed rounds",
		}),
		globalLoss: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fedsim_global_loss",
			Help: "Loss of the global model on the held-out set",
		}),
		globalAccuracy: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fedsim_global_accuracy",
			Help: "Accuracy of the global model on the held-out set",
		}),
		participants: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fedsim_participants",
			Help: "Number of clients that trained in the latest round",
		}),
		clusters: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fedsim_clusters",
			Help: "Number of detected client communities (0 when clustering degraded)",
		}),
		silhouette: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fedsim_silhouette",
			Help: "Mean silhouette of the latest clustering (0 when undefined)",
		}),
		clientAccuracy: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fedsim_client_accuracy",
			Help: "Training accuracy of each client's latest local model",
		}, []string{"client"}),
		clientLoss: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fedsim_client_loss",
			Help: "Training loss of each client's latest local model",
		}, []string{"client"}),
		blendWeight: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fedsim_client_blend_weight",
			Help: "Share of the previous local model kept by each client's latest blend",
		}, []string{"client"}),
	}
}

func (p *Prometheus) Emit(m sim.RoundMetrics) error {
	p.round.Set(float64(m.Round))
	p.rounds.Inc()
	p.globalLoss.Set(m.GlobalLoss)
	p.globalAccuracy.Set(m.GlobalAccuracy)
	p.participants.Set(float64(len(m.Participants)))
	p.clusters.Set(float64(m.NumClusters()))
	if m.Silhouette != nil {
		p.silhouette.Set(*m.Silhouette)
	} else {
		p.silhouette.Set(0)
	}
	for _, c := range m.Clients {
		id := strconv.Itoa(c.ClientID)
		p.clientAccuracy.WithLabelValues(id).Set(c.Accuracy)
		p.clientLoss.WithLabelValues(id).Set(c.Loss)
		p.blendWeight.WithLabelValues(id).Set(c.BlendWeight)
	}
	return nil
}

// Registry exposes the underlying registry, e.g. for an HTTP handler.
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

// WriteTextfile writes the current gauge values to path.
func (p *Prometheus) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, p.registry); err != nil {
		return fmt.Errorf("writing prometheus textfile: %w", err)
	}
	return nil
}
