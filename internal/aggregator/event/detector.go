package event

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/fleetmon/fleetmon/internal/core/domain"
	"github.com/fleetmon/fleetmon/internal/core/ports"
	"github.com/fleetmon/fleetmon/internal/logger"
)

var eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "fleetmon",
	Subsystem: "events",
	Name:      "detected_total",
	Help:      "Detected state transitions by type.",
}, []string{"type"})

// Detector turns per-pull observations into transition events by
// diffing against the previously observed state. The first observation
// after startup never produces an event: Prime seeds every server with
// an unknown prior, so a restart of the aggregator cannot manufacture
// a wave of server_down noise.
type Detector struct {
	store ports.Store
	cache ports.StateCache
	log   *logger.StyledLogger
}

func NewDetector(store ports.Store, cache ports.StateCache, log *logger.StyledLogger) *Detector {
	return &Detector{store: store, cache: cache, log: log}
}

// Prime seeds the prior state of every known server with unknown
// online and no services.
func (d *Detector) Prime(ctx context.Context) error {
	servers, err := d.store.ListAllServers(ctx)
	if err != nil {
		return fmt.Errorf("priming event detector: %w", err)
	}
	for _, srv := range servers {
		d.cache.SetPrevState(srv.ID, domain.PrevState{
			Services: map[string]string{},
		})
	}
	return nil
}

// Observe processes one pull outcome. Detection runs against the prior
// state, then the prior is replaced wholesale, so each transition fires
// exactly once no matter how long the condition persists.
func (d *Detector) Observe(ctx context.Context, serverID int64, online bool, services []domain.ServiceInfo) {
	prev := d.cache.PrevState(serverID)

	if prev.Online != nil && *prev.Online != online {
		if online {
			d.emit(ctx, serverID, domain.EventServerUp, "server back online")
		} else {
			d.emit(ctx, serverID, domain.EventServerDown, "server went offline")
		}
	}

	next := domain.PrevState{Online: &online}

	if online {
		current := make(map[string]string, len(services))
		for _, svc := range services {
			current[svc.Name] = svc.ActiveState

			switch prevState := prev.Services[svc.Name]; {
			case prevState == domain.ServiceStateActive && svc.ActiveState == domain.ServiceStateFailed:
				d.emit(ctx, serverID, domain.EventServiceFailed,
					fmt.Sprintf("service %s entered failed state", svc.Name))
			case prevState == domain.ServiceStateFailed && svc.ActiveState == domain.ServiceStateActive:
				d.emit(ctx, serverID, domain.EventServiceRecovered,
					fmt.Sprintf("service %s recovered", svc.Name))
			}
		}
		next.Services = current
	} else {
		// an unreachable agent says nothing about its services;
		// keep the last known view so recovery diffs stay correct
		next.Services = prev.Services
	}

	d.cache.SetPrevState(serverID, next)
}

func (d *Detector) emit(ctx context.Context, serverID int64, typ domain.EventType, message string) {
	id, err := d.store.SaveEvent(ctx, serverID, typ, message)
	if err != nil {
		d.log.Error("saving event failed", "server_id", serverID, "type", string(typ), "error", err)
		return
	}
	if id == 0 {
		// suppressed by the dedup window
		return
	}

	eventsTotal.WithLabelValues(string(typ)).Inc()

	switch typ {
	case domain.EventServerUp:
		d.log.InfoServerStatus("state change:", fmt.Sprintf("server %d", serverID), true)
	case domain.EventServerDown:
		d.log.InfoServerStatus("state change:", fmt.Sprintf("server %d", serverID), false)
	default:
		d.log.Info("state change", "server_id", serverID, "type", string(typ), "message", message)
	}
}
