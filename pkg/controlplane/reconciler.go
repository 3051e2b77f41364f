package controlplane

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/edgesurveillance/eventbus/pkg/containermanager"
	"github.com/edgesurveillance/eventbus/pkg/log"
	"github.com/edgesurveillance/eventbus/pkg/metrics"
	"github.com/edgesurveillance/eventbus/pkg/registry"
)

// Reconciler periodically checks that every registered machine's current
// state actually has a running service, and repairs it by re-issuing
// Start when the container manager reports the service missing. This
// closes the gap spec section 4.5 step 4 leaves open: a container
// failure during a transition is logged but does not fail the request,
// so drift between the registry and the cluster can only be corrected
// out of band.
type Reconciler struct {
	registry   *registry.Registry
	containers *containermanager.Manager
	broker     *Broker
	logger     zerolog.Logger

	mu       sync.Mutex
	interval time.Duration
	stopCh   chan struct{}
}

// NewReconciler creates a reconciler over the given registry and
// container manager.
func NewReconciler(reg *registry.Registry, containers *containermanager.Manager, broker *Broker) *Reconciler {
	return &Reconciler{
		registry:   reg,
		containers: containers,
		broker:     broker,
		logger:     log.WithComponent("reconciler"),
		interval:   10 * time.Second,
		stopCh:     make(chan struct{}),
	}
}

// Start begins the reconciliation loop in the background.
func (r *Reconciler) Start() {
	go r.run()
}

// Stop stops the reconciler.
func (r *Reconciler) Stop() {
	close(r.stopCh)
}

func (r *Reconciler) run() {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info().Msg("reconciler started")

	for {
		select {
		case <-ticker.C:
			r.reconcile()
		case <-r.stopCh:
			r.logger.Info().Msg("reconciler stopped")
			return
		}
	}
}

func (r *Reconciler) reconcile() {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconciliationDuration)
		metrics.ReconciliationCyclesTotal.Inc()
	}()

	r.mu.Lock()
	defer r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, machineID := range r.registry.MachineIDs() {
		r.reconcileMachine(ctx, machineID)
	}
}

func (r *Reconciler) reconcileMachine(ctx context.Context, machineID string) {
	unlock, err := r.registry.Lock(machineID)
	if err != nil {
		return
	}
	defer unlock()

	current, err := r.registry.CurrentState(machineID)
	if err != nil {
		return
	}

	status := r.containers.Status(ctx, machineID)
	if status.Status == "running" || status.Status == "pending" {
		return
	}

	r.logger.Warn().
		Str("machine_id", machineID).
		Str("state", current.Name).
		Str("container_status", status.Status).
		Msg("detected drift: current state has no running service, repairing")

	if err := r.containers.Start(ctx, machineID, current.Name, current.ContainerImage); err != nil {
		r.logger.Error().Err(err).Str("machine_id", machineID).Msg("failed to repair drifted machine")
		return
	}

	metrics.ReconciliationRepairsTotal.WithLabelValues(machineID).Inc()
	r.broker.Publish(&DomainEvent{
		Type:      EventReconciliationRepair,
		MachineID: machineID,
		Message:   "restarted container for state " + current.Name,
	})
}
