package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/edgesurveillance/eventbus/pkg/api"
	"github.com/edgesurveillance/eventbus/pkg/cluster"
	"github.com/edgesurveillance/eventbus/pkg/cluster/sim"
	"github.com/edgesurveillance/eventbus/pkg/cluster/swarm"
	"github.com/edgesurveillance/eventbus/pkg/containermanager"
	"github.com/edgesurveillance/eventbus/pkg/controlplane"
	"github.com/edgesurveillance/eventbus/pkg/log"
	"github.com/edgesurveillance/eventbus/pkg/metrics"
	"github.com/edgesurveillance/eventbus/pkg/registry"
	"github.com/edgesurveillance/eventbus/pkg/rules"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the event bus control plane",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("listen", "0.0.0.0:5000", "HTTP listen address")
	serveCmd.Flags().String("config-dir", "/config", "Directory holding <machine_id>-config.yaml machine definitions")
	serveCmd.Flags().String("rules-file", "/config/transition-rules.yaml", "Path to the transition rules document")
	serveCmd.Flags().String("cluster-driver", "sim", "Cluster driver to use: sim or swarm")
}

func runServe(cmd *cobra.Command, args []string) error {
	listen, _ := cmd.Flags().GetString("listen")
	configDir, _ := cmd.Flags().GetString("config-dir")
	rulesFile, _ := cmd.Flags().GetString("rules-file")
	driverName, _ := cmd.Flags().GetString("cluster-driver")

	logger := log.WithComponent("serve")

	reg, err := loadRegistry(configDir)
	if err != nil {
		return fmt.Errorf("failed to load machine registry: %w", err)
	}
	metrics.RegisterCriticalComponent("registry", true, "")

	rulesEngine := rules.Load(rulesFile)
	metrics.RegisterCriticalComponent("rules", true, "")

	driver, err := newClusterDriver(driverName)
	if err != nil {
		return fmt.Errorf("failed to initialize cluster driver %q: %w", driverName, err)
	}
	metrics.RegisterCriticalComponent("cluster_driver", true, "")

	containers := containermanager.New(driver, containermanager.Config{})

	broker := controlplane.NewBroker()
	broker.Start()
	defer broker.Stop()

	orchestrator := controlplane.New(reg, rulesEngine, containers, broker)

	reconciler := controlplane.NewReconciler(reg, containers, broker)
	reconciler.Start()
	defer reconciler.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	orchestrator.LaunchInitialContainers(ctx)

	server := api.NewServer(orchestrator, reg, containers, driver)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info().Msg("shutting down")
		cancel()
	}()

	return server.Start(ctx, listen)
}

// loadRegistry loads every "<machine_id>-config.yaml" file in dir into a
// fresh Registry, per spec section 6's persisted state layout.
func loadRegistry(dir string) (*registry.Registry, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*-config.yaml"))
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("no machine configs found in %s", dir)
	}

	reg := registry.New()
	for _, path := range matches {
		machineID := strings.TrimSuffix(filepath.Base(path), "-config.yaml")
		m, err := registry.LoadMachineConfigFile(machineID, path)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
		reg.AddMachine(m)
	}
	return reg, nil
}

func newClusterDriver(name string) (cluster.Driver, error) {
	switch name {
	case "sim":
		return sim.New(), nil
	case "swarm":
		return swarm.New()
	default:
		return nil, fmt.Errorf("unknown cluster driver %q (want sim or swarm)", name)
	}
}
