// Command fundmesh-node runs one overlay peer that also plays both 3PC
// roles for its local exchange (spec.md sections 4.C-4.F), mirroring
// Node.py/Exchange.py's combined __main__ entrypoint.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/jabolina/fundmesh/pkg/fundmesh/catalogue"
	"github.com/jabolina/fundmesh/pkg/fundmesh/config"
	"github.com/jabolina/fundmesh/pkg/fundmesh/inventory"
	"github.com/jabolina/fundmesh/pkg/fundmesh/logging"
	"github.com/jabolina/fundmesh/pkg/fundmesh/node"
)

func main() {
	configPath := flag.String("config", "", "path to a node config JSON file (required)")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	log := logging.NewDefault("fundmesh-node")
	log.ToggleDebug(*debug)

	if *configPath == "" {
		log.Fatal("fundmesh-node: -config is required")
	}
	cfg, err := config.LoadNodeConfig(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	cat, err := catalogue.Load(cfg.CataloguePath)
	if err != nil {
		log.Fatalf("load catalogue: %v", err)
	}

	precommitLog, err := inventory.OpenLevelDBLog(cfg.PreCommitDir)
	if err != nil {
		log.Fatalf("open pre-commit log: %v", err)
	}
	defer precommitLog.Close()

	schedule, err := inventory.LoadSchedule(cfg.SchedulePath)
	if err != nil {
		log.Fatalf("load schedule: %v", err)
	}

	inv := inventory.New(cfg.InitialStock, precommitLog, schedule, log)
	if err := inv.Recover(); err != nil {
		log.Fatalf("recover pre-commit log: %v", err)
	}

	n := node.New(node.Config{
		Group:         cfg.Group,
		Name:          cfg.Name,
		Address:       cfg.Address,
		Port:          cfg.Port,
		DirectoryAddr: cfg.DirectoryAddr,
		DirectoryPort: cfg.DirectoryPort,
	}, log)
	node.NewExchange(n, inv, cat)

	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		log.Infof("fundmesh-node %s: shutting down", cfg.Name)
		cancel()
	}()

	log.Infof("fundmesh-node %s: listening on %s:%d", cfg.Name, cfg.Address, cfg.Port)
	if err := n.Run(ctx); err != nil {
		log.Fatalf("node exited: %v", err)
	}
}
