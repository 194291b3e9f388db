// Command fundmesh-directory runs the registration directory a fundmesh
// deployment's nodes rendezvous through (spec.md section 4.B),
// mirroring registrationServer.py's __main__ entrypoint.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/jabolina/fundmesh/pkg/fundmesh/clock"
	"github.com/jabolina/fundmesh/pkg/fundmesh/config"
	"github.com/jabolina/fundmesh/pkg/fundmesh/directory"
	"github.com/jabolina/fundmesh/pkg/fundmesh/logging"
)

func main() {
	configPath := flag.String("config", "", "path to a directory config JSON file")
	address := flag.String("address", "0.0.0.0", "address to listen on")
	port := flag.Int("port", 13800, "port to listen on")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	log := logging.NewDefault("fundmesh-directory")
	log.ToggleDebug(*debug)

	addr := *address
	listenPort := *port
	tick := clock.New(2016, 1, 4, 8)

	if *configPath != "" {
		cfg, err := config.LoadDirectoryConfig(*configPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
		addr = cfg.Address
		listenPort = cfg.Port
		tick = clock.New(cfg.InitialYear, cfg.InitialMonth, cfg.InitialDay, cfg.InitialHour)
	}

	dir := directory.New(addr, tick, log)

	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info("fundmesh-directory: shutting down")
		cancel()
	}()

	log.Infof("fundmesh-directory: listening on %s:%d", addr, listenPort)
	if err := dir.Run(ctx, listenPort); err != nil {
		log.Fatalf("directory exited: %v", err)
	}
}
