package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/cyburs/redisson/internal/cluster"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("clustermanager", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	var configPath string
	var dumpTopology bool
	fs.StringVar(&configPath, "config", "", "Cluster manager configuration file path (YAML)")
	fs.StringVar(&configPath, "c", "", "Cluster manager configuration file path (YAML)")
	fs.BoolVar(&dumpTopology, "dump", false, "Print the discovered topology and exit, without starting the reconciler")

	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		log.Printf("failed to parse arguments: %v", err)
		return 1
	}
	if configPath == "" {
		fmt.Fprintln(os.Stdout, "the --config flag is required")
		fs.Usage()
		return 2
	}

	cfg, err := cluster.LoadConfig(configPath)
	if err != nil {
		log.Printf("failed to load config: %v", err)
		return 2
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	manager, err := cluster.New(ctx, *cfg)
	if err != nil {
		log.Printf("cluster startup failed: %v", err)
		return 1
	}

	if dumpTopology {
		out, err := manager.DumpTopology()
		if err != nil {
			log.Printf("failed to dump topology: %v", err)
			return 1
		}
		os.Stdout.Write(out)
		manager.Shutdown()
		return 0
	}

	manager.Start(ctx)
	log.Printf("cluster manager running against seeds %v", cfg.NodeAddresses)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("signal %v received, shutting down", sig)

	manager.Shutdown()
	return 0
}
