// Command forwarder tails a block directory and streams its entries to a
// remote collector over TCP, pruning blocks locally once the remote
// acknowledges them durably.
//
// Usage:
//
//	forwarder --dir=<path> --addr=<host:port> [--id=<name>]
//
// Reference: RocksDB v10.7.5 tools/ldb_tool.cc (flag-driven CLI layout)
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jtwittner/blocklog/forwarder"
	"github.com/jtwittner/blocklog/internal/logging"
)

var (
	dir      = flag.String("dir", "", "Path to the block directory to tail (required)")
	addr     = flag.String("addr", "", "Remote collector address, host:port (required)")
	id       = flag.String("id", "", "Client identity sent during the handshake (default: hostname)")
	logLevel = flag.String("log", "", "Log level: error, warn, info, debug (default: $BLOCKLOG_LOG or debug)")
	help     = flag.Bool("help", false, "Print usage")
)

func main() {
	flag.Parse()

	if *help {
		printUsage()
		return
	}
	if *dir == "" || *addr == "" {
		fmt.Fprintln(os.Stderr, "Error: --dir and --addr are required")
		printUsage()
		os.Exit(1)
	}

	clientID := *id
	if clientID == "" {
		h, err := os.Hostname()
		if err != nil {
			h = "forwarder"
		}
		clientID = h
	}

	level := *logLevel
	if level == "" {
		level = os.Getenv("BLOCKLOG_LOG")
	}
	log := logging.NewDefaultLogger(logging.ParseLevel(level))

	f, err := forwarder.New(clientID, *dir, *addr, forwarder.WithLogger(log))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Infof("%sreceived signal %v, shutting down", logging.NSForwarder, sig)
		cancel()
	}()

	if err := f.Run(ctx); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "Usage: forwarder --dir=<path> --addr=<host:port> [--id=<name>] [--log=<level>]")
	flag.PrintDefaults()
}
