// devstores runs throwaway primary stores for local ticketd development.
//
// It starts an in-process Redis (miniredis) and an embedded NATS server with
// JetStream, prints their URLs, and keeps them up until interrupted. Send
// SIGUSR1 to toggle both stores off and on, which lets you watch a running
// ticketd fail over and recover.
package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		redisAddr string
		natsHost  string
		natsPort  int
	)

	flagSet := pflag.NewFlagSet("devstores", pflag.ContinueOnError)
	flagSet.StringVar(&redisAddr, "redis-addr", "127.0.0.1:6379", "miniredis listen address")
	flagSet.StringVar(&natsHost, "nats-host", "127.0.0.1", "NATS listen host")
	flagSet.IntVar(&natsPort, "nats-port", 4222, "NATS listen port (-1 for random)")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}

	mr := miniredis.NewMiniRedis()
	if err := mr.StartAddr(redisAddr); err != nil {
		return fmt.Errorf("start miniredis: %w", err)
	}
	defer mr.Close()

	storeDir := filepath.Join(os.TempDir(), fmt.Sprintf("devstores-%d", os.Getpid()))
	if err := os.MkdirAll(storeDir, 0o755); err != nil {
		return fmt.Errorf("create JetStream store dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(storeDir) }()

	opts := &server.Options{
		Host:      natsHost,
		Port:      natsPort,
		JetStream: true,
		StoreDir:  storeDir,
		NoLog:     true,
		NoSigs:    true,
	}

	ns, err := startNATS(opts)
	if err != nil {
		return err
	}

	fmt.Printf("TICKETD_REDIS_URL=redis://%s\n", mr.Addr())
	fmt.Printf("TICKETD_NATS_URL=%s\n", ns.ClientURL())
	fmt.Fprintf(os.Stderr, "stores running (PID %d), SIGUSR1 toggles an outage\n", os.Getpid())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)

	down := false
	for sig := range sigChan {
		if sig != syscall.SIGUSR1 {
			break
		}

		if down {
			if err := mr.Restart(); err != nil {
				return fmt.Errorf("restart miniredis: %w", err)
			}
			if ns, err = startNATS(opts); err != nil {
				return err
			}
			fmt.Fprintln(os.Stderr, "stores back up")
		} else {
			mr.Close()
			ns.Shutdown()
			ns.WaitForShutdown()
			fmt.Fprintln(os.Stderr, "stores down")
		}
		down = !down
	}

	fmt.Fprintln(os.Stderr, "shutting down")
	if !down {
		ns.Shutdown()
		ns.WaitForShutdown()
	}

	return nil
}

func startNATS(opts *server.Options) (*server.Server, error) {
	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create NATS server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(10 * time.Second) {
		ns.Shutdown()
		return nil, errors.New("NATS server not ready within timeout")
	}

	return ns, nil
}
