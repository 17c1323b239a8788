// Command canopy runs a single overlay participant, root or client,
// generalizing the teacher's main.go (host.NewLocal + Host.Start +
// Host.Recv loop) into flag-driven root/client selection, a real
// shutdown path on SIGINT/SIGTERM, and the Main Loop / Reunion Daemon
// launched through internal/overlay.Node instead of a single Host.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"canopy/internal/addr"
	"canopy/internal/overlay"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var (
		host          = flag.String("host", "0.0.0.0", "this node's IPv4 address")
		port          = flag.Int("port", 9000, "this node's TCP port")
		asRoot        = flag.Bool("root", false, "run as the tree root")
		rootHost      = flag.String("root-host", "", "root's IPv4 address (client mode only)")
		rootPort      = flag.Int("root-port", 0, "root's TCP port (client mode only)")
		helloInterval = flag.Duration("hello-interval", 4*time.Second, "reunion hello period")
		failWindow    = flag.Duration("fail-window", 32*time.Second, "reunion failure window")
		dev           = flag.Bool("dev", false, "use a human-readable development logger instead of JSON")
		configPath    = flag.String("config", "", "optional JSON config file (per-peer bind_ip/bind_port/is_root/root_ip/root_port), for scripted multi-peer test harnesses; explicit flags take precedence over its fields")
	)
	flag.Parse()

	// A flag the user typed on the command line always wins over the
	// same field in -config; flag.Visit only reports flags actually set.
	explicit := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	if *configPath != "" {
		cfg, err := loadFileConfig(*configPath)
		if err != nil {
			return fmt.Errorf("canopy: -config: %w", err)
		}
		if !explicit["host"] && cfg.BindIP != "" {
			*host = cfg.BindIP
		}
		if !explicit["port"] && cfg.BindPort != 0 {
			*port = cfg.BindPort
		}
		if !explicit["root"] {
			*asRoot = cfg.IsRoot
		}
		if !explicit["root-host"] && cfg.RootIP != "" {
			*rootHost = cfg.RootIP
		}
		if !explicit["root-port"] && cfg.RootPort != 0 {
			*rootPort = cfg.RootPort
		}
		if !explicit["hello-interval"] {
			d, err := cfg.parseHelloInterval()
			if err != nil {
				return fmt.Errorf("canopy: -config: hello_interval: %w", err)
			}
			if d != 0 {
				*helloInterval = d
			}
		}
		if !explicit["fail-window"] {
			d, err := cfg.parseFailWindow()
			if err != nil {
				return fmt.Errorf("canopy: -config: fail_window: %w", err)
			}
			if d != 0 {
				*failWindow = d
			}
		}
	}

	log, err := newLogger(*dev)
	if err != nil {
		return fmt.Errorf("canopy: building logger: %w", err)
	}
	defer log.Sync()

	self, err := addr.New(*host, *port)
	if err != nil {
		return fmt.Errorf("canopy: invalid -host/-port: %w", err)
	}

	builder := overlay.NewBuilder().
		Self(self).
		Logger(log).
		HelloInterval(*helloInterval).
		FailWindow(*failWindow).
		CommandInput(os.Stdin)

	if *asRoot {
		builder = builder.AsRoot()
	} else {
		if *rootHost == "" || *rootPort == 0 {
			return fmt.Errorf("canopy: -root-host and -root-port are required in client mode")
		}
		rootAddr, err := addr.New(*rootHost, *rootPort)
		if err != nil {
			return fmt.Errorf("canopy: invalid -root-host/-root-port: %w", err)
		}
		builder = builder.RootAddress(rootAddr)
	}

	node, err := builder.Build()
	if err != nil {
		return fmt.Errorf("canopy: %w", err)
	}

	log.Info("starting node",
		zap.String("self", self.String()),
		zap.Bool("root", *asRoot),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := node.Run(ctx); err != nil {
		return fmt.Errorf("canopy: %w", err)
	}
	return nil
}

func newLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
