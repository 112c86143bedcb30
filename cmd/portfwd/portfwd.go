package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Wybxc/portfwd/internal/pkg/config"
	"github.com/Wybxc/portfwd/internal/pkg/logging"
	"github.com/Wybxc/portfwd/internal/pkg/version"
	"github.com/Wybxc/portfwd/pkg/forward"
	"github.com/Wybxc/portfwd/pkg/pool"
)

func main() {
	var (
		port        = flag.Int("p", 0, "port to listen on, defaults to the forward port")
		fwd         = flag.String("f", "", "address and port to forward to (host:port)")
		tcpOnly     = flag.Bool("t", false, "only enable TCP forwarding")
		udpOnly     = flag.Bool("u", false, "only enable UDP forwarding")
		workers     = flag.Int("T", 0, "number of workers, defaults to the number of logical CPUs")
		verbosity   = flag.Int("v", 0, "verbosity level (0, 1, 2)")
		confFile    = flag.String("config", "", "optional YAML config file")
		showVersion = flag.Bool("V", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println("portfwd version", version.Version())
		return
	}

	conf := new(config.Config)
	if *confFile != "" {
		var err error
		conf, err = config.ParseFile(*confFile)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
	// Flags given on the command line override config file values.
	flag.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "p":
			conf.ListenPort = *port
		case "f":
			conf.Forward = *fwd
		case "t":
			conf.TCPOnly = *tcpOnly
		case "u":
			conf.UDPOnly = *udpOnly
		case "T":
			conf.Workers = *workers
		case "v":
			conf.Verbosity = *verbosity
		}
	})
	if err := conf.Complete(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		flag.Usage()
		os.Exit(1)
	}

	logger := logging.New(conf.Verbosity)
	logger.Debugf("Launch with config: %+v", *conf)

	mode := forward.ModeBoth
	if tcp, udp := conf.Transports(); tcp && !udp {
		mode = forward.ModeTCP
	} else if udp && !tcp {
		mode = forward.ModeUDP
	}

	engine := forward.NewEngine(
		forward.Target{ListenAddr: conf.ListenAddr(), RemoteAddr: conf.Forward},
		forward.WithMode(mode),
		forward.WithPool(pool.New(conf.Workers, logger)),
		forward.WithLogger(logger),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-sigCh
		logger.Info("Signal received, stopping")
		engine.Stop()
	}()

	if err := engine.Run(context.Background()); err != nil {
		logger.Errorf("Forwarder failed: %s", err)
		os.Exit(1)
	}
}
