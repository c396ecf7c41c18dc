package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/distcodep7/suzukikasami/algorithms"
	"github.com/distcodep7/suzukikasami/config"
	"github.com/distcodep7/suzukikasami/controller"
	"github.com/distcodep7/suzukikasami/logging"
	"github.com/distcodep7/suzukikasami/trace"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
)

func main() {
	configPath := flag.String("config", "", "YAML config file (flags below override it)")
	numNodes := flag.Int("n", 0, "Number of nodes in the system")
	holder := flag.Int("holder", -1, "Node that holds the token initially")
	grpcAddr := flag.String("grpc", "", "gRPC listen address")
	httpAddr := flag.String("http", "", "HTTP/websocket listen address")
	traceFile := flag.String("trace", "", "JSON-lines trace file")
	archive := flag.String("archive", "", "BoltDB trace archive")
	logLevel := flag.String("log-level", "", "Log level")
	verify := flag.Bool("verify", false, "Check invariants after every call")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			logrus.Fatal(err)
		}
		cfg = loaded
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "n":
			cfg.Nodes = *numNodes
		case "holder":
			cfg.InitialHolder = *holder
		case "grpc":
			cfg.GRPCAddr = *grpcAddr
		case "http":
			cfg.HTTPAddr = *httpAddr
		case "trace":
			cfg.TraceFile = *traceFile
		case "archive":
			cfg.ArchivePath = *archive
		case "log-level":
			cfg.LogLevel = *logLevel
		case "verify":
			cfg.VerifyInvariants = *verify
		}
	})
	if err := cfg.Validate(); err != nil {
		logrus.Fatal(err)
	}

	logger, err := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		logrus.Fatal(err)
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatal(err)
	}
}

func run(cfg config.Config, logger *logrus.Logger) error {
	var sinks []trace.Sink

	if cfg.TraceFile != "" {
		fs, err := trace.NewFileSink(cfg.TraceFile)
		if err != nil {
			return err
		}
		defer fs.Close()
		sinks = append(sinks, fs)
	}
	if cfg.ArchivePath != "" {
		bs, err := trace.OpenBoltSink(cfg.ArchivePath)
		if err != nil {
			return err
		}
		defer bs.Close()
		sinks = append(sinks, bs)
	}

	var hub *controller.Hub
	if cfg.HTTPAddr != "" {
		hub = controller.NewHub(logger)
		sinks = append(sinks, hub)
	}

	sk, err := algorithms.NewSuzukiKasami(algorithms.Props{
		NumNodes:      cfg.Nodes,
		InitialHolder: cfg.InitialHolder,
		Logger:        logger,
		Sinks:         sinks,
	})
	if err != nil {
		return err
	}

	ctrl := controller.NewController(controller.ControllerProps{
		Engine:           sk,
		Logger:           logger,
		VerifyInvariants: cfg.VerifyInvariants,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	errCh := make(chan error, 2)

	var grpcServer *grpc.Server
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return err
		}
		grpcServer = grpc.NewServer()
		controller.RegisterControllerServer(grpcServer, ctrl)
		logger.WithField("addr", cfg.GRPCAddr).Info("controller listening")
		go func() { errCh <- grpcServer.Serve(lis) }()
	}

	var httpServer *http.Server
	if cfg.HTTPAddr != "" {
		hub.Start(func() any { return sk.SystemState() })
		defer hub.Close()

		httpServer = &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           controller.NewWebServer(ctrl, hub).Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		logger.WithField("addr", cfg.HTTPAddr).Info("web surface listening")
		go func() {
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			logger.WithError(err).Error("server stopped")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	shutdown(shutdownCtx, logger, grpcServer, httpServer)
	return nil
}

// shutdown stops whichever servers were started. Errors are logged; the
// process is exiting either way.
func shutdown(ctx context.Context, logger logrus.FieldLogger, grpcServer *grpc.Server, httpServer *http.Server) {
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	if httpServer != nil {
		if err := httpServer.Shutdown(ctx); err != nil {
			logger.WithError(err).Error("web surface shutdown failed")
		}
	}
}
