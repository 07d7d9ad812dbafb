// Command proots-casd serves a CAS backend over gRPC for the proots "grpc"
// backend, with Prometheus metrics on a separate listener.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/Proots-Foundation/pRoots-command-line/cidutil"
	"github.com/Proots-Foundation/pRoots-command-line/codec"
	"github.com/Proots-Foundation/pRoots-command-line/internal/logging"
	"github.com/Proots-Foundation/pRoots-command-line/storage"
	"github.com/Proots-Foundation/pRoots-command-line/storage/casconfig"
	"github.com/Proots-Foundation/pRoots-command-line/storage/casregistry"
	"github.com/Proots-Foundation/pRoots-command-line/storage/grpccas"

	_ "github.com/Proots-Foundation/pRoots-command-line/storage/ipfs"
	_ "github.com/Proots-Foundation/pRoots-command-line/storage/localfs"
	_ "github.com/Proots-Foundation/pRoots-command-line/storage/memory"
	_ "github.com/Proots-Foundation/pRoots-command-line/storage/s3"
	_ "github.com/Proots-Foundation/pRoots-command-line/storage/sqlstore"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, out io.Writer, errOut io.Writer) int {
	fs := pflag.NewFlagSet("proots-casd", pflag.ContinueOnError)
	fs.SetOutput(errOut)
	fs.SortFlags = false
	var (
		listen        string
		metricsListen string
		backend       string
		configPath    string
		codecName     string
		hashName      string
		listBackends  bool
		logFlags      logging.Flags
	)
	fs.StringVar(&listen, "listen", "127.0.0.1:7777", "gRPC listen address")
	fs.StringVar(&metricsListen, "metrics-listen", "", "HTTP listen address for /metrics (empty disables)")
	fs.StringVar(&backend, "backend", "localfs", "CAS backend name")
	fs.StringVar(&configPath, "config", "", "CAS config file (overrides --backend)")
	fs.StringVar(&codecName, "codec", "dag-cbor", "codec recorded in CIDs of stored blocks")
	fs.StringVar(&hashName, "hash", cidutil.HashSHA2_256, "multihash for stored blocks")
	fs.BoolVar(&listBackends, "list-backends", false, "list supported backends and exit")
	logFlags.Register(fs)
	casregistry.RegisterFlags(fs, casregistry.UsageDaemon)

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}
	if listBackends {
		for _, b := range casregistry.List(casregistry.UsageDaemon) {
			if b.Description == "" {
				_, _ = fmt.Fprintf(out, "%s\n", b.Name)
				continue
			}
			_, _ = fmt.Fprintf(out, "%s\t%s\n", b.Name, b.Description)
		}
		return 0
	}

	logger, err := logFlags.Logger(errOut, "proots-casd")
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}

	var (
		cas     storage.CAS
		closeFn func() error
		name    = backend
	)
	if configPath != "" {
		cfg, err := casconfig.LoadFile(configPath)
		if err != nil {
			fmt.Fprintln(errOut, err)
			return 2
		}
		preferred := ""
		if fs.Changed("backend") {
			preferred = backend
		}
		cas, closeFn, err = cfg.Open(casregistry.UsageDaemon, preferred)
		if err != nil {
			fmt.Fprintln(errOut, err)
			return 2
		}
		name = "config"
	} else {
		p, err := prefixFor(codecName, hashName)
		if err != nil {
			fmt.Fprintln(errOut, err)
			return 2
		}
		cas, closeFn, err = casregistry.Open(backend, casregistry.UsageDaemon, p)
		if err != nil {
			fmt.Fprintln(errOut, err)
			return 2
		}
	}
	if closeFn != nil {
		defer func() {
			if err := closeFn(); err != nil {
				logger.Warn("close backend", "error", err)
			}
		}()
	}

	lis, err := net.Listen("tcp", listen)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	var metricsLis net.Listener
	if metricsListen != "" {
		if metricsLis, err = net.Listen("tcp", metricsListen); err != nil {
			_ = lis.Close()
			fmt.Fprintln(errOut, err)
			return 1
		}
	}

	reg := newRegistry()
	store := &storage.Instrumented{Name: name, CAS: cas, Metrics: storage.NewMetrics(reg), Logger: logger}

	logger.Info("listening", "addr", lis.Addr().String(), "backend", name)
	if err := serve(ctx, lis, metricsLis, store, reg, logger); err != nil {
		logger.Error("serve", "error", err)
		return 1
	}
	return 0
}

func prefixFor(codecName, hashName string) (cid.Prefix, error) {
	c, err := codec.ByName(codecName)
	if err != nil {
		return cid.Prefix{}, err
	}
	h, err := cidutil.ParseHash(hashName)
	if err != nil {
		return cid.Prefix{}, err
	}
	return cidutil.Prefix(c.Code(), h), nil
}

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// serve runs the gRPC server on lis and, when metricsLis is non-nil, the
// metrics endpoint on metricsLis. Both stop when ctx is done.
func serve(ctx context.Context, lis, metricsLis net.Listener, cas storage.CAS, reg *prometheus.Registry, logger *slog.Logger) error {
	s := grpc.NewServer()
	grpccas.RegisterCASServer(s, &grpccas.Server{CAS: cas})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc: %w", err)
		}
		return nil
	})

	var hs *http.Server
	if metricsLis != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		hs = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		logger.Info("metrics listening", "addr", metricsLis.Addr().String())
		g.Go(func() error {
			if err := hs.Serve(metricsLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		if hs != nil {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = hs.Shutdown(sctx)
		}
		stopped := make(chan struct{})
		go func() {
			s.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(shutdownTimeout):
			s.Stop()
		}
		return nil
	})

	return g.Wait()
}
