package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/ardnew/carlink/capture"
	"github.com/ardnew/carlink/config"
	"github.com/ardnew/carlink/dongle"
	"github.com/ardnew/carlink/pkg"
	"github.com/ardnew/carlink/relay"
	"github.com/ardnew/carlink/usb"
)

const (
	pollInterval   = time.Second
	reconnectDelay = time.Second
)

type runFlags struct {
	configPath  string
	listen      string
	capturePath string
	once        bool
}

func runCmd(g *globalFlags) *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to the dongle and relay its stream",
		Long: `Connect to the first attached dongle, perform the handshake, and stream
until interrupted. When the dongle is unplugged or the session fails,
run waits for the dongle to come back and reconnects unless --once is set.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags.configPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			backend, err := openBackend(g.backend)
			if err != nil {
				return err
			}
			defer backend.Close()

			registry := prometheus.NewRegistry()
			registry.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
			drv := dongle.NewDriver(cfg, dongle.WithDriverMetrics(dongle.NewMetrics(dongle.WithRegistry(registry))))
			drv.Subscribe(dongle.HandlerFunc(logEvent))
			defer drv.Close()

			if flags.listen != "" {
				srv := relay.New(drv, relay.WithGatherer(registry), relay.WithVideoSize(cfg.Width, cfg.Height))
				drv.Subscribe(srv)
				shutdown := serveRelay(flags.listen, srv)
				defer shutdown()
			}

			var rec *capture.Writer
			if flags.capturePath != "" {
				f, err := os.Create(flags.capturePath)
				if err != nil {
					return fmt.Errorf("create capture: %w", err)
				}
				defer f.Close()
				if rec, err = capture.NewWriter(f); err != nil {
					return err
				}
				defer func() {
					if err := rec.Close(); err != nil {
						pkg.LogError(pkg.ComponentCLI, "close capture", "error", err)
					}
					pkg.LogInfo(pkg.ComponentCLI, "capture written", "path", flags.capturePath, "records", rec.Records())
				}()
			}

			for {
				if err := waitForDongle(ctx, backend); err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return err
				}

				err := stream(ctx, backend, drv, rec)
				switch {
				case ctx.Err() != nil:
					return nil
				case flags.once:
					return err
				case err != nil:
					pkg.LogWarn(pkg.ComponentCLI, "session ended", "error", err)
				}

				select {
				case <-ctx.Done():
					return nil
				case <-time.After(reconnectDelay):
				}
			}
		},
	}

	f := cmd.Flags()
	f.StringVarP(&flags.configPath, "config", "c", "", "YAML configuration file")
	f.StringVarP(&flags.listen, "listen", "l", "", "Relay listen address, e.g. :8080 (disabled when empty)")
	f.StringVar(&flags.capturePath, "capture", "", "Record USB traffic to this file")
	f.BoolVar(&flags.once, "once", false, "Exit when the first session ends")

	return cmd
}

// stream runs one session until it ends or ctx is done.
func stream(ctx context.Context, backend usb.Backend, drv *dongle.Driver, rec *capture.Writer) error {
	dev, info, err := dongle.OpenFirst(ctx, backend)
	if err != nil {
		return err
	}
	if rec != nil {
		dev = capture.NewTap(dev, rec)
	}
	if err := drv.Connect(ctx, dev); err != nil {
		return fmt.Errorf("connect %s: %w", info.ID(), err)
	}
	fmt.Printf("Connected to %s\n", info)

	sess := drv.Session()
	select {
	case <-ctx.Done():
		drv.Close()
		<-sess.Done()
		return nil
	case <-sess.Done():
	}
	if sess.State() == dongle.StateFailed {
		return pkg.ErrCircuitOpen
	}
	return nil
}

func pollForDongle(ctx context.Context, backend usb.Backend) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		if _, err := dongle.Discover(ctx, backend); err == nil {
			return nil
		} else if !errors.Is(err, pkg.ErrNoDevice) {
			pkg.LogDebug(pkg.ComponentCLI, "discover", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func serveRelay(addr string, srv *relay.Server) (shutdown func()) {
	hs := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		pkg.LogInfo(pkg.ComponentCLI, "relay listening", "addr", addr)
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			pkg.LogError(pkg.ComponentCLI, "relay stopped", "error", err)
		}
	}()
	return func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		hs.Shutdown(ctx)
	}
}

func logEvent(ev dongle.Event) {
	if ev.Kind == dongle.EventMessage {
		pkg.LogDebug(pkg.ComponentCLI, "event", "event", ev.String())
		return
	}
	pkg.LogInfo(pkg.ComponentCLI, "event", "event", ev.String())
}

func loadConfig(path string) (config.Device, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}
