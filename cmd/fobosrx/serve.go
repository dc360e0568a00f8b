package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rjboer/fobosrx/internal/iqserver"
	"github.com/rjboer/fobosrx/internal/logging"
	"github.com/rjboer/fobosrx/internal/mdns"
	"github.com/rjboer/fobosrx/internal/telemetry"
)

func notifyContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

type serveConfig struct {
	webAddr        string
	iqAddr         string
	instance       string
	advertise      bool
	autostart      bool
	statusInterval time.Duration
	clientBuffer   int
}

func newServeCmd(cfg *cliConfig, lookup lookupFunc) *cobra.Command {
	var (
		t  tuning
		sc serveConfig
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the sample stream and the control API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := cfg.logger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			ctx, cancel := notifyContext(cmd.Context())
			defer cancel()
			return serve(ctx, cmd, *cfg, t, sc, logger)
		},
	}
	bindTuningFlags(cmd, &t)
	fs := cmd.Flags()
	fs.StringVar(&sc.webAddr, "web-addr", envString(lookup, "FOBOS_WEB_ADDR", ":8080"), "HTTP control listen address, empty to disable")
	fs.StringVar(&sc.iqAddr, "iq-addr", envString(lookup, "FOBOS_IQ_ADDR", ":1234"), "IQ stream listen address, empty to disable")
	fs.StringVar(&sc.instance, "name", envString(lookup, "FOBOS_NAME", ""), "mDNS instance name (default: fobos <serial>)")
	fs.BoolVar(&sc.advertise, "mdns", envBool(lookup, "FOBOS_MDNS", true), "Advertise the IQ stream over mDNS")
	fs.BoolVar(&sc.autostart, "start", envBool(lookup, "FOBOS_AUTOSTART", false), "Start acquisition immediately")
	fs.DurationVar(&sc.statusInterval, "status-interval", envDuration(lookup, "FOBOS_STATUS_INTERVAL", 30*time.Second), "Interval of status log lines, 0 to disable")
	fs.IntVar(&sc.clientBuffer, "client-buffer", envInt(lookup, "FOBOS_IQ_CLIENT_BUFFER", 16), "Buffers queued per IQ client before dropping")
	return cmd
}

func serve(ctx context.Context, cmd *cobra.Command, cfg cliConfig, t tuning, sc serveConfig, logger logging.Logger) error {
	hub := telemetry.NewHub(logger)
	rx, err := cfg.newReceiver(logger, hub)
	if err != nil {
		return err
	}
	defer rx.Close()
	hub.Attach(rx)

	// The API can still list and select devices, so a missing receiver is
	// not fatal here.
	if err := cfg.selectDevice(rx); err != nil {
		logger.Warn("no device selected", logging.Err(err))
	} else {
		results, err := t.apply(cmd, rx)
		if err != nil {
			return err
		}
		printResults(cmd.OutOrStdout(), results)
	}
	rx.PostInit()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup
	errs := make(chan error, 2)

	if sc.iqAddr != "" {
		ln, err := net.Listen("tcp", sc.iqAddr)
		if err != nil {
			return fmt.Errorf("iq listen: %w", err)
		}
		srv := iqserver.New(iqserver.Options{
			Stream:       rx.Output(),
			Controller:   rx,
			Logger:       logger,
			ClientBuffer: sc.clientBuffer,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Serve(ctx, ln); err != nil {
				errs <- fmt.Errorf("iq server: %w", err)
			}
		}()
		fmt.Fprintf(cmd.OutOrStdout(), "IQ stream: tcp://%s\n", ln.Addr())

		if sc.advertise {
			advert := mdns.Advert{
				Instance:   sc.instance,
				Port:       ln.Addr().(*net.TCPAddr).Port,
				Serial:     rx.Serial(),
				SampleRate: rx.State().SampleRate,
			}
			if advert.Instance == "" && advert.Serial != "" {
				advert.Instance = "fobos " + advert.Serial
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := mdns.Advertise(ctx, advert); err != nil {
					logger.Warn("mdns advertisement failed", logging.Err(err))
				}
			}()
		}
	}

	if sc.webAddr != "" {
		web := telemetry.NewWebServer(sc.webAddr, hub, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := web.Start(ctx); err != nil {
				errs <- fmt.Errorf("web server: %w", err)
			}
		}()
		fmt.Fprintf(cmd.OutOrStdout(), "Web interface: http://%s\n", sc.webAddr)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		telemetry.NewStdoutReporter(logger).Run(ctx, hub, sc.statusInterval)
	}()

	if sc.autostart {
		if err := rx.Start(); err != nil {
			logger.Warn("acquisition start failed", logging.Err(err))
		}
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errs:
	}
	cancel()
	rx.Stop()
	wg.Wait()
	return runErr
}

func newDiscoverCmd(lookup lookupFunc) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Find IQ servers on the local network",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			start := time.Now()
			hosts, err := mdns.Discover(cmd.Context(), timeout)
			if err != nil {
				return err
			}
			printHosts(cmd, hosts, time.Since(start))
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", envDuration(lookup, "FOBOS_DISCOVER_TIMEOUT", 5*time.Second), "Browse duration")
	return cmd
}

func printHosts(cmd *cobra.Command, hosts []mdns.Host, took time.Duration) {
	out := cmd.OutOrStdout()
	if len(hosts) == 0 {
		fmt.Fprintf(out, "No servers found (%s)\n", took.Truncate(time.Millisecond))
		return
	}
	fmt.Fprintf(out, "Discovered %d server(s) in %s\n", len(hosts), took.Truncate(time.Millisecond))
	for _, h := range hosts {
		serial, _ := h.Field("serial")
		rate, _ := h.Field("rate")
		fmt.Fprintf(out, "  %-24s tcp://%-28s serial=%s rate=%s\n", h.Instance, h.Addr(), serial, rate)
	}
}
