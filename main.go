package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"socksmon/internal/config"
	"socksmon/internal/engine"
	"socksmon/internal/events"
	"socksmon/internal/handlers"
	"socksmon/internal/models"
	"socksmon/internal/report"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		logrus.WithError(err).Fatal("socksmon failed")
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "socksmon",
		Short: "Passive SOCKS5 username/password capture",
		Long: "socksmon watches traffic headed to common SOCKS5 proxy ports and reports\n" +
			"RFC 1929 username/password requests. It never alters or drops traffic.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			setupLogger(cfg.Verbose)
			return run(cmd.Context(), cfg)
		},
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}

func setupLogger(verbose bool) {
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	if verbose {
		logrus.SetLevel(logrus.DebugLevel)
	} else {
		logrus.SetLevel(logrus.InfoLevel)
	}
	logrus.SetOutput(os.Stdout)
}

func run(parent context.Context, cfg config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng := engine.New(engine.WithSessionCapacity(cfg.Sessions))
	reporter := report.New(cfg.ReportWindow, logrus.WithField("component", "report"))

	if cfg.PcapFile != "" {
		return replay(ctx, eng, reporter, cfg.PcapFile)
	}

	g, ctx := errgroup.WithContext(ctx)

	sub := eng.Events().Subscribe(events.DefaultBuffer)
	defer sub.Close()
	g.Go(func() error { return reporter.Run(ctx, sub.C) })

	g.Go(func() error {
		eng.ReportStats(ctx, cfg.StatsInterval)
		return nil
	})

	if cfg.Listen != "" {
		mux := http.NewServeMux()
		handlers.RegisterRoutes(mux, eng)
		srv := &http.Server{Addr: cfg.Listen, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

		g.Go(func() error {
			logrus.WithField("addr", cfg.Listen).Info("consumer API listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if cfg.Interface != "" {
		err := eng.StartCapture(models.StartCaptureRequest{
			Interface: cfg.Interface,
			Mode:      cfg.Mode,
			SnapLen:   cfg.SnapLen,
		})
		if err != nil {
			stop()
			_ = g.Wait()
			return err
		}
	}

	<-ctx.Done()
	logrus.Info("shutting down")
	eng.StopCapture()
	return g.Wait()
}

// replay feeds a capture file through the traffic hook and reports every
// credential found in it.
func replay(ctx context.Context, eng *engine.Engine, reporter *report.Reporter, path string) error {
	sub := eng.Events().Subscribe(events.DefaultBuffer)
	done := make(chan error, 1)
	go func() { done <- reporter.Run(context.Background(), sub.C) }()

	n, err := eng.LoadPcapFile(ctx, path)
	sub.Close()
	if rerr := <-done; err == nil {
		err = rerr
	}
	if err != nil {
		return err
	}

	st := eng.Stats()
	logrus.WithFields(logrus.Fields{
		"packets":  n,
		"events":   st.EventCount,
		"dropped":  st.EventDrops,
		"sessions": st.SessionCount,
	}).Info("replay complete")
	return nil
}
