package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Mindburn-Labs/bosun/pkg/api"
	"github.com/Mindburn-Labs/bosun/pkg/inbox"
	"github.com/Mindburn-Labs/bosun/pkg/runner"
)

func runServeCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("serve", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var (
		listen string
		watch  bool
		every  time.Duration
	)
	cmd.StringVar(&listen, "listen", "", "Listen address (overrides LISTEN_ADDR)")
	cmd.BoolVar(&watch, "watch", false, "Also watch the decision inbox directory")
	cmd.DurationVar(&every, "every", time.Minute, "Schedule and expiry pass interval (0 disables)")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	a, err := buildApp(stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer a.Close()

	if listen == "" {
		listen = a.cfg.ListenAddr
	}

	srv := api.NewServer(a.engine, api.WithLogger(a.logger))
	httpSrv := &http.Server{
		Addr:              listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("api listening", "addr", listen)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	if every > 0 {
		run := runner.New(a.engine, a.register, runner.WithAudit(a.audit), runner.WithLogger(a.logger))
		g.Go(func() error {
			ticker := time.NewTicker(every)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					if _, err := run.RunOnce(ctx, time.Now()); err != nil && !errors.Is(err, context.Canceled) {
						a.logger.Error("schedule pass failed", "error", err)
					}
				}
			}
		})
	}

	if watch {
		w := inbox.New(a.cfg.InboxDir, a.engine, inbox.WithLogger(a.logger))
		g.Go(func() error {
			if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	fmt.Fprintf(stdout, "bosun serving on %s (ctrl+c to stop)\n", listen)
	if err := g.Wait(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, "Stopped.")
	return 0
}
