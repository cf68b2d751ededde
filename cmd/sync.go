package cmd

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/surge-downloader/ariasync/internal/core"
	"github.com/surge-downloader/ariasync/internal/engine/events"
	"github.com/surge-downloader/ariasync/internal/metrics"
	"github.com/surge-downloader/ariasync/internal/utils"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	Aliases: []string{"server"},
	Short:   "Keep every pool in sync until interrupted",
	Long: `Polls every pool, follows daemon restarts and resubmits lost tasks. Events are
printed as they happen. With --http-addr a status API (/health, /tasks, /events,
/metrics and task actions) is served as well.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		httpAddr, _ := cmd.Flags().GetString("http-addr")
		token, _ := cmd.Flags().GetString("api-token")
		quiet, _ := cmd.Flags().GetBool("quiet")
		if token == "" {
			token = os.Getenv("ARIASYNC_TOKEN")
		}

		reg := prom.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		a, err := openApp(cmd, openOptions{autoSync: true, metrics: metrics.NewPrometheusRecorder(reg)})
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if !quiet {
			if err := StartHeadlessConsumer(ctx, a.svc, cmd.OutOrStdout()); err != nil {
				return joinClose(err, a)
			}
		}

		serveErr := make(chan error, 1)
		if httpAddr != "" {
			if token == "" {
				if token, err = ensureAuthToken(); err != nil {
					return joinClose(err, a)
				}
			}
			ln, err := net.Listen("tcp", httpAddr)
			if err != nil {
				return joinClose(fmt.Errorf("listen on %s: %w", httpAddr, err), a)
			}
			handler := newServerHandler(a.svc, a.log, token, metrics.HTTPHandler(reg))
			fmt.Fprintf(cmd.OutOrStdout(), "Serving status API on http://%s\n", ln.Addr())
			go func() { serveErr <- startHTTPServer(ctx, ln, handler, a.log) }()
		}

		pools, _ := a.svc.Pools(ctx)
		fmt.Fprintf(cmd.OutOrStdout(), "Syncing %d pools. Press Ctrl+C to stop.\n", len(pools))

		var runErr error
		select {
		case <-ctx.Done():
		case runErr = <-serveErr:
		}
		stop()
		a.log.Info("Shutting down")
		return joinClose(runErr, a)
	},
}

func joinClose(err error, a *app) error {
	if cerr := a.Close(); err == nil {
		return cerr
	}
	return err
}

// StartHeadlessConsumer prints service events to w until ctx ends.
func StartHeadlessConsumer(ctx context.Context, svc core.SyncService, w io.Writer) error {
	stream, err := svc.StreamEvents(ctx)
	if err != nil {
		return err
	}
	go func() {
		for msg := range stream {
			if line := describeEvent(msg); line != "" {
				fmt.Fprintln(w, line)
			}
		}
	}()
	return nil
}

func describeEvent(msg interface{}) string {
	switch m := msg.(type) {
	case events.TaskAddedMsg:
		return fmt.Sprintf("Added: %s [%s]", m.Task.Name, shortID(m.Task.ID))
	case events.TaskRemovedMsg:
		return fmt.Sprintf("Removed: [%s]", shortID(m.TaskID))
	case events.TaskChangedMsg:
		t := m.Task
		if m.Err != nil {
			return ""
		}
		line := fmt.Sprintf("%s: %s [%s] %d%%", t.Status, t.Name, shortID(t.ID), t.Percent)
		if t.DownloadSpeed > 0 {
			line += " " + utils.FormatSpeed(t.DownloadSpeed)
		}
		return line
	case events.TaskFailedMsg:
		return fmt.Sprintf("Error: [%s]: %v", shortID(m.TaskID), m.Err)
	case events.PoolConnectedMsg:
		line := fmt.Sprintf("Pool connected: [%s] session %s", shortID(m.PoolID), m.SessionID)
		if m.SessionChanged {
			line += fmt.Sprintf(" (new session, %d tasks resubmitted)", m.Resubmitted)
		}
		return line
	case events.PoolDisconnectedMsg:
		return fmt.Sprintf("Pool disconnected: [%s]: %v (retry in %s)", shortID(m.PoolID), m.Err, m.RetryIn)
	}
	return ""
}

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.Flags().String("http-addr", "", "Serve the status API on this address (e.g. 127.0.0.1:6900)")
	syncCmd.Flags().String("api-token", "", "Bearer token for the status API (default: $ARIASYNC_TOKEN or a generated one)")
	syncCmd.Flags().BoolP("quiet", "q", false, "Do not print events")
}
