package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"chatsync/pkg/chatstore"
	"chatsync/pkg/logger"
	"chatsync/pkg/metrics"
	"chatsync/pkg/models"
	"chatsync/pkg/session"
)

var tailEvents bool

func init() {
	tailCmd.Flags().BoolVar(&tailEvents, "events", false, "also print raw stream frames")
	rootCmd.AddCommand(tailCmd)
}

var tailCmd = &cobra.Command{
	Use:   "tail [chat-id]",
	Short: "Follow live messages",
	Long: `Follow messages as they arrive on the event stream until interrupted.
With a chat id only that conversation is printed and it is kept read.
When metrics.addr is configured the session metrics are served there.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		reg := prometheus.NewRegistry()
		metrics.RegisterRuntime(reg)
		if cfg.Metrics.Addr != "" {
			srv := serveMetrics(cfg.Metrics.Addr, reg)
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(sctx)
			}()
		}

		s, err := openSession(ctx, true, session.WithRegisterer(reg))
		if err != nil {
			return err
		}
		defer s.Close()

		var only string
		if len(args) == 1 {
			only = args[0]
			if err := s.Select(ctx, only); err != nil {
				return err
			}
		}
		return follow(ctx, s, printerFor(cmd), only)
	},
}

// follow prints messages added to the store until ctx ends. Printing runs
// off the session loop.
func follow(ctx context.Context, s *session.Session, p *Printer, only string) error {
	type ref struct{ conv, id string }
	added := make(chan ref, 256)
	sub := s.Subscribe(func(c chatstore.Change) {
		if c.Kind != chatstore.MessageAdded || (only != "" && c.ConversationID != only) {
			return
		}
		select {
		case added <- ref{c.ConversationID, c.MessageID}:
		default:
			logger.Warn("tail_backlog_full", "chat_id", c.ConversationID)
		}
	})
	defer sub.Release()

	events := make(chan models.Envelope, 256)
	if tailEvents {
		if esub := s.OnEvent(func(env models.Envelope) {
			select {
			case events <- env:
			default:
			}
		}); esub != nil {
			defer esub.Release()
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case r := <-added:
			m, ok := findMessage(s.Log(r.conv), r.id)
			if !ok {
				continue
			}
			if err := p.Message(m); err != nil {
				return err
			}
		case env := <-events:
			if err := p.Event(env); err != nil {
				return err
			}
		}
	}
}

func serveMetrics(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics_server_failed", "addr", addr, "error", err)
		}
	}()
	logger.Info("metrics_serving", "addr", addr)
	return srv
}
