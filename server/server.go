// Package server assembles the bridge: controller, loops and the metrics endpoint.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/hrygo/replybridge/ai/metrics"
	"github.com/hrygo/replybridge/ai/reply"
	"github.com/hrygo/replybridge/internal/profile"
	"github.com/hrygo/replybridge/plugin/wechat"
	"github.com/hrygo/replybridge/server/controller"
	"github.com/hrygo/replybridge/server/pipeline"
	"github.com/hrygo/replybridge/store"
)

// shutdownTimeout bounds draining the loops and the metrics listener.
const shutdownTimeout = 15 * time.Second

// historyLoadDelay is waited between history page loads so the client can render.
const historyLoadDelay = time.Second

type Server struct {
	Profile *profile.Profile
	Store   *store.Store

	controller *controller.Controller
	exporter   *metrics.PrometheusExporter
	metricsSrv *http.Server
	logger     *slog.Logger
}

// Options overrides collaborators, mainly for tests.
type Options struct {
	Connector wechat.Connector
	// Tenant pins the tenant used before an identity is known.
	Tenant string
	Logger *slog.Logger
}

// NewServer wires the controller from the profile.
func NewServer(profile *profile.Profile, st *store.Store, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	connector := opts.Connector
	if connector == nil {
		connector = wechat.NewConnector(profile.BridgeURL, profile.BridgeAPIKey)
	}

	exporter := metrics.NewPrometheusExporter(metrics.DefaultConfig())
	s := &Server{
		Profile:  profile,
		Store:    st,
		exporter: exporter,
		logger:   logger.With("component", "server"),
	}
	s.controller = controller.New(st, ControllerConfig(profile, connector, opts.Tenant), exporter, logger)

	if profile.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", exporter.Handler())
		mux.HandleFunc("/healthz", s.handleHealth)
		s.metricsSrv = &http.Server{
			Addr:              profile.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}
	return s
}

// ControllerConfig maps the profile onto controller settings.
func ControllerConfig(p *profile.Profile, connector wechat.Connector, tenant string) controller.Config {
	var limiter *rate.Limiter
	if p.SendRate > 0 {
		burst := p.SendBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(p.SendRate), burst)
	}
	return controller.Config{
		Connector: connector,
		Pipeline: pipeline.Config{
			QueueSize: p.QueueSize,
			Monitor: pipeline.MonitorConfig{
				IdleInterval:          p.IdleInterval,
				PollInterval:          p.PollInterval,
				DisconnectedBackoff:   p.DisconnectedBackoff,
				FetchErrorBackoff:     p.FetchErrorBackoff,
				IterationErrorBackoff: p.IterationErrorBackoff,
				MuteFiltered:          true,
			},
			Processor: pipeline.ProcessorConfig{PopTimeout: p.PopTimeout},
		},
		Reply: reply.Options{
			DefaultBaseURL: p.LLMBaseURL,
			FallbackURLs:   p.LLMFallbackURLs,
			Timeout:        p.LLMTimeout,
		},
		SendLimiter:         limiter,
		HistoryLoadAttempts: p.HistoryLoadAttempts,
		HistoryLoadDelay:    historyLoadDelay,
		Tenant:              tenant,
	}
}

// Controller returns the control surface.
func (s *Server) Controller() *controller.Controller { return s.controller }

// Exporter returns the metrics exporter.
func (s *Server) Exporter() *metrics.PrometheusExporter { return s.exporter }

// Run connects, starts monitoring the given conversations and blocks until ctx
// is cancelled, then shuts everything down.
func (s *Server) Run(ctx context.Context, monitor []string) error {
	g, gctx := errgroup.WithContext(ctx)

	if s.metricsSrv != nil {
		g.Go(func() error {
			s.logger.Info("server: metrics listening", "addr", s.metricsSrv.Addr)
			if err := s.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return errors.Wrap(err, "metrics server failed")
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return s.metricsSrv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		if err := s.connect(gctx); err != nil {
			return nil
		}
		for _, name := range monitor {
			if res := s.controller.StartMonitoring(gctx, name, false); !res.Success {
				s.logger.Warn("server: failed to start monitoring", "name", name, "message", res.Message)
			}
		}
		<-gctx.Done()
		return nil
	})

	err := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := s.controller.Shutdown(shutdownCtx); serr != nil {
		s.logger.Warn("server: loops did not drain", "error", serr)
	}
	return err
}

// connect retries until the bridge accepts a session or ctx is done.
func (s *Server) connect(ctx context.Context) error {
	backoff := s.Profile.DisconnectedBackoff
	if backoff <= 0 {
		backoff = profile.DefaultDisconnectedBackoff
	}
	for {
		status := s.controller.Connect(ctx)
		if status.Success {
			s.logger.Info("server: connected", "tenant", status.Tenant, "nickname", status.Nickname)
			return nil
		}
		s.logger.Warn("server: connect failed, retrying", "message", status.Message, "backoff", backoff)
		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := s.controller.ConnectionStatus()
	if !status.Connected || !status.MonitorAlive || !status.ProcessorAlive {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(string(status.State) + "\n"))
		return
	}
	_, _ = w.Write([]byte("ok\n"))
}
