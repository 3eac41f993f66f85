// Package app wires the Directive Sequencer, Audio Input Processor, and
// External Media Player capability agent together with the ambient stack
// (configuration, observability, health) into one running process.
//
// Grounded on internal/app/session_manager.go's New/Run/Shutdown lifecycle
// shape, generalised from per-voice-channel session ownership to owning the
// single continuous directive pipeline this module implements.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/emberline/avscore/internal/aip"
	"github.com/emberline/avscore/internal/config"
	"github.com/emberline/avscore/internal/contextmgr"
	"github.com/emberline/avscore/internal/directive"
	"github.com/emberline/avscore/internal/emp"
	"github.com/emberline/avscore/internal/events"
	"github.com/emberline/avscore/internal/focus"
	"github.com/emberline/avscore/internal/health"
	"github.com/emberline/avscore/internal/observe"
	"github.com/emberline/avscore/internal/sender"
	"github.com/emberline/avscore/pkg/avs"
)

var (
	telemetryOnce     sync.Once
	telemetryShutdown func(context.Context) error
	telemetryErr      error
)

func hasNamespace(enabled []string, namespace string) bool {
	for _, ns := range enabled {
		if ns == namespace {
			return true
		}
	}
	return false
}

// App owns the wired-up pipeline for the lifetime of one process.
type App struct {
	cfg *config.Config

	sequencer *directive.Sequencer
	aip       *aip.Processor
	aipH      *aip.Handler
	emp       *emp.EMP
	empH      *emp.Handler
	registry  *emp.Registry
	focus     *focus.Arbiter
	contexts  *contextmgr.Registry

	guaranteed *sender.ResilientGuaranteedSender
	direct     *sender.DirectSender

	metrics       *observe.Metrics
	otelShutdown  func(context.Context) error
	healthHandler *health.Handler
	httpServer    *http.Server
}

// Option configures an App during construction.
type Option func(*App)

// WithTransport overrides the primary Transport events are delivered
// through. Without this option the App logs events via
// sender.NewLogTransport, which is sufficient for a standalone demo.
func WithTransport(t sender.Transport) Option {
	return func(a *App) { a.direct = sender.NewDirectSender(t) }
}

// New builds the full pipeline from cfg but does not start anything
// network-facing; call Run to start serving.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("app: invalid config: %w", err)
	}

	a := &App{cfg: cfg}
	for _, opt := range opts {
		opt(a)
	}

	// The OTel SDK's Prometheus exporter registers its collectors against the
	// global registerer, so InitProvider must run at most once per process —
	// a second App in the same process (as in tests, which build several)
	// reuses the already-installed global providers instead of panicking on
	// a duplicate registration.
	telemetryOnce.Do(func() {
		telemetryShutdown, telemetryErr = observe.InitProvider(ctx, observe.ProviderConfig{
			ServiceName: cfg.Device.Agent,
		})
	})
	if telemetryErr != nil {
		return nil, fmt.Errorf("app: init telemetry: %w", telemetryErr)
	}
	a.otelShutdown = telemetryShutdown
	a.metrics = observe.DefaultMetrics()

	if a.direct == nil {
		a.direct = sender.NewDirectSender(sender.NewLogTransport(slog.Default()))
	}
	a.guaranteed = sender.NewResilientGuaranteedSender(sender.NewLogTransport(slog.Default()), sender.GuaranteedSenderConfig{})

	a.focus = focus.NewArbiter()
	a.contexts = contextmgr.NewRegistry()
	a.registry = emp.NewRegistry()

	a.sequencer = directive.New(
		directive.WithExceptionSender(a.direct),
		directive.WithInstrumentation(directive.Instrumentation{
			OnDispatch: func(d avs.Directive) {
				ctx, span := observe.StartSpan(context.Background(), "directive.dispatch")
				defer span.End()
				a.metrics.RecordDirectiveReceived(ctx, d.Namespace, d.Name)
			},
			OnException: func(_ avs.Directive, kind avs.ErrorKind) {
				a.metrics.RecordException(context.Background(), kind.String())
			},
		}),
	)

	if hasNamespace(cfg.Capability.EnabledNamespaces, "SpeechRecognizer") {
		a.aip = aip.New(a.focus, a.contexts, a.direct,
			aip.WithDefaultExpectSpeechTimeout(cfg.Capability.ExpectSpeechDefaultTimeout),
			aip.WithObserver(aipMetricsObserver{metrics: a.metrics}),
		)
		a.aipH = aip.NewHandler(a.aip)
		if !a.sequencer.AddDirectiveHandler(a.aipH) {
			return nil, errors.New("app: failed to register SpeechRecognizer handler")
		}
	}

	if hasNamespace(cfg.Capability.EnabledNamespaces, "ExternalMediaPlayer") {
		a.emp = emp.New(a.registry, a.contexts, a.direct, a.direct,
			emp.WithAgent(cfg.Device.Agent),
			emp.WithSPIVersion(cfg.Device.SPIVersion),
			emp.WithGuaranteedSender(a.guaranteed),
			emp.WithInstrumentation(emp.Instrumentation{
				OnException: func(_ avs.Directive, kind avs.ErrorKind) {
					a.metrics.RecordException(context.Background(), kind.String())
				},
			}),
		)
		a.empH = emp.NewHandler(a.emp)
		if !a.sequencer.AddDirectiveHandler(a.empH) {
			return nil, errors.New("app: failed to register ExternalMediaPlayer handler family")
		}
		a.contexts.AddStateProvider("SessionState", a.emp.SessionStateProvider())
		a.contexts.AddStateProvider("PlaybackState", a.emp.PlaybackStateProvider())

		for _, p := range cfg.Players {
			a.registry.Register(emp.NewMemoryAdapter(p.LocalPlayerID))
		}
		a.emp.Startup()
	}

	a.healthHandler = health.New(
		health.Checker{Name: "sequencer", Check: func(context.Context) error { return nil }},
		health.Checker{Name: "aip", Check: func(context.Context) error {
			if a.aip == nil {
				return nil
			}
			_ = a.aip.State()
			return nil
		}},
		health.Checker{Name: "emp", Check: func(context.Context) error { return nil }},
	)

	if cfg.Server.ListenAddr != "" {
		mux := http.NewServeMux()
		a.healthHandler.Register(mux)
		a.httpServer = &http.Server{Addr: cfg.Server.ListenAddr, Handler: observe.Middleware(a.metrics)(mux)}
	}

	return a, nil
}

// OnDirectiveJSON parses raw as a directive envelope and forwards it to the
// sequencer. Returns false if the envelope is malformed or the sequencer has
// been shut down.
func (a *App) OnDirectiveJSON(raw []byte) bool {
	d, err := events.ParseDirective(raw)
	if err != nil {
		return false
	}
	return a.sequencer.OnDirective(d)
}

// SetDialogRequestID forwards to the sequencer.
func (a *App) SetDialogRequestID(id string) { a.sequencer.SetDialogRequestId(id) }

// Run starts the health/readiness HTTP server, if configured, and blocks
// until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if a.httpServer == nil {
		<-ctx.Done()
		return nil
	}

	errCh := make(chan error, 1)
	go func() {
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.httpServer.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown tears down every owned component: the AIP, then the EMP, then the
// sequencer, then the guaranteed sender, then telemetry.
func (a *App) Shutdown(ctx context.Context) error {
	if a.aip != nil {
		a.aip.Shutdown()
	}
	if a.emp != nil {
		a.emp.Shutdown()
	}
	a.sequencer.Shutdown()
	a.guaranteed.Close()

	if a.otelShutdown != nil {
		return a.otelShutdown(ctx)
	}
	return nil
}

// aipMetricsObserver adapts internal/observe.Metrics to aip.StateObserver.
type aipMetricsObserver struct {
	metrics *observe.Metrics
}

func (o aipMetricsObserver) OnStateChanged(old, updated avs.AIPState) {
	o.metrics.RecordAIPStateTransition(context.Background(), old.String(), updated.String())
}

func (o aipMetricsObserver) OnOverrun() {
	o.metrics.CaptureOverruns.Add(context.Background(), 1)
}
