package server

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"

	"github.com/customeros/mailstack/api/rest"
	"github.com/customeros/mailstack/config"
	"github.com/customeros/mailstack/internal/events"
	"github.com/customeros/mailstack/internal/logger"
	"github.com/customeros/mailstack/internal/messageservice"
	"github.com/customeros/mailstack/internal/orchestrator"
	"github.com/customeros/mailstack/internal/tracing"
	"github.com/customeros/mailstack/interfaces"
)

// Server wires the orchestrator to the outside world: the HTTP/rest surface
// and the process signal handling, per spec.md §1's "non-core collaborator"
// framing for anything outside the engine/orchestrator pair.
type Server struct {
	config       *config.Config
	log          logger.Logger
	httpServer   *http.Server
	router       *gin.Engine
	orchestrator *orchestrator.Orchestrator
	tracerCloser io.Closer

	eventPublisher  interfaces.EventPublisher
	eventSubscriber interfaces.EventSubscriber
}

func NewServer(cfg *config.Config, store interfaces.MailStore) (*Server, error) {
	appLog := logger.NewAppLogger(cfg.AppConfig.Logger)
	appLog.InitLogger()

	tracer, closer, err := tracing.NewJaegerTracer(cfg.AppConfig.Tracing, appLog)
	if err != nil {
		return nil, fmt.Errorf("initialize jaeger tracer: %w", err)
	}
	opentracing.SetGlobalTracer(tracer)

	factory := messageservice.NewIMAPServiceFactory(store, appLog)
	orch := orchestrator.New(*cfg.OrchestratorConfig, store, factory, appLog)

	gin.SetMode(gin.ReleaseMode)
	router := gin.Default()
	router.Use(tracing.RecoveryWithJaeger(tracer))
	rest.RegisterRoutes(router, orch, cfg.AppConfig.APIKey)

	srv := &Server{
		config:       cfg,
		log:          appLog,
		router:       router,
		orchestrator: orch,
		tracerCloser: closer,
		httpServer: &http.Server{
			Addr:    ":" + cfg.AppConfig.APIPort,
			Handler: router,
		},
	}

	if cfg.AppConfig.RabbitMQURL != "" {
		publisher, err := events.NewRabbitMQPublisher(cfg.AppConfig.RabbitMQURL, appLog, nil)
		if err != nil {
			return nil, fmt.Errorf("connect event publisher: %w", err)
		}
		srv.eventPublisher = publisher

		subscriber, err := events.NewRabbitMQSubscriber(cfg.AppConfig.RabbitMQURL, appLog, nil)
		if err != nil {
			return nil, fmt.Errorf("connect event subscriber: %w", err)
		}
		srv.eventSubscriber = subscriber
	}

	return srv, nil
}

func (s *Server) recoverWithJaeger(name string) {
	if r := recover(); r != nil {
		span := opentracing.GlobalTracer().StartSpan(fmt.Sprintf("panic.%s", name))
		defer span.Finish()
		ext.Error.Set(span, true)
		span.LogKV(
			"event", "panic",
			"process", name,
			"error", fmt.Sprintf("%v", r),
			"stack", string(debug.Stack()),
		)
		s.log.Errorf("panic in %s: %v\n%s", name, r, debug.Stack())
	}
}

func (s *Server) wrapGoroutine(name string, fn func()) {
	defer s.recoverWithJaeger(name)
	fn()
}

// Run starts the orchestrator and the HTTP server, then blocks until a
// termination signal is received.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	log.Println("starting orchestrator...")
	if err := s.orchestrator.Start(ctx); err != nil {
		return fmt.Errorf("start orchestrator: %w", err)
	}
	log.Println("orchestrator started")

	if s.eventPublisher != nil {
		responses, err := s.orchestrator.Events(ctx)
		if err != nil {
			return fmt.Errorf("subscribe orchestrator events: %w", err)
		}
		go s.wrapGoroutine("event_forwarder", func() {
			events.ForwardResponses(ctx, responses, s.eventPublisher, s.log)
		})
	}

	if s.eventSubscriber != nil {
		unsubscribe, err := s.eventSubscriber.Subscribe(ctx, events.TopicAccountProvisioned, events.AccountProvisionedListener(s.orchestrator, s.log))
		if err != nil {
			return fmt.Errorf("subscribe to %s: %w", events.TopicAccountProvisioned, err)
		}
		defer unsubscribe()
	}

	go s.wrapGoroutine("http_server", func() {
		log.Println("starting HTTP server")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("HTTP server error: %v", err)
		}
	})
	log.Println("mailstack is now running, press ctrl+c to exit")

	return s.waitForShutdown()
}

func (s *Server) waitForShutdown() error {
	defer s.recoverWithJaeger("shutdown")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Println("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if s.tracerCloser != nil {
		s.tracerCloser.Close()
	}
	if s.eventPublisher != nil {
		if err := s.eventPublisher.Close(); err != nil {
			log.Printf("event publisher shutdown error: %v", err)
		}
	}
	if s.eventSubscriber != nil {
		if err := s.eventSubscriber.Close(); err != nil {
			log.Printf("event subscriber shutdown error: %v", err)
		}
	}

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	} else {
		log.Println("HTTP server shut down successfully")
	}

	s.orchestrator.Stop()
	log.Println("orchestrator stopped")

	return nil
}
