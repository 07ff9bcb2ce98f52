package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/zhouzirui/z-tavern/salesbot/internal/config"
	"github.com/zhouzirui/z-tavern/salesbot/internal/handler"
	"github.com/zhouzirui/z-tavern/salesbot/internal/metrics"
	chatModel "github.com/zhouzirui/z-tavern/salesbot/internal/model/chat"
	"github.com/zhouzirui/z-tavern/salesbot/internal/model/persona"
	"github.com/zhouzirui/z-tavern/salesbot/internal/service/ai"
	"github.com/zhouzirui/z-tavern/salesbot/internal/service/chat"
	"github.com/zhouzirui/z-tavern/salesbot/internal/service/democonfig"
	"github.com/zhouzirui/z-tavern/salesbot/internal/service/orchestrator"
	"github.com/zhouzirui/z-tavern/salesbot/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	repo, err := store.Open(ctx, cfg.Storage)
	if err != nil {
		log.Fatalf("failed to open %s storage: %v", cfg.Storage.Driver, err)
	}
	defer repo.Close()
	log.Printf("storage initialized driver=%s", cfg.Storage.Driver)

	recorder := metrics.NewPrometheusRecorder()
	configs := democonfig.NewResolver(repo, cfg.Orchestrator.ConfigSaveAttempts)

	var stepper chat.Stepper = unavailableStepper{}
	if cfg.AI.Enabled() {
		orch, err := newOrchestrator(ctx, cfg, configs, recorder)
		if err != nil {
			log.Printf("warning: failed to initialize agents: %v", err)
			log.Println("continuing without AI functionality, every turn will get the apology reply")
		} else {
			stepper = orch
			log.Println("agents initialized successfully")
		}
	} else {
		log.Println("Ark credentials not configured, every turn will get the apology reply")
	}

	chatService := chat.NewService(repo, repo, stepper, chat.Options{
		TurnTimeout: cfg.Orchestrator.TurnTimeout,
		Observer:    recorder,
	})

	router := handler.NewRouter(cfg, chatService, configs, repo, recorder.Handler())

	startServer(ctx, cfg.Server, router)
}

func newOrchestrator(ctx context.Context, cfg *config.Config, configs *democonfig.Resolver, recorder *metrics.PrometheusRecorder) (*orchestrator.Orchestrator, error) {
	agents, err := ai.NewAgents(ctx, cfg.AI.NewChatModel, cfg.AI.HistoryLimit)
	if err != nil {
		return nil, err
	}

	return orchestrator.New(orchestrator.Deps{
		Admin:            agents.Admin,
		DemoSetup:        agents.DemoSetup,
		DemoUnconfigured: agents.DemoUnconfigured,
		NewDemo: func(ctx context.Context, demoCfg persona.Config) (orchestrator.Agent, error) {
			agent, err := agents.NewDemoAgent(ctx, demoCfg)
			if err != nil {
				return nil, err
			}
			return agent, nil
		},
		Configs:  configs,
		Observer: recorder,
	})
}

// unavailableStepper fails every turn so users receive the apology reply.
type unavailableStepper struct{}

func (unavailableStepper) Step(context.Context, string, string, *chatModel.State) (chatModel.Delta, error) {
	return chatModel.Delta{}, errors.New("chat model is not configured")
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("sales assistant backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
