package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tutorgo-dev/tutorgo/internal/content"
	"github.com/tutorgo-dev/tutorgo/internal/llm/provider"
	internalobs "github.com/tutorgo-dev/tutorgo/internal/observability"
	"github.com/tutorgo-dev/tutorgo/internal/supervisor"
	"github.com/tutorgo-dev/tutorgo/internal/workflow/answer"
	"github.com/tutorgo-dev/tutorgo/internal/workflow/chat"
	"github.com/tutorgo-dev/tutorgo/internal/workflow/quiz"
	"github.com/tutorgo-dev/tutorgo/pkg/config"
	"github.com/tutorgo-dev/tutorgo/pkg/observability"
	"github.com/tutorgo-dev/tutorgo/pkg/session"
)

// Version is set via ldflags
var Version = "dev"

var configFile string

func main() {
	root := &cobra.Command{
		Use:   "tutorgo",
		Short: "Document-grounded tutoring over chat, quizzes, and answer formulation",
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (YAML)")

	root.AddCommand(serveCmd())
	root.AddCommand(replCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("tutorgo v%s\n", Version)
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the tutor with the ops HTTP server (metrics, health)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func replCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Interactive tutoring session on the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runREPL()
		},
	}
}

func loadConfig() (*config.Config, error) {
	if configFile != "" {
		return config.LoadConfig(configFile)
	}
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// app holds everything a command needs after wiring
type app struct {
	cfg     *config.Config
	store   session.Store
	locker  session.TurnLocker
	content content.Provider
	llm     provider.Provider
	sup     *supervisor.Supervisor
}

func buildApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	store, locker, err := buildStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("session store: %w", err)
	}

	docs, err := buildContent(ctx, cfg)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("content provider: %w", err)
	}

	llm, err := buildProvider(cfg)
	if err != nil {
		store.Close()
		docs.Close()
		return nil, fmt.Errorf("llm provider: %w", err)
	}

	sup, err := supervisor.New(supervisor.Options{
		Store:   store,
		Locker:  locker,
		Content: docs,
		Chat:    chat.New(llm, cfg.Model),
		Quiz:    quiz.New(llm, cfg.Model, cfg.Quiz.MaxQuestions),
		Answer:  answer.New(llm, cfg.Model, cfg.Answer.FidelitySampleRate),
	})
	if err != nil {
		store.Close()
		docs.Close()
		llm.Close()
		return nil, err
	}

	return &app{cfg: cfg, store: store, locker: locker, content: docs, llm: llm, sup: sup}, nil
}

func (a *app) close() {
	if err := a.llm.Close(); err != nil {
		log.Printf("llm provider close: %v", err)
	}
	if err := a.content.Close(); err != nil {
		log.Printf("content provider close: %v", err)
	}
	if err := a.store.Close(); err != nil {
		log.Printf("session store close: %v", err)
	}
}

func buildStore(ctx context.Context, cfg *config.Config) (session.Store, session.TurnLocker, error) {
	switch cfg.Store.Backend {
	case "memory":
		return session.NewMemoryStore(), nil, nil
	case "file":
		store, err := session.NewFileStore(cfg.Store.Dir)
		return store, nil, err
	case "redis":
		backend, err := session.NewRedisBackend(session.RedisConfig{
			Addr:       cfg.Store.Redis.Addr,
			Password:   cfg.Store.Redis.Password,
			DB:         cfg.Store.Redis.DB,
			Prefix:     cfg.Store.Redis.Prefix,
			SessionTTL: time.Duration(cfg.Store.Redis.TTLMinutes) * time.Minute,
		})
		if err != nil {
			return nil, nil, err
		}
		// Redis also provides the cross-process turn lock
		return backend, backend, nil
	case "firestore":
		backend, err := session.NewFirestoreBackend(ctx, session.FirestoreConfig{
			ProjectID:       cfg.GCPProject,
			Database:        cfg.GCPDatabase,
			Collection:      cfg.Store.Firestore.Collection,
			CredentialsFile: cfg.GCPCredentials,
		})
		return backend, nil, err
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

func buildContent(ctx context.Context, cfg *config.Config) (content.Provider, error) {
	switch cfg.Content.Backend {
	case "dir":
		return content.NewDirProvider(cfg.Content.Dir)
	case "firestore":
		return content.NewFirestoreProvider(ctx, content.FirestoreConfig{
			ProjectID:       cfg.GCPProject,
			Database:        cfg.GCPDatabase,
			Collection:      cfg.Content.Collection,
			CredentialsFile: cfg.GCPCredentials,
		})
	default:
		return nil, fmt.Errorf("unknown content backend %q", cfg.Content.Backend)
	}
}

func buildProvider(cfg *config.Config) (provider.Provider, error) {
	var inner provider.Provider
	var err error

	switch cfg.Provider {
	case "mock":
		inner = provider.NewMockProvider("mock")
	case "gemini":
		inner, err = provider.Create("gemini", map[string]any{"api_key": cfg.GeminiKey})
	case "openai":
		inner, err = provider.Create("openai", map[string]any{"api_key": cfg.OpenAIKey})
	default:
		err = fmt.Errorf("unknown provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	return provider.NewInstrumentedProvider(inner, provider.InstrumentOptions{
		RateLimit: cfg.LLM.RateLimit,
		Burst:     cfg.LLM.Burst,
		Timeout:   time.Duration(cfg.LLM.RequestTimeoutSeconds) * time.Second,
	}), nil
}

func runServe() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("Starting tutorgo v%s", Version)

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	observability.InitMetrics()
	if err := internalobs.InitFromEnv(); err != nil {
		log.Printf("tracing init failed, continuing without traces: %v", err)
	}

	health := observability.NewHealthChecker(Version)
	health.Register(observability.PingCheck())
	health.Register(observability.SessionStoreCheck(func(ctx context.Context) error {
		_, err := a.store.List(ctx, session.WorkflowChat, session.ListOptions{Limit: 1})
		return err
	}))
	health.Register(observability.ContentProviderCheck(func(ctx context.Context) error {
		_, err := a.content.GetText(ctx, "healthcheck")
		if errors.Is(err, content.ErrContentUnavailable) {
			return nil
		}
		return err
	}))

	obsServer := observability.NewServer(a.cfg.MetricsPort, health)

	sweeper := cron.New()
	if _, err := sweeper.AddFunc("@every 10m", func() { sweepSessions(a.store) }); err != nil {
		return fmt.Errorf("schedule session sweep: %w", err)
	}
	sweeper.Start()
	sweepSessions(a.store)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("Ops server listening on :%d", a.cfg.MetricsPort)
		return obsServer.Start()
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Println("Shutting down")

		sweeper.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := obsServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("ops server shutdown: %v", err)
		}
		if err := internalobs.Shutdown(shutdownCtx); err != nil {
			log.Printf("tracing shutdown: %v", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	log.Println("tutorgo stopped")
	return nil
}

// sweepSessions refreshes the active-session gauges from the store
func sweepSessions(store session.Store) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, kind := range []session.WorkflowKind{session.WorkflowChat, session.WorkflowQuiz, session.WorkflowAnswer} {
		sessions, err := store.List(ctx, kind, session.ListOptions{})
		if err != nil {
			log.Printf("session sweep: list %s: %v", kind, err)
			continue
		}
		observability.SetActiveSessions(string(kind), len(sessions))
	}
	observability.UpdateSystemMetrics()
}
