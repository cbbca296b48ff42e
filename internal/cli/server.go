package cli

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/config"
	amqpbus "live-quiz-service/internal/infra/amqp"
	"live-quiz-service/internal/infra/content"
	"live-quiz-service/internal/infra/memory"
	pgsource "live-quiz-service/internal/infra/postgres"
	redisinfra "live-quiz-service/internal/infra/redis"
	transport "live-quiz-service/internal/transport/http"
)

const shutdownTimeout = 10 * time.Second

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the live quiz server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			return runServer(cmd.Context(), cfg)
		},
	}
}

func runServer(ctx context.Context, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	var redisClient redis.UniversalClient
	if cfg.RedisConfigured() {
		client, err := redisinfra.NewUniversalClient(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer client.Close()
		redisClient = client
	}

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		p, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer p.Close()
		pool = p
	}

	quizzes := newQuizSource(cfg, redisClient, pool)

	sessionTTL := config.Duration(cfg.Session.TTL, config.DefaultSessionTTL)
	var store app.SessionStore
	if redisClient != nil {
		store = redisinfra.NewSessionStore(redisClient, sessionTTL)
	} else {
		log.Printf("no redis configured, sessions are kept in memory")
		store = memory.NewSessionStore(sessionTTL)
	}

	bus, err := newEventBus(cfg, redisClient)
	if err != nil {
		return err
	}
	defer bus.Close()

	hub := transport.NewHub()
	serviceOpts := []app.Option{
		app.WithHubURL(hubURL(cfg)),
		app.WithPublishTimeout(config.Duration(cfg.Bus.PublishTimeout, config.DefaultPublishTimeout)),
	}
	if cfg.Session.InstanceID != "" {
		serviceOpts = append(serviceOpts, app.WithInstanceID(cfg.Session.InstanceID))
	}
	service := app.NewLiveService(store, app.NewSnapshotFetcher(quizzes), bus, hub, serviceOpts...)
	relay := app.NewRelay(bus, hub, service.InstanceID(), config.Duration(cfg.Bus.RetryBackoff, config.DefaultRetryBackoff))

	router := transport.NewRouter(
		transport.NewRESTHandler(service, publicURL(cfg)),
		transport.NewWSHandler(service, hub),
	)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("starting live quiz service on :%s (instance %s, bus %s)", cfg.Server.Port, service.InstanceID(), cfg.Bus.Driver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return relay.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Println("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// newQuizSource picks the content service, then Postgres, then the built-in
// sample quiz, and puts a cache in front of the choice.
func newQuizSource(cfg config.Config, client redis.UniversalClient, pool *pgxpool.Pool) app.QuizSource {
	var source app.QuizSource
	switch {
	case cfg.Content.BaseURL != "":
		source = content.NewClient(cfg.Content.BaseURL, config.Duration(cfg.Content.Timeout, config.DefaultContentTimeout))
	case pool != nil:
		source = pgsource.NewQuizSource(pool)
	default:
		log.Printf("no quiz source configured, serving the sample quiz only")
		source = memory.NewStaticQuizSource(memory.SampleQuiz())
	}

	ttl := config.Duration(cfg.Content.CacheTTL, config.DefaultCacheTTL)
	if client != nil {
		return redisinfra.NewQuizCache(client, source, ttl)
	}
	return memory.NewQuizCache(source, ttl)
}

func newEventBus(cfg config.Config, client redis.UniversalClient) (app.EventBus, error) {
	switch cfg.Bus.Driver {
	case "redis":
		if client == nil {
			return nil, errors.New("redis bus requires a redis client")
		}
		return redisinfra.NewEventBus(client, cfg.Bus.ChannelPrefix), nil
	case "amqp":
		return amqpbus.NewEventBus(cfg.Bus.AMQPURL, cfg.Bus.Exchange, cfg.Bus.Prefetch), nil
	case "memory":
		return memory.NewEventBus(), nil
	}
	return nil, fmt.Errorf("unsupported bus driver %q", cfg.Bus.Driver)
}

func publicURL(cfg config.Config) string {
	if cfg.Server.PublicURL != "" {
		return strings.TrimRight(cfg.Server.PublicURL, "/")
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return "http://" + host + ":" + cfg.Server.Port
}

// hubURL derives the WebSocket endpoint from the public URL.
func hubURL(cfg config.Config) string {
	base := publicURL(cfg)
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/ws"
}
