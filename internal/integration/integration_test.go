package integration

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/config"
	"live-quiz-service/internal/domain"
	amqpbus "live-quiz-service/internal/infra/amqp"
	"live-quiz-service/internal/infra/memory"
	pgsource "live-quiz-service/internal/infra/postgres"
	pgmigrations "live-quiz-service/internal/infra/postgres/migrations"
	infraredis "live-quiz-service/internal/infra/redis"
	transport "live-quiz-service/internal/transport/http"
)

// recorder is a connection that keeps the events it receives.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) Send(event string, _ any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) has(event string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e == event {
			return true
		}
	}
	return false
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

type node struct {
	service *app.LiveService
	hub     *transport.Hub
}

func startNode(t *testing.T, ctx context.Context, client goredis.UniversalClient, source app.QuizSource) *node {
	t.Helper()
	hub := transport.NewHub()
	bus := infraredis.NewEventBus(client, config.DefaultChannelPrefix)
	store := infraredis.NewSessionStore(client, 5*time.Minute)
	cache := infraredis.NewQuizCache(client, source, time.Minute)
	service := app.NewLiveService(store, app.NewSnapshotFetcher(cache), bus, hub)
	relay := app.NewRelay(bus, hub, service.InstanceID(), 100*time.Millisecond)
	go func() { _ = relay.Run(ctx) }()
	return &node{service: service, hub: hub}
}

func TestLiveSessionAcrossInstances(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisAddr, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	migrateDB(t, ctx, pgURL)
	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()
	source := pgsource.NewQuizSource(pool)
	if err := source.Save(ctx, memory.SampleQuiz()); err != nil {
		t.Fatalf("seed quiz: %v", err)
	}

	client, err := infraredis.NewUniversalClient(ctx, config.RedisConfig{Addr: redisAddr})
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer client.Close()

	a := startNode(t, ctx, client, source)
	b := startNode(t, ctx, client, source)
	// give both relays time to subscribe
	time.Sleep(500 * time.Millisecond)

	created, err := a.service.CreateSession(ctx, "sample")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	code := created.SessionCode

	hostConn := &recorder{}
	host, err := a.service.Join(ctx, hostConn, code, "Host", "")
	if err != nil {
		t.Fatalf("host join: %v", err)
	}
	playerConn := &recorder{}
	player, err := b.service.Join(ctx, playerConn, code, "Remote", "")
	if err != nil {
		t.Fatalf("player join: %v", err)
	}
	if !host.IsHost || player.IsHost {
		t.Fatalf("expected only the first joiner to host, got host=%v player=%v", host.IsHost, player.IsHost)
	}

	if err := a.service.Start(ctx, code, host.PlayerID); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, "questionStarted on the remote instance", func() bool { return playerConn.has(domain.EventQuestionStarted) })

	yes := true
	ack, err := b.service.SubmitAnswer(ctx, playerConn, code, player.PlayerID, 0, domain.AnswerPayload{BoolAnswer: &yes})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !ack.IsCorrect || ack.PointsEarned != 1 || ack.YourScore != 1 {
		t.Fatalf("expected correct answer with 1 point, got %+v", ack)
	}
	ack, err = a.service.SubmitAnswer(ctx, hostConn, code, player.PlayerID, 0, domain.AnswerPayload{BoolAnswer: &yes})
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if !ack.AlreadyAnswered || ack.YourScore != 1 {
		t.Fatalf("expected duplicate to be ignored on the other instance, got %+v", ack)
	}
	waitFor(t, "leaderboard on the host instance", func() bool { return hostConn.has(domain.EventLeaderboard) })

	if err := a.service.End(ctx, code, host.PlayerID); err != nil {
		t.Fatalf("end: %v", err)
	}
	waitFor(t, "sessionEnded on the remote instance", func() bool { return playerConn.has(domain.EventSessionEnded) })

	info, err := b.service.SessionInfo(ctx, code)
	if err != nil {
		t.Fatalf("session info: %v", err)
	}
	if info.Status != domain.StatusEnded || len(info.Leaderboard) != 2 || info.Leaderboard[0].PlayerID != player.PlayerID {
		t.Fatalf("unexpected final state %+v", info)
	}
}

func TestAMQPBusFanout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	requireDocker(t)

	url, cleanup := startRabbitMQ(t, ctx)
	defer cleanup()

	publisher := amqpbus.NewEventBus(url, config.DefaultExchange, 10)
	defer publisher.Close()
	consumer := amqpbus.NewEventBus(url, config.DefaultExchange, 10)
	defer consumer.Close()

	received := make(chan domain.Event, 1)
	go func() {
		_ = consumer.Consume(ctx, func(_ context.Context, evt domain.Event) error {
			select {
			case received <- evt:
			default:
			}
			return nil
		})
	}()

	evt, err := domain.NewEvent(domain.KeyPlayerJoined, "ABC234", "node-a", map[string]string{"playerId": "p1"}, time.Now())
	if err != nil {
		t.Fatalf("new event: %v", err)
	}
	deadline := time.Now().Add(15 * time.Second)
	for {
		// the consumer queue may not be bound yet
		if err := publisher.Publish(ctx, evt); err != nil {
			t.Logf("publish: %v", err)
		}
		select {
		case got := <-received:
			if got.SessionCode != "ABC234" || got.RoutingKey != domain.KeyPlayerJoined {
				t.Fatalf("unexpected event %+v", got)
			}
			return
		case <-time.After(200 * time.Millisecond):
		}
		if time.Now().After(deadline) {
			t.Fatalf("no event received from broker")
		}
	}
}

func migrateDB(t *testing.T, ctx context.Context, dsn string) {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
}

func startContainer(t *testing.T, ctx context.Context, req tc.ContainerRequest, port string) (string, string, func()) {
	t.Helper()
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start %s: %v", req.Image, err)
	}
	cleanup := func() { _ = container.Terminate(context.Background()) }
	host, err := container.Host(ctx)
	if err != nil {
		cleanup()
		t.Fatalf("%s host: %v", req.Image, err)
	}
	mapped, err := container.MappedPort(ctx, nat.Port(port))
	if err != nil {
		cleanup()
		t.Fatalf("%s port: %v", req.Image, err)
	}
	return host, mapped.Port(), cleanup
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	host, port, cleanup := startContainer(t, ctx, tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "quiz", "POSTGRES_PASSWORD": "quizpass", "POSTGRES_DB": "quizdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(60 * time.Second),
	}, "5432/tcp")
	return fmt.Sprintf("postgres://quiz:quizpass@%s:%s/quizdb?sslmode=disable", host, port), cleanup
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	host, port, cleanup := startContainer(t, ctx, tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}, "6379/tcp")
	return host + ":" + port, cleanup
}

func startRabbitMQ(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	host, port, cleanup := startContainer(t, ctx, tc.ContainerRequest{
		Image:        "rabbitmq:3.13-alpine",
		ExposedPorts: []string{"5672/tcp"},
		WaitingFor:   wait.ForLog("Server startup complete").WithStartupTimeout(90 * time.Second),
	}, "5672/tcp")
	return fmt.Sprintf("amqp://guest:guest@%s:%s/", host, port), cleanup
}

func requireDocker(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
