package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/twmb/franz-go/pkg/kgo"
	"golang.org/x/sync/errgroup"

	"kinwatch/internal/alert/dispatcher"
	alertmetrics "kinwatch/internal/alert/metrics"
	"kinwatch/internal/alert/panictrigger"
	alertstore "kinwatch/internal/alert/store"
	"kinwatch/internal/changestream"
	familymodels "kinwatch/internal/family/models"
	familystore "kinwatch/internal/family/store"
	"kinwatch/internal/geofence/evaluator"
	geofencemetrics "kinwatch/internal/geofence/metrics"
	geofencemodels "kinwatch/internal/geofence/models"
	geofencestore "kinwatch/internal/geofence/store/geofence"
	"kinwatch/internal/geofence/store/membership"
	jwttoken "kinwatch/internal/jwt_token"
	locationmetrics "kinwatch/internal/location/metrics"
	locationmodels "kinwatch/internal/location/models"
	locationservice "kinwatch/internal/location/service"
	locationstore "kinwatch/internal/location/store"
	"kinwatch/internal/notify"
	"kinwatch/internal/platform/config"
	"kinwatch/internal/platform/httpserver"
	"kinwatch/internal/platform/kafka"
	"kinwatch/internal/platform/kafka/consumer"
	"kinwatch/internal/platform/logger"
	"kinwatch/internal/platform/metrics"
	"kinwatch/internal/platform/postgres"
	kwredis "kinwatch/internal/platform/redis"
	"kinwatch/internal/seed"
	httptransport "kinwatch/internal/transport/http"
)

type subjectStore interface {
	evaluator.SubjectStore
	Save(ctx context.Context, subject *familymodels.Subject) error
}

type geofenceStore interface {
	evaluator.GeofenceStore
	Save(ctx context.Context, g *geofencemodels.Geofence) error
}

type stores struct {
	subjects    subjectStore
	geofences   geofenceStore
	memberships evaluator.MembershipStore
	locations   changestream.LocationStore
	alerts      changestream.AlertStore
	ledger      dispatcher.Ledger
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := logger.New(cfg.Logging)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("kinwatch stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("kinwatch stopped")
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	db, err := postgres.Open(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
		if err := postgres.Migrate(ctx, db); err != nil {
			return err
		}
	}
	rc, err := kwredis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if rc != nil {
		defer rc.Close()
	}

	st, err := buildStores(db, rc)
	if err != nil {
		return err
	}
	log.Info("storage selected",
		"postgres", db != nil,
		"redis", rc != nil,
	)

	if cfg.Server.SeedFile != "" {
		f, err := seed.LoadFile(cfg.Server.SeedFile)
		if err != nil {
			return err
		}
		sum, err := f.Apply(ctx, st.subjects, st.geofences)
		if err != nil {
			return err
		}
		log.Info("seed applied", "subjects", sum.Subjects, "geofences", sum.Geofences)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	platformMetrics := metrics.NewWith(reg)
	alertMetrics := alertmetrics.NewWith(reg)

	topics := changestream.Topics{Location: cfg.Kafka.LocationTopic, Alert: cfg.Kafka.AlertTopic}
	stream, publisher, closeStream, err := buildStream(ctx, cfg, log, platformMetrics)
	if err != nil {
		return err
	}
	defer closeStream()

	locations := changestream.NewPublishingLocations(st.locations, publisher, topics.Location, log)
	alerts := changestream.NewPublishingAlerts(st.alerts, publisher, topics.Alert, log)

	sender, err := buildSender(cfg.SMS, log)
	if err != nil {
		return err
	}

	locationSvc, err := locationservice.New(locations,
		locationservice.WithLogger(log),
		locationservice.WithMetrics(locationmetrics.NewWith(reg)),
		locationservice.WithMaxSampleAge(cfg.Ingest.MaxSampleAge),
		locationservice.WithMaxAccuracyMeters(cfg.Ingest.MaxAccuracyMeters),
	)
	if err != nil {
		return err
	}

	panicOpts := []panictrigger.Option{
		panictrigger.WithLogger(log),
		panictrigger.WithMetrics(alertMetrics),
		panictrigger.WithRateLimitWindow(cfg.Panic.RateLimitWindow),
	}
	dispatcherOpts := []dispatcher.Option{
		dispatcher.WithLogger(log),
		dispatcher.WithMetrics(alertMetrics),
		dispatcher.WithLedger(st.ledger),
	}
	if cfg.Pipeline.PanicDirectNotify {
		panicOpts = append(panicOpts, panictrigger.WithDirectNotify(sender))
		dispatcherOpts = append(dispatcherOpts, dispatcher.WithPanicHandledUpstream())
	}
	panicSvc, err := panictrigger.New(alerts, st.subjects, panicOpts...)
	if err != nil {
		return err
	}
	dispatch, err := dispatcher.New(st.subjects, sender, dispatcherOpts...)
	if err != nil {
		return err
	}
	eval, err := evaluator.New(st.subjects, st.geofences, st.memberships, alerts,
		evaluator.WithLogger(log),
		evaluator.WithMetrics(geofencemetrics.NewWith(reg)),
		evaluator.WithMaxCASAttempts(cfg.Pipeline.MaxCASAttempts),
	)
	if err != nil {
		return err
	}
	changestream.Subscribe(stream, topics, eval.HandleInsertedLocations, dispatch.HandleInsertedAlerts, log, platformMetrics)

	jwt := jwttoken.NewJWTService(cfg.Server.JWTSigningKey, cfg.Server.JWTIssuer)
	router := httptransport.NewRouter(httptransport.RouterConfig{
		Logger:    log,
		Metrics:   platformMetrics,
		Gatherer:  reg,
		Validator: jwttoken.NewJWTServiceAdapter(jwt),
		Locations: httptransport.NewLocationHandler(locationSvc, locationmodels.ThrottlePolicy{
			MinInterval:           cfg.Ingest.MinInterval,
			MinDisplacementMeters: cfg.Ingest.MinDisplacementMeters,
		}, log),
		Panics: httptransport.NewPanicHandler(panicSvc, log),
		Health: healthChecks(db, rc),
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting kinwatch", "addr", cfg.Server.Addr)
		return httpserver.Run(ctx, httpserver.New(cfg.Server.Addr, router), cfg.Server.ShutdownTimeout)
	})
	g.Go(func() error {
		return stream.Run(ctx)
	})
	return g.Wait()
}

func buildStores(db *sql.DB, rc *kwredis.Client) (stores, error) {
	var st stores
	if db != nil {
		st.subjects = familystore.NewPostgres(db)
		st.geofences = geofencestore.NewPostgres(db)
		st.memberships = membership.NewPostgres(db)
		st.locations = locationstore.NewPostgres(db)
		st.alerts = alertstore.NewPostgres(db)
	} else {
		st.subjects = familystore.NewInMemory()
		st.geofences = geofencestore.NewInMemory()
		st.memberships = membership.NewInMemory()
		st.locations = locationstore.NewInMemory()
		st.alerts = alertstore.NewInMemory()
	}

	st.ledger = dispatcher.NewMemoryLedger()
	if rc != nil {
		st.memberships = membership.NewRedis(rc.Client)
		ledger, err := dispatcher.NewRedisLedger(rc.Client, 0)
		if err != nil {
			return stores{}, err
		}
		st.ledger = ledger
	}
	return st, nil
}

// buildStream returns the Kafka consumer and producer when brokers are
// configured, otherwise the in-process stream.
func buildStream(ctx context.Context, cfg config.Config, log *slog.Logger, m *metrics.Metrics) (changestream.Consumer, changestream.Publisher, func(), error) {
	client, err := kafka.NewClient(cfg.Kafka, kgo.WithLogger(kgoLogger{log}))
	if err != nil {
		return nil, nil, nil, err
	}
	if client == nil {
		mem := changestream.NewMemory(
			changestream.WithMemoryBatchSize(cfg.Pipeline.BatchSize),
			changestream.WithMemoryLogger(log),
			changestream.WithMemoryMetrics(m),
		)
		return mem, mem, func() {}, nil
	}

	if err := kafka.EnsureTopics(ctx, client, 3, 1, cfg.Kafka.LocationTopic, cfg.Kafka.AlertTopic); err != nil {
		client.Close()
		return nil, nil, nil, err
	}
	c, err := consumer.New(client,
		consumer.WithLogger(log),
		consumer.WithMetrics(m),
		consumer.WithBatchSize(cfg.Pipeline.BatchSize),
	)
	if err != nil {
		client.Close()
		return nil, nil, nil, err
	}
	return c, kafka.NewProducer(client), client.Close, nil
}

func buildSender(cfg config.SMSConfig, log *slog.Logger) (notify.Sender, error) {
	if cfg.GatewayURL == "" {
		log.Warn("no SMS gateway configured, notifications are logged only")
		return notify.NewLogSender(log), nil
	}
	return notify.NewGateway(cfg, notify.WithGatewayLogger(log))
}

func healthChecks(db *sql.DB, rc *kwredis.Client) map[string]httptransport.HealthCheck {
	checks := map[string]httptransport.HealthCheck{}
	if db != nil {
		checks["postgres"] = func(r *http.Request) error { return db.PingContext(r.Context()) }
	}
	if rc != nil {
		checks["redis"] = func(r *http.Request) error { return rc.Health(r.Context()) }
	}
	return checks
}

// kgoLogger routes franz-go client logs into slog.
type kgoLogger struct {
	log *slog.Logger
}

func (l kgoLogger) Level() kgo.LogLevel { return kgo.LogLevelInfo }

func (l kgoLogger) Log(level kgo.LogLevel, msg string, keyvals ...any) {
	switch level {
	case kgo.LogLevelError:
		l.log.Error(msg, keyvals...)
	case kgo.LogLevelWarn:
		l.log.Warn(msg, keyvals...)
	case kgo.LogLevelInfo:
		l.log.Info(msg, keyvals...)
	default:
		l.log.Debug(msg, keyvals...)
	}
}

var (
	_ changestream.Consumer = (*consumer.Consumer)(nil)
	_ changestream.Consumer = (*changestream.Memory)(nil)
)
