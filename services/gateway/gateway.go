package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/relabs-tech/schemagate/core"
	"github.com/relabs-tech/schemagate/core/csql"
	"github.com/relabs-tech/schemagate/core/gateway"
	"github.com/relabs-tech/schemagate/core/hooks"
	"github.com/relabs-tech/schemagate/core/logger"
	"github.com/relabs-tech/schemagate/core/metadata"
	"github.com/relabs-tech/schemagate/core/notify"
	"github.com/relabs-tech/schemagate/core/registry"
	"github.com/relabs-tech/schemagate/core/store"
)

// Service holds the configuration for this service
//
// use POSTGRES="host=localhost port=5432 user=postgres dbname=postgres sslmode=disable"
// and POSTGRES_PASSWORD="docker"
type Service struct {
	Postgres           string        `env:"POSTGRES" description:"the connection string for the Postgres DB without password"`
	PostgresPassword   string        `env:"POSTGRES_PASSWORD" description:"password to the Postgres DB"`
	PostgresSchema     string        `env:"POSTGRES_SCHEMA,default=schemagate" description:"the database schema for metadata and records"`
	Port               int           `env:"PORT,default=3000" description:"the port to listen on"`
	LogLevel           string        `env:"LOG_LEVEL,default=info" description:"the log level, one of trace, debug, info, warn, error"`
	RedisAddr          string        `env:"REDIS_ADDR" description:"address of a redis server caching metadata, no cache if empty"`
	MetadataCacheTTL   time.Duration `env:"METADATA_CACHE_TTL,default=1m" description:"how long metadata stays cached"`
	KafkaBrokers       string        `env:"KAFKA_BROKERS" description:"comma separated kafka brokers for change notifications, none if empty"`
	KafkaTopic         string        `env:"KAFKA_TOPIC,default=record_changes" description:"the topic for change notifications"`
	HookTimeout        time.Duration `env:"HOOK_TIMEOUT,default=2s" description:"maximum execution time of business logic"`
	RequestTimeout     time.Duration `env:"REQUEST_TIMEOUT,default=30s" description:"maximum time to handle a request"`
	LegacyCreateStatus bool          `env:"LEGACY_CREATE_STATUS,default=false" description:"return 200 instead of 201 on creation"`
	MemoryStore        bool          `env:"MEMORY_STORE,default=false" description:"keep everything in memory instead of Postgres"`
	SeedFile           string        `env:"SEED_FILE" description:"a YAML seed file applied at startup"`
}

func main() {
	// a missing .env file is fine, the environment is used as is
	_ = godotenv.Load()

	service := &Service{}
	if err := envdecode.Decode(service); err != nil {
		panic(err)
	}
	logger.InitLogger(logger.ParseLevel(service.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, service); err != nil {
		logger.Default().WithError(err).Fatalln("gateway stopped")
	}
}

func run(ctx context.Context, service *Service) error {
	rlog := logger.Default()

	var s store.Store
	if service.MemoryStore {
		rlog.Infoln("using in-memory store")
		s = store.NewMemory()
	} else {
		if service.Postgres == "" {
			return errors.New("POSTGRES is required unless MEMORY_STORE is set")
		}
		db, err := csql.Open(service.Postgres, service.PostgresPassword, service.PostgresSchema)
		if err != nil {
			return err
		}
		defer db.Close()
		s = store.NewPostgres(db)
	}
	reg := registry.New(s)

	if service.SeedFile != "" {
		file, err := metadata.ReadSeedFile(service.SeedFile)
		if err != nil {
			return err
		}
		if err := metadata.Seed(ctx, reg, file); err != nil {
			return err
		}
	}

	var reader metadata.Reader = metadata.NewRepository(reg)
	if service.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: service.RedisAddr})
		defer client.Close()
		if service.SeedFile != "" {
			if err := metadata.Invalidate(ctx, client); err != nil {
				rlog.WithError(err).Warnln("cannot invalidate metadata cache")
			}
		}
		rlog.Infoln("caching metadata in redis at", service.RedisAddr)
		reader = metadata.NewCached(reader, client, service.MetadataCacheTTL)
	}

	var notifier core.Notifier
	if service.KafkaBrokers != "" {
		kafka := notify.NewKafka(strings.Split(service.KafkaBrokers, ","), service.KafkaTopic)
		defer kafka.Close()
		notifier = kafka
	}

	router := mux.NewRouter()
	gateway.New(&gateway.Builder{
		Store:              s,
		Router:             router,
		Registry:           reg,
		Metadata:           reader,
		Hooks:              hooks.New(hooks.Config{Timeout: service.HookTimeout}),
		Notifier:           notifier,
		RequestTimeout:     service.RequestTimeout,
		LegacyCreateStatus: service.LegacyCreateStatus,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", service.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errs := make(chan error, 1)
	go func() {
		rlog.Infoln("listen on port", srv.Addr)
		errs <- srv.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}
	rlog.Infoln("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
