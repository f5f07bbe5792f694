// seed writes projects, modules, resources and business logic from a YAML file
// to the gateway's Postgres database.
//
// Usage:
//
//	seed -file shop.yaml
package main

import (
	"context"
	"flag"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/relabs-tech/schemagate/core/csql"
	"github.com/relabs-tech/schemagate/core/logger"
	"github.com/relabs-tech/schemagate/core/metadata"
	"github.com/relabs-tech/schemagate/core/registry"
	"github.com/relabs-tech/schemagate/core/store"
)

var seedFile = flag.String("file", "seed.yaml", "the YAML seed file")

// Service holds the configuration for the seed tool
type Service struct {
	Postgres         string `env:"POSTGRES,required" description:"the connection string for the Postgres DB without password"`
	PostgresPassword string `env:"POSTGRES_PASSWORD" description:"password to the Postgres DB"`
	PostgresSchema   string `env:"POSTGRES_SCHEMA,default=schemagate" description:"the database schema for metadata and records"`
	RedisAddr        string `env:"REDIS_ADDR" description:"address of the metadata cache, invalidated after seeding"`
	LogLevel         string `env:"LOG_LEVEL,default=info" description:"the log level"`
}

func main() {
	flag.Parse()
	_ = godotenv.Load()

	service := &Service{}
	if err := envdecode.Decode(service); err != nil {
		panic(err)
	}
	logger.InitLogger(logger.ParseLevel(service.LogLevel))
	rlog := logger.Default()

	file, err := metadata.ReadSeedFile(*seedFile)
	if err != nil {
		rlog.WithError(err).Fatalln("cannot read seed file")
	}

	db, err := csql.Open(service.Postgres, service.PostgresPassword, service.PostgresSchema)
	if err != nil {
		rlog.WithError(err).Fatalln("cannot open database")
	}
	defer db.Close()

	ctx := context.Background()
	if err := metadata.Seed(ctx, registry.New(store.NewPostgres(db)), file); err != nil {
		rlog.WithError(err).Fatalln("cannot seed")
	}

	if service.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: service.RedisAddr})
		defer client.Close()
		if err := metadata.Invalidate(ctx, client); err != nil {
			rlog.WithError(err).Errorln("cannot invalidate metadata cache")
		}
	}
	rlog.Infof("seeded %d projects from %s", len(file.Projects), *seedFile)
}
