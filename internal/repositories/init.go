package repositories

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"gatekeeper-server/configs"
	"gatekeeper-server/internal/loggers"
	"gatekeeper-server/internal/models"
	"gatekeeper-server/internal/store"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Dbs struct {
	Redis    *redis.Client
	Postgres *gorm.DB
}

var DBS Dbs

// KV is the shared key-value store all challenge and counter state goes
// through. Redis-backed in production so every replica sees the same state.
var KV store.Store

func Init() {
	initRedis()
	initPostgres()
}

// initRedis initializes the Redis connection
func initRedis() {
	opt := &redis.Options{
		Addr:     configs.Configs.Redis.Addresses[0],
		Username: configs.Configs.Redis.Username,
		Password: configs.Configs.Redis.Password, // if Redis requires authentication
		DB:       configs.Configs.Redis.Database, // use default DB
	}

	if configs.Configs.Redis.Tls {
		opt.TLSConfig = &tls.Config{}
	}

	DBS.Redis = redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result, err := DBS.Redis.Ping(ctx).Result()
	if err != nil {
		configs.Logger.Fatal("Failed to connect to Redis", zap.Error(err))
		return
	}

	KV = store.NewRedisStore(DBS.Redis)

	configs.Logger.Info("Redis connected successfully", zap.String("result", result))
}

// initPostgres initializes the PostgreSQL connection
func initPostgres() {
	host, port, err := net.SplitHostPort(configs.Configs.Postgres.Address)
	if err != nil {
		configs.Logger.Fatal("Invalid Postgres address", zap.Error(err))
		return
	}

	dsn := fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s",
		host,
		configs.Configs.Postgres.Username,
		configs.Configs.Postgres.Password,
		configs.Configs.Postgres.Database,
		port,
	)

	var logLevel logger.LogLevel
	if configs.Configs.Logs.LogLevel == "DEBUG" {
		logLevel = logger.LogLevel(4)
	} else if configs.Configs.Logs.LogLevel == "INFO" {
		logLevel = logger.LogLevel(4)
	} else if configs.Configs.Logs.LogLevel == "WARN" {
		logLevel = logger.LogLevel(3)
	} else if configs.Configs.Logs.LogLevel == "ERROR" {
		logLevel = logger.LogLevel(2)
	} else {
		logLevel = logger.LogLevel(1)
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: loggers.NewZapGormLogger(logLevel, 200*time.Millisecond, false),
	})
	if err != nil {
		configs.Logger.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
		return
	}

	err = autoMigrateInOrder(db)
	if err != nil {
		panic("Failed to migrate database")
	}

	DBS.Postgres = db
	configs.Logger.Info("PostgreSQL connected successfully")
}

func autoMigrateInOrder(db *gorm.DB) error {
	modelsInOrder := []interface{}{
		&models.ChallengeRecord{},
		&models.ValidationAttempt{},
		&models.RateLimitEvent{},
	}

	for _, model := range modelsInOrder {
		if err := db.AutoMigrate(model); err != nil {
			return err
		}
	}
	return nil
}
