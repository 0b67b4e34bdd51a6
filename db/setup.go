package db

import (
	"context"
	"fmt"
	"time"

	"github.com/alexlim7/madate-vault-sub000/utils"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/dbresolver"
)

type Options struct {
	PrimaryDSN   string
	ReplicaDSNs  []string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
	MaxIdleTime  time.Duration
	LogLevel     logger.LogLevel
}

type DB struct {
	*gorm.DB
	replicas int
}

// gormWriter routes gorm's own logging through zap.
type gormWriter struct {
	log *utils.Logger
}

func (w gormWriter) Printf(format string, args ...interface{}) {
	w.log.Zap().Sugar().Infof(format, args...)
}

func gormConfig(level logger.LogLevel) *gorm.Config {
	if level == 0 {
		level = logger.Warn
	}
	return &gorm.Config{
		Logger: logger.New(gormWriter{log: utils.NewLogger("gorm")}, logger.Config{
			SlowThreshold:             500 * time.Millisecond,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
		}),
	}
}

// Open connects to the primary and registers read replicas with dbresolver.
// Writes and anything inside a transaction stay on the primary.
func Open(opts Options) (*DB, error) {
	return open(postgres.Open(opts.PrimaryDSN), opts)
}

func open(dialector gorm.Dialector, opts Options) (*DB, error) {
	log := utils.NewLogger("db")

	conn, err := gorm.Open(dialector, gormConfig(opts.LogLevel))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to primary database: %w", err)
	}

	if len(opts.ReplicaDSNs) > 0 {
		resolverConfig := dbresolver.Config{Policy: dbresolver.RandomPolicy{}}
		for _, dsn := range opts.ReplicaDSNs {
			resolverConfig.Replicas = append(resolverConfig.Replicas, postgres.Open(dsn))
		}

		err = conn.Use(dbresolver.Register(resolverConfig).
			SetConnMaxIdleTime(opts.MaxIdleTime).
			SetConnMaxLifetime(opts.MaxLifetime).
			SetMaxIdleConns(opts.MaxIdleConns).
			SetMaxOpenConns(opts.MaxOpenConns))
		if err != nil {
			return nil, fmt.Errorf("failed to configure read replicas: %w", err)
		}

		log.Info(context.Background(), "Configured read replicas", map[string]interface{}{"replicas": len(opts.ReplicaDSNs)})
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	}
	sqlDB.SetConnMaxLifetime(opts.MaxLifetime)
	sqlDB.SetConnMaxIdleTime(opts.MaxIdleTime)

	return &DB{DB: conn, replicas: len(opts.ReplicaDSNs)}, nil
}

// Ping checks the primary. It backs the database health check.
func (db *DB) Ping(ctx context.Context) error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return sqlDB.PingContext(ctx)
}

func (db *DB) Replicas() int {
	return db.replicas
}

func (db *DB) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}
	return sqlDB.Close()
}
