// Package mysql MySQL 持久化：定义、运行、执行记录、调度工作项、去重键
package mysql

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	driver "github.com/go-sql-driver/mysql"
)

// Config 连接池配置
type Config struct {
	DSN             string        `json:"dsn" yaml:"dsn"`
	MaxOpenConns    int           `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime"`
}

// Store 共享连接池，各仓储基于同一个 *sql.DB
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open 连接数据库并初始化表结构
// DSN 会被强制设置 parseTime=true 与 UTC 时区
func Open(ctx context.Context, config Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := driver.ParseDSN(config.DSN)
	if err != nil {
		return nil, WrapMySQLError(err, "parse dsn")
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC

	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, WrapMySQLError(err, "open mysql")
	}
	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, WrapMySQLError(err, "ping mysql %s", cfg.Addr)
	}

	store := &Store{db: db, logger: logger.With("component", "mysql-store")}
	if err := store.initTables(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// DB 底层连接池
func (s *Store) DB() *sql.DB { return s.db }

// Close 关闭连接池
func (s *Store) Close() error {
	return s.db.Close()
}

// initTables 初始化数据库表
func (s *Store) initTables(ctx context.Context) error {
	queries := []string{
		// 工作流定义，按 (id, version) 存储
		`CREATE TABLE IF NOT EXISTS workflow_definitions (
			workflow_id VARCHAR(255) NOT NULL,
			version INT NOT NULL,
			name VARCHAR(255) NOT NULL,
			definition JSON NOT NULL,
			published_at DATETIME(6) NULL,
			created_at DATETIME(6) NOT NULL,
			PRIMARY KEY (workflow_id, version)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

		// 运行，version 列用于乐观锁
		`CREATE TABLE IF NOT EXISTS workflow_runs (
			run_id VARCHAR(255) PRIMARY KEY,
			workflow_id VARCHAR(255) NOT NULL,
			workflow_version INT NOT NULL,
			status VARCHAR(32) NOT NULL,
			data JSON NOT NULL,
			version BIGINT NOT NULL DEFAULT 0,
			created_at DATETIME(6) NOT NULL,
			updated_at DATETIME(6) NOT NULL,
			INDEX idx_status_created (status, created_at),
			INDEX idx_workflow_created (workflow_id, created_at),
			INDEX idx_created_at (created_at)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

		// 节点执行记录，只追加
		`CREATE TABLE IF NOT EXISTS node_execution_records (
			run_id VARCHAR(255) NOT NULL,
			node_id VARCHAR(255) NOT NULL,
			attempt INT NOT NULL,
			workflow_id VARCHAR(255) NOT NULL,
			status VARCHAR(32) NOT NULL,
			data JSON NOT NULL,
			started_at DATETIME(6) NOT NULL,
			finished_at DATETIME(6) NOT NULL,
			PRIMARY KEY (run_id, node_id, attempt),
			INDEX idx_finished_at (finished_at)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

		// 调度工作项
		`CREATE TABLE IF NOT EXISTS scheduled_work (
			item_id VARCHAR(512) PRIMARY KEY,
			run_id VARCHAR(255) NOT NULL,
			node_id VARCHAR(255) NOT NULL,
			attempt INT NOT NULL,
			reason VARCHAR(32) NOT NULL,
			ready_at DATETIME(6) NOT NULL,
			enqueued_at DATETIME(6) NOT NULL,
			claim_id VARCHAR(64) NULL,
			claim_owner VARCHAR(255) NULL,
			claim_expires_at DATETIME(6) NULL,
			INDEX idx_ready (claim_id, ready_at),
			INDEX idx_claim_expires (claim_expires_at)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

		// 日期触发去重键
		`CREATE TABLE IF NOT EXISTS trigger_dedupe (
			dedupe_key VARCHAR(512) PRIMARY KEY,
			reserved_at DATETIME(6) NOT NULL
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	}

	for _, query := range queries {
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return WrapMySQLError(err, "init tables")
		}
	}
	return nil
}
