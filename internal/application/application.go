// Package application assembles the EN client, backup target and record
// store from configuration. Both entry points build on it, so a setting
// means the same thing to the CLI and to the HTTP server.
package application

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/enexport/internal/backup"
	"github.com/JonMunkholm/enexport/internal/config"
	"github.com/JonMunkholm/enexport/internal/core"
	"github.com/JonMunkholm/enexport/internal/enapi"
	"github.com/JonMunkholm/enexport/internal/store"
)

// NewClient creates the EN client described by cfg.
func NewClient(cfg *config.Config) (*enapi.Client, error) {
	loc, err := time.LoadLocation(cfg.ENAPI.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("load EN time zone: %w", err)
	}

	var httpClient *http.Client
	if cfg.ENAPI.RequestTimeout > 0 {
		httpClient = &http.Client{Timeout: cfg.ENAPI.RequestTimeout}
	}

	return enapi.New(enapi.Config{
		PrivateToken: cfg.ENAPI.PrivateToken,
		PublicToken:  cfg.ENAPI.PublicToken,
		BaseURL:      cfg.ENAPI.BaseURL,
		Location:     loc,
		MaxLookback:  cfg.ENAPI.MaxLookback(),
		HTTPClient:   httpClient,
		ChunkSize:    cfg.Download.ChunkSize,
		RecordQueue:  cfg.Download.RecordQueue,
		BackupQueue:  cfg.Download.BackupQueue,
	}), nil
}

// DownloadOptions returns the per-download defaults from cfg: delimiter,
// charset and backup target. An S3 bucket takes precedence over a
// directory.
func DownloadOptions(ctx context.Context, cfg *config.Config) (enapi.Options, error) {
	var opts enapi.Options

	delim, err := cfg.ENAPI.Delimiter()
	if err != nil {
		return opts, err
	}
	enc, err := core.LookupEncoding(cfg.ENAPI.Charset)
	if err != nil {
		return opts, err
	}
	opts.Delimiter = delim
	opts.Encoding = enc
	opts.BackupFileName = cfg.Backup.FileName

	switch {
	case cfg.Backup.S3Bucket != "":
		newBackup, err := S3Backup(ctx, backup.S3Config{
			Bucket:       cfg.Backup.S3Bucket,
			Prefix:       cfg.Backup.S3Prefix,
			Region:       cfg.Backup.S3Region,
			Endpoint:     cfg.Backup.S3Endpoint,
			UsePathStyle: cfg.Backup.S3PathStyle,
		})
		if err != nil {
			return opts, err
		}
		opts.NewBackup = newBackup
	case cfg.Backup.Dir != "":
		opts.BackupDir = cfg.Backup.Dir
	}
	return opts, nil
}

// S3Backup connects to S3 and returns a factory storing backups there.
func S3Backup(ctx context.Context, s3cfg backup.S3Config) (backup.Factory, error) {
	client, err := backup.NewS3Client(ctx, s3cfg)
	if err != nil {
		return nil, fmt.Errorf("S3 backup: %w", err)
	}
	slog.Info("backups go to S3", "bucket", s3cfg.Bucket, "prefix", s3cfg.Prefix)
	return backup.S3Factory(client, s3cfg), nil
}

// OpenStore connects to Postgres, creates the tables if needed and returns
// the store with a function that closes the pool.
func OpenStore(ctx context.Context, cfg *config.DatabaseConfig) (*store.Store, func(), error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping database: %w", err)
	}

	st := store.New(pool, cfg.CopyBatchSize)
	if err := st.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	slog.Info("connected to database", "database", poolConfig.ConnConfig.Database)
	return st, pool.Close, nil
}
