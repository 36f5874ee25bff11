// Package database mirrors aggregated feature segments into ClickHouse.
package database

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// DefaultTable receives one row per feature point
const DefaultTable = "feature_points"

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Config holds ClickHouse connection settings
type Config struct {
	Addr     string
	Database string
	Username string
	Password string
	Table    string
}

// FeaturePoint is one row of the feature table
type FeaturePoint struct {
	Timestamp   time.Time
	DeviceID    string
	AudioFileID string
	Feature     string
	Value       float64
	Meta        string // JSON
}

type ClickHouseDB struct {
	conn   driver.Conn
	table  string
	logger *slog.Logger
}

// ValidateTableName rejects identifiers that cannot be interpolated into DDL safely
func ValidateTableName(name string) error {
	if !tableName.MatchString(name) {
		return fmt.Errorf("invalid ClickHouse table name %q", name)
	}
	return nil
}

// SchemaSQL returns the CREATE TABLE statement for the feature table
func SchemaSQL(table string) string {
	return fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			timestamp DateTime64(3, 'UTC'),
			device_id LowCardinality(String),
			audio_file_id String,
			feature LowCardinality(String),
			value Float64,
			meta String
		) ENGINE = MergeTree()
		ORDER BY (device_id, feature, timestamp)
	`, table)
}

// NewClickHouseDB creates a new ClickHouse database connection and ensures the schema
func NewClickHouseDB(ctx context.Context, config Config, logger *slog.Logger) (*ClickHouseDB, error) {
	if config.Table == "" {
		config.Table = DefaultTable
	}
	if err := ValidateTableName(config.Table); err != nil {
		return nil, err
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{config.Addr},
		Auth: clickhouse.Auth{
			Database: config.Database,
			Username: config.Username,
			Password: config.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: 5 * time.Second,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	logger.Info("Connected to ClickHouse",
		slog.String("addr", config.Addr),
		slog.String("database", config.Database),
	)

	db := &ClickHouseDB{conn: conn, table: config.Table, logger: logger}

	if err := db.InitSchema(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// InitSchema creates the feature table if it doesn't exist
func (db *ClickHouseDB) InitSchema(ctx context.Context) error {
	if err := db.conn.Exec(ctx, SchemaSQL(db.table)); err != nil {
		return fmt.Errorf("failed to create table %s: %w", db.table, err)
	}

	db.logger.Debug("ClickHouse schema initialized", slog.String("table", db.table))
	return nil
}

// InsertFeaturePoints writes points in one batch
func (db *ClickHouseDB) InsertFeaturePoints(ctx context.Context, points []FeaturePoint) error {
	if len(points) == 0 {
		return nil
	}

	batch, err := db.conn.PrepareBatch(ctx, "INSERT INTO "+db.table)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	for _, p := range points {
		if err := batch.Append(p.Timestamp, p.DeviceID, p.AudioFileID, p.Feature, p.Value, p.Meta); err != nil {
			batch.Abort()
			return fmt.Errorf("failed to append feature point: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to insert %d feature points: %w", len(points), err)
	}

	return nil
}

// Close closes the ClickHouse connection
func (db *ClickHouseDB) Close() error {
	if db.conn != nil {
		if err := db.conn.Close(); err != nil {
			return fmt.Errorf("failed to close ClickHouse connection: %w", err)
		}
		db.logger.Info("ClickHouse connection closed")
	}
	return nil
}
