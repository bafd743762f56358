// Package store persists decoded forecast records in a relational database
// through gorm. SQLite, MySQL and PostgreSQL are supported; the schema is
// owned by the embedded golang-migrate migrations, not by gorm.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/gfs-ingest-service/internal/domain"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// insertBatchSize bounds the rows sent per INSERT statement.
const insertBatchSize = 1000

// ForecastRow is one row of the gfs_forecast table.
type ForecastRow struct {
	ID           uint64    `gorm:"primaryKey"`
	RunTime      time.Time `gorm:"not null"`
	ForecastTime time.Time `gorm:"not null"`
	Lat          float64   `gorm:"not null"`
	Lon          float64   `gorm:"not null"`
	Field        string    `gorm:"not null"`
	Value        float64   `gorm:"not null"`
	CreatedAt    time.Time
}

// TableName implements gorm's tabler.
func (ForecastRow) TableName() string { return "gfs_forecast" }

// Store implements the scheduler's storage collaborators: it appends
// records, reports stored forecast times and runs, and deletes old runs.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Open connects to the database. driver is one of sqlite, mysql or postgres.
func Open(driver, dsn string, logger *slog.Logger) (*Store, error) {
	dialector, err := dialectorFor(driver, dsn)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.New(slog.NewLogLogger(logger.Handler(), slog.LevelWarn), gormlogger.Config{
			SlowThreshold:             2 * time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}

	if driver == "sqlite" {
		// SQLite allows a single writer; serialize through one connection
		// instead of surfacing SQLITE_BUSY to workers.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("sqlite handle: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	return New(db, logger), nil
}

// New wraps an existing gorm handle.
func New(db *gorm.DB, logger *slog.Logger) *Store {
	return &Store{db: db, logger: logger}
}

func dialectorFor(driver, dsn string) (gorm.Dialector, error) {
	switch driver {
	case "sqlite":
		return sqlite.Open(dsn), nil
	case "mysql":
		return mysql.Open(dsn), nil
	case "postgres":
		return postgres.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// AppendRecords inserts records in batches. Rows already present under the
// unique point key are skipped, so re-appending a job's records is a no-op.
func (s *Store) AppendRecords(ctx context.Context, records []domain.Record) error {
	if len(records) == 0 {
		return nil
	}
	rows := make([]ForecastRow, len(records))
	for i, r := range records {
		rows[i] = ForecastRow{
			RunTime:      r.RunTime.UTC(),
			ForecastTime: r.ForecastTime.UTC(),
			Lat:          r.Lat,
			Lon:          r.Lon,
			Field:        r.Field,
			Value:        r.Value,
		}
	}

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(rows, insertBatchSize).Error
	if err != nil {
		return &domain.StorageError{Op: "append records", Err: err}
	}
	return nil
}

// ForecastTimes returns the distinct forecast_time values stored for run, as
// the driver hands them back.
func (s *Store) ForecastTimes(ctx context.Context, run time.Time) ([]any, error) {
	rows, err := s.db.WithContext(ctx).
		Model(&ForecastRow{}).
		Distinct("forecast_time").
		Where("run_time = ?", run.UTC()).
		Rows()
	if err != nil {
		return nil, &domain.StorageError{Op: "query forecast times", Err: err}
	}
	defer rows.Close()

	var out []any
	for rows.Next() {
		var v any
		if err := rows.Scan(&v); err != nil {
			return nil, &domain.StorageError{Op: "scan forecast time", Err: err}
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StorageError{Op: "query forecast times", Err: err}
	}
	return out, nil
}

// ListRuns returns every distinct run_time in storage. Values that cannot be
// interpreted as timestamps are skipped.
func (s *Store) ListRuns(ctx context.Context) ([]time.Time, error) {
	rows, err := s.db.WithContext(ctx).
		Model(&ForecastRow{}).
		Distinct("run_time").
		Rows()
	if err != nil {
		return nil, &domain.StorageError{Op: "list runs", Err: err}
	}
	defer rows.Close()

	var out []time.Time
	for rows.Next() {
		var v any
		if err := rows.Scan(&v); err != nil {
			return nil, &domain.StorageError{Op: "scan run time", Err: err}
		}
		t, ok := domain.ParseTimestamp(v)
		if !ok {
			s.logger.Debug("skipping unparseable run_time", "value", v)
			continue
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StorageError{Op: "list runs", Err: err}
	}
	return out, nil
}

// DeleteRunsBefore deletes every row whose run_time is strictly before cutoff.
func (s *Store) DeleteRunsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("run_time < ?", cutoff.UTC()).
		Delete(&ForecastRow{})
	if res.Error != nil {
		return 0, &domain.StorageError{Op: "delete runs", Err: res.Error}
	}
	return res.RowsAffected, nil
}

// CheckReadiness pings the database.
func (s *Store) CheckReadiness(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
