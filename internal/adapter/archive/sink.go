// Package archive keeps a Parquet copy of every decoded artifact on local
// disk before the records reach the database.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/couchcryptid/gfs-ingest-service/internal/domain"
	"github.com/couchcryptid/gfs-ingest-service/internal/observability"
	"github.com/hashicorp/go-multierror"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

// RecordSink is the downstream the archive hands records to.
type RecordSink interface {
	AppendRecords(ctx context.Context, records []domain.Record) error
}

type parquetRow struct {
	RunTime      int64   `parquet:"name=run_time,type=INT64,convertedtype=TIMESTAMP_MILLIS"`
	ForecastTime int64   `parquet:"name=forecast_time,type=INT64,convertedtype=TIMESTAMP_MILLIS"`
	Lat          float64 `parquet:"name=lat,type=DOUBLE"`
	Lon          float64 `parquet:"name=lon,type=DOUBLE"`
	Field        string  `parquet:"name=field,type=BYTE_ARRAY,convertedtype=UTF8,encoding=PLAIN_DICTIONARY"`
	Value        float64 `parquet:"name=value,type=DOUBLE"`
}

// Sink writes DIR/run=YYYYMMDDHH/fFFF.parquet for each job's records and then
// forwards them to next. Archive failures are logged and counted; they never
// stop the records from being stored.
type Sink struct {
	next    RecordSink
	dir     string
	codec   parquet.CompressionCodec
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewSink creates an archiving decorator around next. compression is SNAPPY,
// GZIP or NONE.
func NewSink(next RecordSink, dir, compression string, metrics *observability.Metrics, logger *slog.Logger) (*Sink, error) {
	codec, err := compressionCodec(compression)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	return &Sink{next: next, dir: dir, codec: codec, metrics: metrics, logger: logger}, nil
}

func compressionCodec(name string) (parquet.CompressionCodec, error) {
	switch name {
	case "", "SNAPPY":
		return parquet.CompressionCodec_SNAPPY, nil
	case "GZIP":
		return parquet.CompressionCodec_GZIP, nil
	case "NONE":
		return parquet.CompressionCodec_UNCOMPRESSED, nil
	default:
		return 0, fmt.Errorf("unsupported archive compression %q", name)
	}
}

// AppendRecords implements scheduler.RecordSink.
func (s *Sink) AppendRecords(ctx context.Context, records []domain.Record) error {
	if err := s.archive(records); err != nil {
		s.metrics.ArchiveErrors.Inc()
		s.logger.Warn("archive write failed", "records", len(records), "error", err)
	}
	return s.next.AppendRecords(ctx, records)
}

type fileKey struct {
	run    int64
	offset int
}

func (s *Sink) archive(records []domain.Record) error {
	groups := make(map[fileKey][]parquetRow)
	var order []fileKey
	var errs *multierror.Error

	for _, r := range records {
		offset, ok := domain.OffsetOf(r.RunTime, r.ForecastTime)
		if !ok {
			errs = multierror.Append(errs, fmt.Errorf("record forecast time %s precedes run %s", r.ForecastTime, domain.FormatRun(r.RunTime)))
			continue
		}
		k := fileKey{run: r.RunTime.Unix(), offset: offset}
		if _, seen := groups[k]; !seen {
			order = append(order, k)
		}
		groups[k] = append(groups[k], parquetRow{
			RunTime:      r.RunTime.UnixMilli(),
			ForecastTime: r.ForecastTime.UnixMilli(),
			Lat:          r.Lat,
			Lon:          r.Lon,
			Field:        r.Field,
			Value:        r.Value,
		})
	}

	for _, k := range order {
		if err := s.writeFile(k, groups[k]); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

func (s *Sink) writeFile(k fileKey, rows []parquetRow) (err error) {
	run := time.Unix(k.run, 0).UTC()
	dir := filepath.Join(s.dir, "run="+domain.FormatRun(run))
	path := filepath.Join(dir, fmt.Sprintf("f%03d.parquet", k.offset))

	buf := new(bytes.Buffer)
	pw, err := writer.NewParquetWriterFromWriter(buf, new(parquetRow), 4)
	if err != nil {
		return fmt.Errorf("%s: create writer: %w", path, err)
	}
	pw.CompressionType = s.codec
	for _, row := range rows {
		if err := pw.Write(row); err != nil {
			return fmt.Errorf("%s: write row: %w", path, err)
		}
	}
	// WriteStop panics on some malformed schemas.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: finalize: %v", path, r)
		}
	}()
	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("%s: finalize: %w", path, err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}
