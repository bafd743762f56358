// Package wgrib2 decodes GRIB2 artifacts by shelling out to NOAA's wgrib2
// utility and parsing its -csv output.
package wgrib2

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"

	"github.com/couchcryptid/gfs-ingest-service/internal/domain"
)

// runFunc executes the decoder binary and returns its stdout.
type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

// Decoder implements scheduler.Decoder.
type Decoder struct {
	path    string
	profile *domain.Profile
	tmpDir  string
	run     runFunc
	logger  *slog.Logger
}

// NewDecoder creates a Decoder that runs the wgrib2 binary at path. A nil
// profile uses domain.DefaultProfile.
func NewDecoder(path string, profile *domain.Profile, logger *slog.Logger) *Decoder {
	if profile == nil {
		profile = domain.DefaultProfile()
	}
	return &Decoder{
		path:    path,
		profile: profile,
		run:     execRun,
		logger:  logger,
	}
}

// Decode writes the artifact to a temporary file, converts it to CSV and maps
// every in-region value through the profile. An artifact that yields no
// records is a *domain.DecodeError.
func (d *Decoder) Decode(ctx context.Context, a domain.Artifact, region domain.Region) ([]domain.Record, error) {
	f, err := os.CreateTemp(d.tmpDir, "gfs-*.grb2")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(f.Name())

	if _, err := f.Write(a.Data); err != nil {
		f.Close()
		return nil, fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close temp file: %w", err)
	}

	out, err := d.run(ctx, d.path, f.Name(), "-csv", "-")
	if err != nil {
		return nil, &domain.DecodeError{Job: a.Job, Err: err}
	}

	records, err := ParseCSV(bytes.NewReader(out), a.Job, region, d.profile)
	if err != nil {
		return nil, &domain.DecodeError{Job: a.Job, Err: err}
	}
	d.logger.Debug("artifact decoded", "job", a.Job.String(), "bytes", len(a.Data), "records", len(records))
	return records, nil
}

func execRun(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := bytes.TrimSpace(stderr.Bytes()); len(msg) > 0 {
			return nil, fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

type point struct{ lat, lon float64 }

// ParseCSV converts wgrib2 -csv rows ("start","valid","var","level",lon,lat,value)
// into records. Points outside region and (var, level) pairs the profile does
// not map are dropped. Forecast time is always job's run time plus offset.
func ParseCSV(r io.Reader, job domain.Job, region domain.Region, profile *domain.Profile) ([]domain.Record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 7
	cr.ReuseRecord = true

	forecast := job.ForecastTime()
	var (
		records []domain.Record
		order   []point
		winds   = make(map[point]*[2]*float64)
	)

	for line := 1; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}

		rule, ok := profile.Lookup(row[2], row[3])
		if !ok {
			continue
		}
		lon, err1 := strconv.ParseFloat(row[4], 64)
		lat, err2 := strconv.ParseFloat(row[5], 64)
		val, err3 := strconv.ParseFloat(row[6], 64)
		if err := errors.Join(err1, err2, err3); err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		if !region.Contains(lat, lon) {
			continue
		}

		lon = domain.NormalizeLon(lon)
		v := rule.Apply(val)
		records = append(records, domain.Record{
			RunTime:      job.RunTime,
			ForecastTime: forecast,
			Lat:          lat,
			Lon:          lon,
			Field:        rule.Field,
			Value:        domain.Round2(v),
		})

		if profile.DeriveWind && (rule.Field == domain.FieldU10 || rule.Field == domain.FieldV10) {
			p := point{lat, lon}
			w, seen := winds[p]
			if !seen {
				w = &[2]*float64{}
				winds[p] = w
				order = append(order, p)
			}
			if rule.Field == domain.FieldU10 {
				w[0] = &v
			} else {
				w[1] = &v
			}
		}
	}

	for _, p := range order {
		w := winds[p]
		if w[0] == nil || w[1] == nil {
			continue
		}
		u, v := *w[0], *w[1]
		records = append(records,
			domain.Record{RunTime: job.RunTime, ForecastTime: forecast, Lat: p.lat, Lon: p.lon,
				Field: domain.FieldWindSpeed, Value: domain.Round2(domain.WindSpeed(u, v))},
			domain.Record{RunTime: job.RunTime, ForecastTime: forecast, Lat: p.lat, Lon: p.lon,
				Field: domain.FieldWindDir, Value: domain.Round2(domain.WindDirection(u, v))},
		)
	}

	if len(records) == 0 {
		return nil, errors.New("no records inside the region")
	}
	return records, nil
}
