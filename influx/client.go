package influx

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

type Options struct {
	URL    string
	Token  string
	Org    string
	Bucket string
	// InfluxDB 1.8 compatibility, used when Token is empty
	Username        string
	Password        string
	Database        string
	RetentionPolicy string
	Timeout         time.Duration
	// How far back forecast_log is searched for the last issue time
	LogLookback time.Duration
}

type clientBackend struct {
	client influxdb2.Client
	org    string
	bucket string
	write  api.WriteAPIBlocking
	query  api.QueryAPI
}

// New connects to an InfluxDB 2.x server, or to a 1.8 server through its
// compatibility API when no token is configured.
func New(ctx context.Context, opts Options) (*Repository, error) {
	logger := slog.Default().With(slog.String("module", "influx"))

	token, org, bucket := opts.Token, opts.Org, opts.Bucket
	if token == "" {
		token = fmt.Sprintf("%s:%s", opts.Username, opts.Password)
		org = ""
		bucket = opts.Database
		if opts.RetentionPolicy != "" {
			bucket = opts.Database + "/" + opts.RetentionPolicy
		}
	}
	if bucket == "" {
		return nil, fmt.Errorf("influx bucket (or database) not configured")
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	client := influxdb2.NewClientWithOptions(opts.URL, token,
		influxdb2.DefaultOptions().SetHTTPRequestTimeout(uint(timeout.Seconds())))

	b := &clientBackend{
		client: client,
		org:    org,
		bucket: bucket,
		write:  client.WriteAPIBlocking(org, bucket),
		query:  client.QueryAPI(org),
	}

	ok, err := client.Ping(ctx)
	if err != nil || !ok {
		client.Close()
		return nil, fmt.Errorf("influx server %s not reachable: %v", opts.URL, err)
	}
	if err := b.EnsureBucket(ctx); err != nil {
		client.Close()
		return nil, err
	}

	return newRepository(logger, b, bucket, opts.LogLookback), nil
}

func (b *clientBackend) EnsureBucket(ctx context.Context) error {
	if b.org == "" {
		return nil
	}
	if _, err := b.client.BucketsAPI().FindBucketByName(ctx, b.bucket); err == nil {
		return nil
	}
	org, err := b.client.OrganizationsAPI().FindOrganizationByName(ctx, b.org)
	if err != nil {
		return fmt.Errorf("finding influx organization %s: %w", b.org, err)
	}
	if _, err := b.client.BucketsAPI().CreateBucketWithName(ctx, org, b.bucket); err != nil {
		return fmt.Errorf("creating influx bucket %s: %w", b.bucket, err)
	}
	return nil
}

func (b *clientBackend) Write(ctx context.Context, points ...Point) error {
	pts := make([]*write.Point, len(points))
	for i, p := range points {
		pts[i] = influxdb2.NewPoint(p.Measurement, p.Tags, p.Fields, p.Time)
	}
	return b.write.WritePoint(ctx, pts...)
}

func (b *clientBackend) Query(ctx context.Context, flux string) ([]map[string]any, error) {
	result, err := b.query.Query(ctx, flux)
	if err != nil {
		return nil, err
	}
	defer result.Close()

	var records []map[string]any
	for result.Next() {
		values := make(map[string]any)
		for k, v := range result.Record().Values() {
			values[k] = v
		}
		records = append(records, values)
	}
	if err := result.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func (b *clientBackend) Close() {
	b.client.Close()
}
