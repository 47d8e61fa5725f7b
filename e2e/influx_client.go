package e2e

import (
	"context"
	"fmt"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
)

// InfluxClient reads back what the dispatch service wrote during a run.
type InfluxClient struct {
	org    string
	bucket string
	client influxdb2.Client
	query  api.QueryAPI
}

func NewInfluxClient(url, org, bucket, token string) *InfluxClient {
	c := influxdb2.NewClient(url, token)
	return &InfluxClient{org: org, bucket: bucket, client: c, query: c.QueryAPI(org)}
}

// SetupBucket creates the organisation and bucket when the container was
// not initialised with them.
func (c *InfluxClient) SetupBucket(ctx context.Context) error {
	orgAPI := c.client.OrganizationsAPI()
	org, err := orgAPI.FindOrganizationByName(ctx, c.org)
	if err != nil || org == nil {
		org, err = orgAPI.CreateOrganizationWithName(ctx, c.org)
		if err != nil {
			return fmt.Errorf("create org: %w", err)
		}
	}
	if b, err := c.client.BucketsAPI().FindBucketByName(ctx, c.bucket); err == nil && b != nil {
		return nil
	}
	if _, err := c.client.BucketsAPI().CreateBucketWithName(ctx, org, c.bucket); err != nil {
		return fmt.Errorf("create bucket: %w", err)
	}
	return nil
}

// Count returns the number of points of measurement tagged with call_id in
// the last hour.
func (c *InfluxClient) Count(ctx context.Context, measurement, callID string) (int, error) {
	flux := fmt.Sprintf(`from(bucket:%q)
  |> range(start: -1h)
  |> filter(fn: (r) => r._measurement == %q and r.call_id == %q)`, c.bucket, measurement, callID)
	res, err := c.query.Query(ctx, flux)
	if err != nil {
		return 0, err
	}
	defer res.Close()
	n := 0
	for res.Next() {
		n++
	}
	return n, res.Err()
}

func (c *InfluxClient) Close() { c.client.Close() }
