package somnia

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/alanyoungcy/marketsync/internal/domain"
)

// fetchTimeout bounds one shared snapshot request.
const fetchTimeout = 15 * time.Second

// SnapshotClient reads the last record published on a stream from the
// gateway's HTTP API. Concurrent reads of the same stream share one request.
type SnapshotClient struct {
	baseURL    string
	httpClient *http.Client
	group      singleflight.Group
}

var _ domain.SnapshotReader = (*SnapshotClient)(nil)

// NewSnapshotClient creates a client.
//
// baseURL is the gateway root, e.g. "https://dream-rpc.somnia.network/api".
func NewSnapshotClient(baseURL string) *SnapshotClient {
	return &SnapshotClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: fetchTimeout,
		},
	}
}

// GetByKey returns the latest record on the stream. A 404 or a null body is
// reported as domain.ErrNotFound.
func (c *SnapshotClient) GetByKey(ctx context.Context, schema domain.SchemaID, id domain.StreamID) (domain.Record, error) {
	key := schema.String() + "/" + id.String()
	// The shared fetch outlives any single caller's cancellation; each caller
	// stops waiting on its own ctx.
	ch := c.group.DoChan(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fetchTimeout)
		defer cancel()
		return c.fetch(fctx, schema, id)
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("somnia/snapshot: get %s: %w", id, ctx.Err())
	case res = <-ch:
	}
	if res.Err != nil {
		if errors.Is(res.Err, domain.ErrNotFound) {
			return nil, res.Err
		}
		return nil, fmt.Errorf("somnia/snapshot: get %s: %w", id, res.Err)
	}

	// Each caller gets its own copy of the shared result.
	rec := res.Val.(domain.Record)
	out := make(domain.Record, len(rec))
	for k, val := range rec {
		out[k] = val
	}
	return out, nil
}

func (c *SnapshotClient) fetch(ctx context.Context, schema domain.SchemaID, id domain.StreamID) (domain.Record, error) {
	params := url.Values{}
	params.Set("schema", schema.String())
	path := "/streams/" + url.PathEscape(id.String()) + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, domain.ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(body, 256))
	}

	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, domain.ErrNotFound
	}
	return domain.DecodeRecord(body)
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
