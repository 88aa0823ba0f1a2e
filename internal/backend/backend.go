// Package backend is the client of the plate tracking REST API: the pending
// plate queue plus the collections scraped results are written to.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"platescraper/internal/assert"
	"platescraper/internal/components/telemetry"
	"platescraper/lib/restyutil"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

const (
	report_client_first_unloaded = "client.first-unloaded"
	report_client_mark_loaded    = "client.mark-loaded"
	report_client_post           = "client.post"
)

const (
	DefaultTimeout       = 10 * time.Second
	DefaultUploadTimeout = 60 * time.Second
)

type Options struct {
	BaseUrl string
	// Timeout bounds queue calls and small writes.
	Timeout time.Duration
	// UploadTimeout bounds writes carrying images or html dumps.
	UploadTimeout time.Duration
	// RequestsPerSecond throttles every call, 0 means 5.
	RequestsPerSecond float64
	// DebugOutput receives full HTTP dumps when debug logging is enabled.
	DebugOutput restyutil.InstrumentOutput
}

// StatusError is returned for every non-2xx response.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e StatusError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Method, e.Path, e.Code, body)
}

// PendingPlate is the body of GET /pending-car-plates/unloaded/{source}/first.
type PendingPlate struct {
	ID    string
	Plate string
}

func (p *PendingPlate) UnmarshalJSON(b []byte) error {
	var raw struct {
		ID    json.RawMessage `json:"id"`
		Plate string          `json:"plate"`
	}
	err := json.Unmarshal(b, &raw)
	if err != nil {
		return err
	}
	p.Plate = strings.TrimSpace(raw.Plate)
	p.ID = ""

	id := bytes.TrimSpace(raw.ID)
	if len(id) == 0 || bytes.Equal(id, []byte("null")) {
		return nil
	}
	if id[0] == '"' {
		return json.Unmarshal(id, &p.ID)
	}
	var number json.Number
	err = json.Unmarshal(id, &number)
	if err != nil {
		return fmt.Errorf("invalid plate id %s: %w", string(id), err)
	}
	p.ID = number.String()
	return nil
}

type Client struct {
	http          *resty.Client
	timeout       time.Duration
	uploadTimeout time.Duration
	tel           telemetry.API
}

func NewClient(opts Options, tel telemetry.API) (*Client, error) {
	assert.NotNil(tel)
	tel = telemetry.NewScopedAPI("backend", tel)

	if opts.BaseUrl == "" {
		return nil, fmt.Errorf("backend: base url is empty")
	}
	_, err := url.Parse(opts.BaseUrl)
	if err != nil {
		return nil, fmt.Errorf("backend: invalid base url: %w", err)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.UploadTimeout <= 0 {
		opts.UploadTimeout = DefaultUploadTimeout
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 5
	}

	httpClient := resty.New()
	httpClient.SetBaseURL(strings.TrimSuffix(opts.BaseUrl, "/"))
	httpClient.SetHeader("accept", "*/*")
	// per request deadlines come from the context, this is only a backstop.
	httpClient.SetTimeout(opts.UploadTimeout + opts.Timeout)

	rateLimiter := rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	httpClient.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return rateLimiter.Wait(req.Context())
	})

	telemetry.InstrumentResty(httpClient, tel)
	restyutil.InstrumentClient(httpClient, "backend", opts.DebugOutput)

	return &Client{
		http:          httpClient,
		timeout:       opts.Timeout,
		uploadTimeout: opts.UploadTimeout,
		tel:           tel,
	}, nil
}

func isEmptyBody(body []byte) bool {
	body = bytes.TrimSpace(body)
	return len(body) == 0 || bytes.Equal(body, []byte("null")) || bytes.Equal(body, []byte("{}"))
}

// FirstUnloaded asks for the oldest plate not yet loaded for source. ok is
// false when there is nothing pending, which is reported by the backend as
// 404, 204 or an empty body.
func (c *Client) FirstUnloaded(ctx context.Context, source string) (plate PendingPlate, ok bool, err error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	path := fmt.Sprintf("/pending-car-plates/unloaded/%s/first", url.PathEscape(source))
	res, err := c.http.R().
		SetContext(ctx).
		Get(path)
	if err != nil {
		return PendingPlate{}, false, fmt.Errorf("get first unloaded plate: %w", err)
	}

	switch {
	case res.StatusCode() == http.StatusNotFound || res.StatusCode() == http.StatusNoContent:
		return PendingPlate{}, false, nil
	case res.IsError() || res.StatusCode() >= 300:
		err = StatusError{Method: http.MethodGet, Path: path, Code: res.StatusCode(), Body: res.String()}
		c.tel.ReportBroken(report_client_first_unloaded, err, source)
		return PendingPlate{}, false, err
	}

	if isEmptyBody(res.Body()) {
		return PendingPlate{}, false, nil
	}
	err = json.Unmarshal(res.Body(), &plate)
	if err != nil {
		c.tel.ReportBroken(report_client_first_unloaded, err, res.String())
		return PendingPlate{}, false, fmt.Errorf("decode pending plate: %w", err)
	}
	if plate.Plate == "" || plate.ID == "" {
		c.tel.ReportWarning(report_client_first_unloaded, "pending plate without id or plate", res.String())
		return PendingPlate{}, false, nil
	}
	return plate, true, nil
}

// MarkLoaded marks plate `id` as loaded for source.
func (c *Client) MarkLoaded(ctx context.Context, id string, source string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	path := fmt.Sprintf(
		"/pending-car-plates/%s/mark-loaded/%s",
		url.PathEscape(id),
		url.PathEscape(source),
	)
	res, err := c.http.R().
		SetContext(ctx).
		Patch(path)
	if err != nil {
		c.tel.ReportBroken(report_client_mark_loaded, err, id, source)
		return fmt.Errorf("mark plate %s loaded: %w", id, err)
	}
	if res.IsError() || res.StatusCode() >= 300 {
		err = StatusError{Method: http.MethodPatch, Path: path, Code: res.StatusCode(), Body: res.String()}
		c.tel.ReportBroken(report_client_mark_loaded, err, id, source)
		return err
	}
	return nil
}

func (c *Client) post(ctx context.Context, timeout time.Duration, collection string, body any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	path := "/" + strings.TrimPrefix(collection, "/")
	res, err := c.http.R().
		SetContext(ctx).
		SetHeader("content-type", "application/json").
		SetBody(body).
		Post(path)
	if err != nil {
		c.tel.ReportBroken(report_client_post, err, path)
		return fmt.Errorf("post %s: %w", path, err)
	}
	if res.IsError() || res.StatusCode() >= 300 {
		err = StatusError{Method: http.MethodPost, Path: path, Code: res.StatusCode(), Body: res.String()}
		c.tel.ReportBroken(report_client_post, err, path)
		return err
	}
	return nil
}

// Post writes a small JSON document to collection.
func (c *Client) Post(ctx context.Context, collection string, body any) error {
	return c.post(ctx, c.timeout, collection, body)
}

// Upload is Post with the longer upload timeout, for bodies carrying images
// or html dumps.
func (c *Client) Upload(ctx context.Context, collection string, body any) error {
	return c.post(ctx, c.uploadTimeout, collection, body)
}

// GetJSON decodes the body of GET path into out.
func (c *Client) GetJSON(ctx context.Context, path string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res, err := c.http.R().
		SetContext(ctx).
		Get(path)
	if err != nil {
		return fmt.Errorf("get %s: %w", path, err)
	}
	if res.IsError() || res.StatusCode() >= 300 {
		return StatusError{Method: http.MethodGet, Path: path, Code: res.StatusCode(), Body: res.String()}
	}
	err = json.Unmarshal(res.Body(), out)
	if err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// PlateSegment escapes a plate for use as a path segment.
func PlateSegment(plate string) string {
	return url.PathEscape(strings.ToUpper(strings.TrimSpace(plate)))
}
