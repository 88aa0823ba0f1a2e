// Package captcha solves image captchas through the DeathByCaptcha HTTP API.
package captcha

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"platescraper/internal/assert"
	"platescraper/internal/components/telemetry"
	"platescraper/lib/restyutil"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("platescraper/internal/captcha")

const (
	report_client_solve  = "client.solve"
	report_client_report = "client.report"
)

const DefaultBaseUrl = "http://api.dbcapi.me/api"

var (
	ErrNoCredentials = errors.New("captcha: username or password missing")
	// ErrUnsolved is returned when the service could not read the image in
	// time.
	ErrUnsolved = errors.New("captcha not solved")
)

type Options struct {
	BaseUrl  string
	Username string
	Password string
	// PollInterval is the wait between status checks, 0 means 3s.
	PollInterval time.Duration
	// Timeout bounds one Solve call, 0 means 90s.
	Timeout time.Duration
	// ReportWindow is how long a solution can be reported as wrong, 0 means
	// 10 minutes.
	ReportWindow time.Duration
	DebugOutput  restyutil.InstrumentOutput
}

// Solution is a solved captcha, ID is needed to report it.
type Solution struct {
	ID   int64
	Text string
}

// Solver is implemented by *Client.
//
// note: fault injection point
type Solver interface {
	Solve(ctx context.Context, image []byte) (Solution, error)
	Report(ctx context.Context, solution Solution) error
}

type Client struct {
	http         *resty.Client
	username     string
	password     string
	pollInterval time.Duration
	timeout      time.Duration
	// solutions that may still be reported as incorrect.
	reportable *expirable.LRU[int64, string]
	tel        telemetry.API
}

func NewClient(opts Options, tel telemetry.API) (*Client, error) {
	assert.NotNil(tel)
	if opts.Username == "" || opts.Password == "" {
		return nil, ErrNoCredentials
	}
	if opts.BaseUrl == "" {
		opts.BaseUrl = DefaultBaseUrl
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 3 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 90 * time.Second
	}
	if opts.ReportWindow <= 0 {
		opts.ReportWindow = 10 * time.Minute
	}
	tel = telemetry.NewScopedAPI("captcha", tel)

	client := resty.New()
	client.SetBaseURL(strings.TrimSuffix(opts.BaseUrl, "/"))
	client.SetHeader("accept", "application/json")
	client.SetTimeout(30 * time.Second)
	telemetry.InstrumentResty(client, tel)
	restyutil.InstrumentClient(client, "captcha", opts.DebugOutput)

	return &Client{
		http:         client,
		username:     opts.Username,
		password:     opts.Password,
		pollInterval: opts.PollInterval,
		timeout:      opts.Timeout,
		reportable:   expirable.NewLRU[int64, string](256, nil, opts.ReportWindow),
		tel:          tel,
	}, nil
}

type captchaStatus struct {
	Status    int    `json:"status"`
	Captcha   int64  `json:"captcha"`
	Text      string `json:"text"`
	IsCorrect bool   `json:"is_correct"`
	Error     string `json:"error"`
}

func decodeStatus(res *resty.Response) (captchaStatus, error) {
	if res.IsError() {
		return captchaStatus{}, fmt.Errorf("unexpected status %d: %s", res.StatusCode(), res.String())
	}
	var status captchaStatus
	err := json.Unmarshal(res.Body(), &status)
	if err != nil {
		return captchaStatus{}, fmt.Errorf("decode captcha status: %w", err)
	}
	if status.Error != "" {
		return captchaStatus{}, fmt.Errorf("captcha service: %s", status.Error)
	}
	return status, nil
}

// Solve uploads image and polls until the service answers. The text is
// trimmed and upper-cased.
func (c *Client) Solve(ctx context.Context, image []byte) (Solution, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	ctx, span := tracer.Start(ctx, "client:Solve")
	defer span.End()

	res, err := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"username":    c.username,
			"password":    c.password,
			"captchafile": "base64:" + base64.StdEncoding.EncodeToString(image),
		}).
		Post("/captcha")
	if err != nil {
		span.SetStatus(codes.Error, "failed to upload captcha")
		c.tel.ReportWarning(report_client_solve, err)
		return Solution{}, fmt.Errorf("upload captcha: %w", err)
	}
	status, err := decodeStatus(res)
	if err != nil {
		span.SetStatus(codes.Error, "failed to upload captcha")
		c.tel.ReportWarning(report_client_solve, err)
		return Solution{}, fmt.Errorf("upload captcha: %w", err)
	}
	if status.Captcha == 0 {
		return Solution{}, fmt.Errorf("upload captcha: no captcha id in response")
	}
	span.SetAttributes(attribute.Int64("captcha_id", status.Captcha))

	for status.Text == "" && status.IsCorrect {
		timer := time.NewTimer(c.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			span.SetStatus(codes.Error, "captcha not solved in time")
			return Solution{}, fmt.Errorf("%w: %w", ErrUnsolved, ctx.Err())
		case <-timer.C:
		}

		status, err = c.poll(ctx, status.Captcha)
		if err != nil {
			span.SetStatus(codes.Error, "failed to poll captcha")
			return Solution{}, err
		}
	}
	if !status.IsCorrect || strings.TrimSpace(status.Text) == "" {
		span.SetStatus(codes.Error, "captcha not solvable")
		return Solution{}, fmt.Errorf("%w: captcha %d marked incorrect", ErrUnsolved, status.Captcha)
	}

	solution := Solution{
		ID:   status.Captcha,
		Text: strings.ToUpper(strings.TrimSpace(status.Text)),
	}
	c.reportable.Add(solution.ID, solution.Text)
	span.AddEvent("solved", trace.WithAttributes(attribute.Int("length", len(solution.Text))))
	return solution, nil
}

func (c *Client) poll(ctx context.Context, id int64) (captchaStatus, error) {
	res, err := c.http.R().
		SetContext(ctx).
		Get("/captcha/" + strconv.FormatInt(id, 10))
	if err != nil {
		return captchaStatus{}, fmt.Errorf("poll captcha %d: %w", id, err)
	}
	status, err := decodeStatus(res)
	if err != nil {
		return captchaStatus{}, fmt.Errorf("poll captcha %d: %w", id, err)
	}
	if status.Captcha == 0 {
		status.Captcha = id
	}
	return status, nil
}

// Report tells the service solution was wrong so it is refunded. Solutions
// older than the report window, or already reported, are skipped.
func (c *Client) Report(ctx context.Context, solution Solution) error {
	_, ok := c.reportable.Get(solution.ID)
	if !ok {
		return nil
	}
	c.reportable.Remove(solution.ID)

	ctx, span := tracer.Start(ctx, "client:Report")
	defer span.End()

	res, err := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"username": c.username,
			"password": c.password,
		}).
		Post(fmt.Sprintf("/captcha/%d/report", solution.ID))
	if err == nil && res.IsError() {
		err = fmt.Errorf("unexpected status %d: %s", res.StatusCode(), res.String())
	}
	if err != nil {
		span.SetStatus(codes.Error, "failed to report captcha")
		c.tel.ReportWarning(report_client_report, err, solution.ID)
		return fmt.Errorf("report captcha %d: %w", solution.ID, err)
	}
	return nil
}
