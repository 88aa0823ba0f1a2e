// Package multas queries the traffic fines the municipality of Arequipa has
// on record for a plate. It needs no browser: the search form posts to a
// plain endpoint, so a cookie keeping HTTP client is the session.
package multas

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"platescraper/internal/adapter"
	"platescraper/internal/assert"
	"platescraper/internal/components/telemetry"
	"platescraper/internal/queue"
	"platescraper/internal/session"
	"platescraper/lib/htmlutil"
	"platescraper/lib/restyutil"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

const (
	report_session_search = "session.search"
)

const DefaultUrl = "https://www.muniarequipa.gob.pe/oficina-virtual/c0nInfrPermisos/faltas/buscar.php"

const Collection = "/multas-arequipa"

const noResults = "No se encontraron resultados"

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/142.0.0.0 Safari/537.36"

type Options struct {
	Url string
	// Timeout bounds one search, 0 means 30s.
	Timeout time.Duration
	// RequestsPerSecond throttles searches, 0 means 1.
	RequestsPerSecond float64
	DebugOutput       restyutil.InstrumentOutput
}

// Session is an HTTP client with its own cookie jar.
type Session struct {
	tag  string
	http *resty.Client
}

func (s *Session) Tag() string {
	return s.tag
}

// Close drops the cookies of the session.
func (s *Session) Close() error {
	s.http.SetCookieJar(nil)
	return nil
}

type Adapter struct {
	endpoint *url.URL
	referer  string
	opts     Options
	tel      telemetry.API
}

func New(opts Options, tel telemetry.API) (*Adapter, error) {
	assert.NotNil(tel)
	if opts.Url == "" {
		opts.Url = DefaultUrl
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 1
	}
	endpoint, err := url.Parse(opts.Url)
	if err != nil {
		return nil, fmt.Errorf("multas: invalid url: %w", err)
	}
	referer, err := endpoint.Parse("papeletas.php")
	if err != nil {
		return nil, fmt.Errorf("multas: invalid url: %w", err)
	}
	return &Adapter{
		endpoint: endpoint,
		referer:  referer.String(),
		opts:     opts,
		tel:      telemetry.NewScopedAPI("multas", tel),
	}, nil
}

// Factory returns a session.Factory producing fresh HTTP sessions.
func (a *Adapter) Factory() session.Factory {
	return session.FactoryFunc(func(ctx context.Context, tag string) (session.Session, error) {
		return a.newSession(tag)
	})
}

func (a *Adapter) newSession(tag string) (*Session, error) {
	httpClient := resty.New()
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	httpClient.SetCookieJar(jar)
	httpClient.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(httpClient.GetClient().Transport)

	origin := a.endpoint.Scheme + "://" + a.endpoint.Host
	httpClient.SetHeaders(map[string]string{
		"accept":           "*/*",
		"accept-language":  "en-US,en;q=0.8",
		"origin":           origin,
		"referer":          a.referer,
		"user-agent":       userAgent,
		"x-requested-with": "XMLHttpRequest",
	})
	httpClient.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(a.endpoint.Hostname()))
	httpClient.SetTimeout(a.opts.Timeout)

	rateLimiter := rate.NewLimiter(rate.Limit(a.opts.RequestsPerSecond), 1)
	httpClient.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return rateLimiter.Wait(req.Context())
	})

	telemetry.InstrumentResty(httpClient, a.tel)
	restyutil.InstrumentClient(httpClient, "multas", a.opts.DebugOutput)

	return &Session{tag: tag, http: httpClient}, nil
}

// Data is what the search returned, stored as is.
type Data struct {
	Success     bool   `json:"success"`
	HasResults  bool   `json:"has_results"`
	Message     string `json:"message,omitempty"`
	RawResponse string `json:"raw_response,omitempty"`
}

// ParseResponse classifies the body of a successful search.
func ParseResponse(body string) Data {
	body = strings.TrimSpace(body)
	found := strings.Contains(body, noResults)
	if !found {
		doc, err := htmlutil.ParseFragment(body)
		if err == nil {
			found = strings.Contains(htmlutil.SelectionText(doc.Selection), noResults)
		}
	}
	if found {
		return Data{Success: true, HasResults: false, Message: noResults}
	}
	return Data{Success: true, HasResults: true, RawResponse: body}
}

func (a *Adapter) Process(ctx context.Context, sess session.Session, item queue.WorkItem) (adapter.Artifact, error) {
	s, ok := sess.(*Session)
	if !ok {
		return nil, adapter.Wrap(adapter.ReasonUnexpectedResponse, "session", fmt.Errorf("unexpected session %T", sess))
	}
	plate := strings.ToUpper(strings.TrimSpace(item.Plate))

	res, err := s.http.R().
		SetContext(ctx).
		SetHeader("content-type", "application/x-www-form-urlencoded; charset=UTF-8").
		SetBody(url.Values{"placa": {strings.ToLower(plate)}}.Encode()).
		Post(a.endpoint.String())
	if err != nil {
		a.tel.ReportWarning(report_session_search, err, plate)
		return nil, adapter.Wrap(adapter.ReasonNetwork, "search", err)
	}
	if res.StatusCode() != http.StatusOK {
		err = fmt.Errorf("status %d", res.StatusCode())
		a.tel.ReportWarning(report_session_search, err, plate)
		return nil, adapter.Wrap(adapter.ReasonUnexpectedResponse, "search", err)
	}

	return &Artifact{
		PlateNumber: plate,
		Data:        ParseResponse(res.String()),
	}, nil
}

type Artifact struct {
	PlateNumber string
	Data        Data
}

func (a *Artifact) Plate() string {
	return a.PlateNumber
}

func (a *Artifact) Upload(ctx context.Context, store adapter.Store) error {
	return store.Upload(ctx, Collection, map[string]any{
		"plateNumber": a.PlateNumber,
		"data":        a.Data,
	})
}
