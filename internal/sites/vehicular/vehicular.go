// Package vehicular captures the vehicle certificate image of the SUNARP
// "Consulta Vehicular" page.
package vehicular

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"platescraper/internal/adapter"
	"platescraper/internal/assert"
	"platescraper/internal/browser"
	"platescraper/internal/captcha"
	"platescraper/internal/components/telemetry"
	"platescraper/internal/queue"
	"platescraper/internal/session"
	"platescraper/internal/sites/pagecaptcha"
)

const DefaultUrl = "https://consultavehicular.sunarp.gob.pe/"

const Collection = "/vehicles"

var ErrNoImage = errors.New("result image has no base64 payload")

const (
	xpathForm         = `/html/body/app-root/nz-content/div/app-inicio/app-vehicular/nz-layout/nz-content/div/nz-card/div/app-form-datos-consulta/div`
	xpathPlateInput   = xpathForm + `/form/fieldset/nz-form-item[1]/nz-form-control/div/div/nz-input-group/input`
	xpathCaptchaImage = xpathForm + `/form/fieldset/nz-form-item[2]/table/tr/td[1]/img`
	xpathCaptchaInput = xpathForm + `/form/fieldset/nz-form-item[2]/table/tr/td[3]/nz-form-item/nz-form-control/div/div/nz-input-group/input`
	xpathSearchButton = xpathForm + `/form/fieldset/nz-form-item[3]/nz-form-control/div/div/div/button`
	xpathResultImage  = xpathForm + `/img`
)

type Timings struct {
	// CaptchaProbe is how long the captcha image is looked for before the
	// form is assumed to have none.
	CaptchaProbe time.Duration
	BeforeSubmit time.Duration
	Result       time.Duration
}

var DefaultTimings = Timings{
	CaptchaProbe: 8 * time.Second,
	BeforeSubmit: 7 * time.Second,
	Result:       12 * time.Second,
}

type Adapter struct {
	url     string
	solver  captcha.Solver
	timings Timings
	tel     telemetry.API
}

// New creates the adapter. solver may be nil, the page is then expected to
// show no captcha.
func New(url string, solver captcha.Solver, tel telemetry.API) *Adapter {
	assert.NotNil(tel)
	if url == "" {
		url = DefaultUrl
	}
	return &Adapter{
		url:     url,
		solver:  solver,
		timings: DefaultTimings,
		tel:     telemetry.NewScopedAPI("vehicular", tel),
	}
}

// ParseDataUri returns the base64 payload of a data uri image source.
func ParseDataUri(src string) (string, error) {
	_, payload, found := strings.Cut(src, ";base64,")
	payload = strings.TrimSpace(payload)
	if !found || payload == "" {
		return "", ErrNoImage
	}
	return payload, nil
}

func (a *Adapter) Process(ctx context.Context, sess session.Session, item queue.WorkItem) (adapter.Artifact, error) {
	s, ok := sess.(*browser.Session)
	if !ok {
		return nil, adapter.Wrap(adapter.ReasonUnexpectedResponse, "session", fmt.Errorf("unexpected session %T", sess))
	}
	plate := strings.ToUpper(strings.TrimSpace(item.Plate))

	err := s.Navigate(ctx, a.url)
	if err != nil {
		return nil, adapter.Wrap(adapter.ReasonNetwork, "navigate", err)
	}
	err = s.Type(ctx, xpathPlateInput, plate)
	if err != nil {
		s.Screenshot(ctx, "plate")
		return nil, adapter.Wrap(adapter.ReasonElementNotFound, "plate", err)
	}

	var solution captcha.Solution
	solved := false
	if s.Has(ctx, xpathCaptchaImage, a.timings.CaptchaProbe) {
		solution, err = pagecaptcha.Fill(ctx, s, a.solver, xpathCaptchaImage, xpathCaptchaInput)
		if err != nil {
			s.Screenshot(ctx, "captcha")
			return nil, err
		}
		solved = true
	}

	err = browser.Pause(ctx, a.timings.BeforeSubmit)
	if err != nil {
		return nil, adapter.Wrap(adapter.ReasonTimeout, "submit", err)
	}
	err = s.Click(ctx, xpathSearchButton)
	if err != nil {
		s.Screenshot(ctx, "submit")
		if solved {
			return nil, pagecaptcha.Rejected(ctx, a.solver, solution, err)
		}
		return nil, adapter.Wrap(adapter.ReasonElementNotFound, "submit", err)
	}

	src, err := a.resultSource(ctx, s)
	if err != nil {
		s.Screenshot(ctx, "result")
		if solved {
			return nil, pagecaptcha.Rejected(ctx, a.solver, solution, err)
		}
		return nil, adapter.Wrap(adapter.ReasonElementNotFound, "result", err)
	}
	image, err := ParseDataUri(src)
	if err != nil {
		return nil, adapter.Wrap(adapter.ReasonUnexpectedResponse, "result", err)
	}

	return adapter.ImageArtifact{
		Collection:  Collection,
		PlateNumber: plate,
		ImageBase64: image,
	}, nil
}

func (a *Adapter) resultSource(ctx context.Context, s *browser.Session) (string, error) {
	el, err := s.ElementWithin(ctx, xpathResultImage, a.timings.Result)
	if err != nil {
		return "", err
	}
	src, err := el.Attribute("src")
	if err != nil {
		return "", fmt.Errorf("read result src: %w", err)
	}
	if src == nil {
		return "", ErrNoImage
	}
	return *src, nil
}
