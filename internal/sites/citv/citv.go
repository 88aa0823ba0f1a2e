// Package citv captures the technical inspection (CITV) certificates the
// MTC lists for a plate.
package citv

import (
	"context"
	"encoding/base64"
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

const DefaultUrl = "https://rec.mtc.gob.pe/Citv/ArConsultaCitv"

const Collection = "/technical-inspections"

const (
	xpathPlateInput   = `/html/body/div[2]/div[2]/div[2]/div/input`
	xpathCaptchaImage = `/html/body/div[2]/div[2]/div[3]/div/div/img`
	xpathCaptchaInput = `/html/body/div[2]/div[2]/div[4]/div/div/input`
	xpathSearchButton = `/html/body/div[2]/div[2]/div[5]/div/button[1]`
)

const xpathBody = `/html/body`

type Timings struct {
	AfterLoad time.Duration
	// Result is how long the page gets to show results or an error after
	// the search is submitted, it is read every Poll.
	Result time.Duration
	Poll   time.Duration
}

var DefaultTimings = Timings{
	AfterLoad: 3 * time.Second,
	Result:    15 * time.Second,
	Poll:      500 * time.Millisecond,
}

type Adapter struct {
	url     string
	solver  captcha.Solver
	timings Timings
	tel     telemetry.API
}

func New(url string, solver captcha.Solver, tel telemetry.API) *Adapter {
	assert.NotNil(tel)
	if url == "" {
		url = DefaultUrl
	}
	return &Adapter{
		url:     url,
		solver:  solver,
		timings: DefaultTimings,
		tel:     telemetry.NewScopedAPI("citv", tel),
	}
}

// Process searches the plate and captures the page with the results. The
// page is only captured once it shows results or says there are none, a
// rejected captcha answer is reported to the solver.
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
	err = browser.Pause(ctx, a.timings.AfterLoad)
	if err != nil {
		return nil, adapter.Wrap(adapter.ReasonTimeout, "navigate", err)
	}
	err = s.Type(ctx, xpathPlateInput, plate)
	if err != nil {
		s.Screenshot(ctx, "plate")
		return nil, adapter.Wrap(adapter.ReasonElementNotFound, "plate", err)
	}

	solution, err := pagecaptcha.Fill(ctx, s, a.solver, xpathCaptchaImage, xpathCaptchaInput)
	if err != nil {
		s.Screenshot(ctx, "captcha")
		return nil, err
	}

	err = s.Click(ctx, xpathSearchButton)
	if err != nil {
		s.Screenshot(ctx, "submit")
		return nil, pagecaptcha.Rejected(ctx, a.solver, solution, err)
	}
	outcome, err := waitOutcome(ctx, func(ctx context.Context) (string, error) {
		return s.HTML(ctx, xpathBody)
	}, a.timings.Result, a.timings.Poll)
	if err != nil {
		s.Screenshot(ctx, "result")
		return nil, adapter.Wrap(adapter.ReasonUnexpectedResponse, "result", err)
	}
	if outcome == OutcomeCaptchaRejected {
		s.Screenshot(ctx, "captcha-rejected")
		return nil, pagecaptcha.Rejected(ctx, a.solver, solution, ErrCaptchaRejected)
	}
	a.tel.ReportDebug("search finished", "plate", plate, "outcome", outcome.String())

	png, err := s.PagePNG(ctx)
	if err != nil {
		return nil, adapter.Wrap(adapter.ReasonUnexpectedResponse, "result", err)
	}
	return adapter.ImageArtifact{
		Collection:  Collection,
		PlateNumber: plate,
		ImageBase64: base64.StdEncoding.EncodeToString(png),
	}, nil
}
