// Package sbs reads the SOAT accident report of the SBS. Every plate is
// searched three times, once per insurance kind.
package sbs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"platescraper/internal/adapter"
	"platescraper/internal/assert"
	"platescraper/internal/browser"
	"platescraper/internal/components/telemetry"
	"platescraper/internal/queue"
	"platescraper/internal/session"
)

const report_adapter_search = "adapter.search"

const DefaultUrl = "https://servicios.sbs.gob.pe/reportesoat/BusquedaPlaca"

const (
	xpathForm         = `/html/body/div[4]/div/div/div/form/div[3]/div`
	xpathPlateInput   = xpathForm + `/div[2]/div/div[1]/div[1]/span/input`
	xpathKindRadio    = xpathForm + `/div[2]/div/div[2]/div/table/tbody/tr/td[%d]/input`
	xpathSubmitButton = xpathForm + `/div[3]/input`
	xpathResults      = xpathForm + `/div[3]/div/div/div/div`
)

// Kind is one of the three searches, its value is the position of its
// radio button.
type Kind int

const (
	KindSoat Kind = iota + 1
	KindInsurance
	KindCat
)

var Kinds = []Kind{KindSoat, KindInsurance, KindCat}

func (k Kind) String() string {
	switch k {
	case KindSoat:
		return "SOAT"
	case KindInsurance:
		return "SEGURO"
	case KindCat:
		return "CAT"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

type Timings struct {
	AfterLoad   time.Duration
	AfterRadio  time.Duration
	AfterSubmit time.Duration
	Results     time.Duration
}

var DefaultTimings = Timings{
	AfterLoad:   3 * time.Second,
	AfterRadio:  time.Second,
	AfterSubmit: 3 * time.Second,
	Results:     10 * time.Second,
}

type Adapter struct {
	url     string
	timings Timings
	tel     telemetry.API
}

func New(url string, tel telemetry.API) *Adapter {
	assert.NotNil(tel)
	if url == "" {
		url = DefaultUrl
	}
	return &Adapter{
		url:     url,
		timings: DefaultTimings,
		tel:     telemetry.NewScopedAPI("sbs", tel),
	}
}

// Process runs the three searches. A search that fails leaves its result
// empty, the plate only fails when every search did.
func (a *Adapter) Process(ctx context.Context, sess session.Session, item queue.WorkItem) (adapter.Artifact, error) {
	s, ok := sess.(*browser.Session)
	if !ok {
		return nil, adapter.Wrap(adapter.ReasonUnexpectedResponse, "session", fmt.Errorf("unexpected session %T", sess))
	}
	plate := strings.ToUpper(strings.TrimSpace(item.Plate))

	results := map[Kind]Result{}
	var errs []error
	for _, kind := range Kinds {
		result, err := a.search(ctx, s, plate, kind)
		if err != nil {
			if ctx.Err() != nil {
				return nil, adapter.Wrap(adapter.ReasonTimeout, "search", ctx.Err())
			}
			s.Screenshot(ctx, "search-"+strings.ToLower(kind.String()))
			a.tel.ReportWarning(report_adapter_search, err, plate, kind.String())
			errs = append(errs, fmt.Errorf("%s: %w", kind, err))
			continue
		}
		results[kind] = result
	}
	if len(results) == 0 {
		return nil, adapter.Wrap(adapter.ReasonElementNotFound, "search", errors.Join(errs...))
	}

	return &Artifact{
		PlateNumber: plate,
		Soat:        results[KindSoat],
		Insurance:   results[KindInsurance],
		Cat:         results[KindCat],
	}, nil
}

func (a *Adapter) search(ctx context.Context, s *browser.Session, plate string, kind Kind) (Result, error) {
	err := s.Navigate(ctx, a.url)
	if err != nil {
		return Result{}, err
	}
	err = browser.Pause(ctx, a.timings.AfterLoad)
	if err != nil {
		return Result{}, err
	}
	err = s.Type(ctx, xpathPlateInput, plate)
	if err != nil {
		return Result{}, fmt.Errorf("plate: %w", err)
	}
	err = s.Click(ctx, fmt.Sprintf(xpathKindRadio, int(kind)))
	if err != nil {
		return Result{}, fmt.Errorf("radio: %w", err)
	}
	err = browser.Pause(ctx, a.timings.AfterRadio)
	if err != nil {
		return Result{}, err
	}
	err = s.Click(ctx, xpathSubmitButton)
	if err != nil {
		return Result{}, fmt.Errorf("submit: %w", err)
	}
	err = browser.Pause(ctx, a.timings.AfterSubmit)
	if err != nil {
		return Result{}, err
	}

	el, err := s.ElementWithin(ctx, xpathResults, a.timings.Results)
	if err != nil {
		if errors.Is(err, browser.ErrElementNotFound) {
			// no results table means no accidents on record.
			return Result{}, nil
		}
		return Result{}, err
	}
	containerHtml, err := el.HTML()
	if err != nil {
		return Result{}, fmt.Errorf("read results: %w", err)
	}
	return ParseResults(containerHtml)
}
