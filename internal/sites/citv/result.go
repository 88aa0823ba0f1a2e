package citv

import (
	"context"
	"errors"
	"strings"
	"time"

	"platescraper/internal/browser"
	"platescraper/lib/htmlutil"
	"platescraper/lib/textutil"

	"github.com/PuerkitoBio/goquery"
)

var (
	ErrCaptchaRejected = errors.New("captcha answer rejected")
	ErrNoOutcome       = errors.New("page showed neither results nor an error")
)

// Outcome is what the page shows after a search was submitted.
type Outcome int

const (
	OutcomePending Outcome = iota
	OutcomeResults
	OutcomeNoRecords
	OutcomeCaptchaRejected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeResults:
		return "results"
	case OutcomeNoRecords:
		return "no_records"
	case OutcomeCaptchaRejected:
		return "captcha_rejected"
	default:
		return "pending"
	}
}

var captchaWords = []string{"captcha", "codigo de seguridad", "codigo de verificacion", "codigo de la imagen"}

var rejectionWords = []string{"incorrect", "invalid", "no valido", "no es valido", "no coincide", "erroneo", "vuelva a intentar"}

var noRecordWords = []string{"no se encontr", "no existe", "no registra", "no cuenta con", "sin resultados"}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

func hidden(sel *goquery.Selection) bool {
	if _, ok := sel.Attr("hidden"); ok {
		return true
	}
	style, _ := sel.Attr("style")
	style = strings.ReplaceAll(strings.ToLower(style), " ", "")
	return strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden")
}

// Classify reads the body html of the page after a search. Hidden elements
// and scripts are ignored. A captcha error wins over anything else on the
// page.
func Classify(bodyHtml string) (Outcome, error) {
	doc, err := htmlutil.ParseFragment(bodyHtml)
	if err != nil {
		return OutcomePending, err
	}
	doc.Find("script, style, noscript").Remove()
	doc.Find("*").FilterFunction(func(_ int, sel *goquery.Selection) bool {
		return hidden(sel)
	}).Remove()

	text := textutil.NormalizeKey(htmlutil.SelectionText(doc.Selection))
	switch {
	case containsAny(text, captchaWords) && containsAny(text, rejectionWords):
		return OutcomeCaptchaRejected, nil
	case doc.Find("table tbody tr td").Length() > 0:
		return OutcomeResults, nil
	case containsAny(text, noRecordWords):
		return OutcomeNoRecords, nil
	}
	return OutcomePending, nil
}

// waitOutcome reads the page every poll until Classify settles or timeout
// passes, in which case it returns ErrNoOutcome.
func waitOutcome(ctx context.Context, read func(ctx context.Context) (string, error), timeout, poll time.Duration) (Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var lastErr error
	for {
		body, err := read(ctx)
		if err == nil {
			var outcome Outcome
			outcome, err = Classify(body)
			if err == nil && outcome != OutcomePending {
				return outcome, nil
			}
		}
		if err != nil {
			lastErr = err
		}

		err = browser.Pause(ctx, poll)
		if err != nil {
			if lastErr != nil {
				return OutcomePending, errors.Join(ErrNoOutcome, lastErr)
			}
			return OutcomePending, ErrNoOutcome
		}
	}
}
