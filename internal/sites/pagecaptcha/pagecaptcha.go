// Package pagecaptcha solves the image captcha of a browser form.
package pagecaptcha

import (
	"context"
	"errors"
	"fmt"

	"platescraper/internal/adapter"
	"platescraper/internal/browser"
	"platescraper/internal/captcha"
)

// ErrNoSolver is returned when a page shows a captcha and no solver is
// configured.
var ErrNoSolver = errors.New("captcha shown but no solver configured")

// Fill captures the captcha image at imageXpath, solves it and types the
// answer into inputXpath.
func Fill(ctx context.Context, s *browser.Session, solver captcha.Solver, imageXpath, inputXpath string) (captcha.Solution, error) {
	if solver == nil {
		return captcha.Solution{}, adapter.Wrap(adapter.ReasonCaptcha, "captcha", ErrNoSolver)
	}

	image, err := s.ElementPNG(ctx, imageXpath)
	if err != nil {
		return captcha.Solution{}, adapter.Wrap(adapter.ReasonElementNotFound, "captcha", err)
	}
	solution, err := solver.Solve(ctx, image)
	if err != nil {
		return captcha.Solution{}, adapter.Wrap(adapter.ReasonCaptcha, "captcha", err)
	}
	err = s.Type(ctx, inputXpath, solution.Text)
	if err != nil {
		return solution, adapter.Wrap(adapter.ReasonElementNotFound, "captcha", err)
	}
	return solution, nil
}

// Rejected reports solution as wrong and returns the error the adapter
// should fail with.
func Rejected(ctx context.Context, solver captcha.Solver, solution captcha.Solution, cause error) error {
	if solver != nil && solution.ID != 0 {
		// the refund is best effort, the adapter fails either way.
		_ = solver.Report(ctx, solution)
	}
	return adapter.Wrap(adapter.ReasonCaptcha, "captcha", fmt.Errorf("answer %q rejected: %w", solution.Text, cause))
}
