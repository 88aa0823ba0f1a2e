package pagecaptcha

import (
	"context"
	"errors"
	"testing"

	"platescraper/internal/adapter"
	"platescraper/internal/captcha"

	"github.com/stretchr/testify/require"
)

type fakeSolver struct {
	reported []captcha.Solution
}

func (s *fakeSolver) Solve(ctx context.Context, image []byte) (captcha.Solution, error) {
	return captcha.Solution{ID: 1, Text: "ABC"}, nil
}

func (s *fakeSolver) Report(ctx context.Context, solution captcha.Solution) error {
	s.reported = append(s.reported, solution)
	return nil
}

func TestRejected(t *testing.T) {
	solver := &fakeSolver{}
	cause := errors.New("result missing")
	err := Rejected(context.Background(), solver, captcha.Solution{ID: 9, Text: "X7KP2"}, cause)

	reason, ok := adapter.ReasonOf(err)
	require.True(t, ok)
	require.Equal(t, adapter.ReasonCaptcha, reason)
	require.ErrorIs(t, err, cause)
	require.Equal(t, []captcha.Solution{{ID: 9, Text: "X7KP2"}}, solver.reported)
}

func TestRejectedWithoutId(t *testing.T) {
	solver := &fakeSolver{}
	err := Rejected(context.Background(), solver, captcha.Solution{}, errors.New("no result"))
	require.Error(t, err)
	require.Empty(t, solver.reported)

	err = Rejected(context.Background(), nil, captcha.Solution{ID: 3}, errors.New("no result"))
	require.Error(t, err)
}

func TestFillWithoutSolver(t *testing.T) {
	_, err := Fill(context.Background(), nil, nil, "//img", "//input")
	require.ErrorIs(t, err, ErrNoSolver)
	reason, _ := adapter.ReasonOf(err)
	require.Equal(t, adapter.ReasonCaptcha, reason)
}
