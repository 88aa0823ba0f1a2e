package telemetry

import (
	"fmt"
)

// API is an abstraction over logging/metrics, it exists so tests can assert
// on what a component reported.
//
// note: fault injection point
type API interface {
	// ReportBroken reports a component that broke in a way an operator should
	// look at.
	//
	// The id names the component that broke, not the exact line: a failed
	// PATCH while acknowledging a plate is `queue.acknowledge`, the details go
	// in params or in the wrapped error. Look at the `report_...` constants in
	// each package for examples.
	//
	// Formatting rules:
	// 1) all lowercase
	// 2) use underscores for large components
	// 3) use dashes for methods part of a larger component
	//
	// ScopedAPI prefixes the package, so ids usually only need to be
	// `<struct or interface>.<method>`.
	ReportBroken(id string, params ...any)

	// ReportWarning reports something that is not necessarily broken but is
	// worth investigating. The id follows the rules of ReportBroken.
	ReportWarning(id string, params ...any)

	// ReportDebug reports information that is ignored in production.
	ReportDebug(msg string, params ...any)

	// ReportCount reports the current value of a counter, values are points
	// in time and should not be summed.
	ReportCount(id string, count int64)
}

// ScopedAPI attaches a namespace to every report, like a prefixed sub-logger.
type ScopedAPI struct {
	namespace string
	inner     API
}

func NewScopedAPI(namespace string, inner API) ScopedAPI {
	return ScopedAPI{namespace: namespace, inner: inner}
}

func (s ScopedAPI) ReportBroken(id string, params ...any) {
	s.inner.ReportBroken(fmt.Sprintf("%s: %s", s.namespace, id), params...)
}

func (s ScopedAPI) ReportWarning(id string, params ...any) {
	s.inner.ReportWarning(fmt.Sprintf("%s: %s", s.namespace, id), params...)
}

func (s ScopedAPI) ReportDebug(msg string, params ...any) {
	s.inner.ReportDebug(fmt.Sprintf("%s: %s", s.namespace, msg), params...)
}

func (s ScopedAPI) ReportCount(id string, count int64) {
	s.inner.ReportCount(fmt.Sprintf("%s: %s", s.namespace, id), count)
}
