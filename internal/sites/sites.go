// Package sites lists the sources the scraper knows and builds the adapter
// and session factory of each.
package sites

import (
	"errors"
	"fmt"
	"strings"

	"platescraper/internal/adapter"
	"platescraper/internal/browser"
	"platescraper/internal/captcha"
	"platescraper/internal/components/telemetry"
	"platescraper/internal/session"
	"platescraper/internal/sites/citv"
	"platescraper/internal/sites/multas"
	"platescraper/internal/sites/sbs"
	"platescraper/internal/sites/sunarp"
	"platescraper/internal/sites/vehicular"
)

var ErrUnknownSource = errors.New("unknown source")

type Source struct {
	Code        string
	Name        string
	Description string
	// PerItemSession sources get a fresh session for every plate.
	PerItemSession bool
	Captcha        bool
	Browser        bool
}

var Sources = []Source{
	{
		Code:        "A",
		Name:        "sunarp",
		Description: "SUNARP registry history (Publicidad Registral en Línea)",
		Browser:     true,
	},
	{
		Code:           "B",
		Name:           "vehicular",
		Description:    "SUNARP Consulta Vehicular certificate image",
		PerItemSession: true,
		Captcha:        true,
		Browser:        true,
	},
	{
		Code:           "C",
		Name:           "sbs",
		Description:    "SBS SOAT, insurance and CAT accident report",
		PerItemSession: true,
		Browser:        true,
	},
	{
		Code:           "D",
		Name:           "citv",
		Description:    "MTC technical inspection certificates",
		PerItemSession: true,
		Captcha:        true,
		Browser:        true,
	},
	{
		Code:        "E",
		Name:        "multas",
		Description: "Municipalidad de Arequipa traffic fines",
	},
}

// Lookup finds a source by code or name, ignoring case.
func Lookup(key string) (Source, bool) {
	key = strings.TrimSpace(key)
	for _, source := range Sources {
		if strings.EqualFold(source.Code, key) || strings.EqualFold(source.Name, key) {
			return source, true
		}
	}
	return Source{}, false
}

// Deps is everything an adapter may need, each source uses its part.
type Deps struct {
	Browser browser.Options
	// Solver is nil when no captcha service is configured.
	Solver captcha.Solver
	Sunarp sunarp.Config
	Multas multas.Options
	// Url overrides the page the source scrapes.
	Url string
}

// Build creates the adapter of source and the factory of its sessions.
func Build(source Source, deps Deps, tel telemetry.API) (adapter.SiteAdapter, session.Factory, error) {
	switch source.Code {
	case "A":
		config := deps.Sunarp
		if deps.Url != "" {
			config.Url = deps.Url
		}
		a, err := sunarp.New(config, deps.Browser, tel)
		if err != nil {
			return nil, nil, err
		}
		return a, a.Factory(), nil
	case "B":
		return vehicular.New(deps.Url, deps.Solver, tel), browser.NewFactory(deps.Browser, tel), nil
	case "C":
		return sbs.New(deps.Url, tel), browser.NewFactory(deps.Browser, tel), nil
	case "D":
		if deps.Solver == nil {
			return nil, nil, fmt.Errorf("source %s: %w", source.Code, captcha.ErrNoCredentials)
		}
		return citv.New(deps.Url, deps.Solver, tel), browser.NewFactory(deps.Browser, tel), nil
	case "E":
		opts := deps.Multas
		if deps.Url != "" {
			opts.Url = deps.Url
		}
		a, err := multas.New(opts, tel)
		if err != nil {
			return nil, nil, err
		}
		return a, a.Factory(), nil
	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownSource, source.Code)
	}
}
