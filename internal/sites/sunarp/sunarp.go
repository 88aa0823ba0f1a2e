// Package sunarp scrapes the vehicle registry history from the SUNARP
// "Publicidad Registral en Línea" portal. It needs an account and keeps one
// logged in browser for as long as it works.
package sunarp

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
	"platescraper/lib/textutil"
)

const (
	report_adapter_office = "adapter.office"
	report_adapter_row    = "adapter.row"
)

const DefaultUrl = "https://sprl.sunarp.gob.pe/sprl/ingreso"

const officeMatchThreshold = 0.85

var ErrNoCredentials = errors.New("sunarp: username or password missing")

const (
	xpathLoginButton   = `/html/body/app-root/app-iniciar-sesion/nz-layout/div[2]/div/div[1]/div/div/app-campo-login/nz-layout/div/div/nz-form-item/div[2]/div/div/div/app-card-glass/div/nz-content[2]/form/nz-form-item/nz-form-control/div/div/div/button`
	xpathUsername      = `/html/body/div/form/div[1]/div/input`
	xpathPassword      = `/html/body/div/form/div[2]/div/input`
	xpathLoginSubmit   = `/html/body/div/form/div[4]/button`
	xpathSearchRoot    = `/html/body/app-root/app-main/nz-layout/nz-layout/nz-content/app-partidas-base-grafica-registral/div/div[2]/div/div/nz-spin/div/div[1]`
	xpathOfficeInput   = xpathSearchRoot + `/span/nz-card[1]/div/div/div/app-select-oficina-registral/div/div/nz-form-item/nz-form-control/div/div/nz-select/nz-select-top-control/nz-select-search/input`
	xpathOptions       = `/html/body/div/div/div/nz-option-container/div/cdk-virtual-scroll-viewport`
	xpathRegistryInput = xpathSearchRoot + `/span/nz-card[2]/div/div/div[1]/div/div/app-select/div/nz-form-item/nz-form-control/div/div/nz-select/nz-select-top-control/nz-select-item`
	xpathPlateInput    = xpathSearchRoot + `/span/nz-card[3]/div/form/div/div[2]/nz-form-item/nz-form-control/div/div/input`
	xpathSearchButton  = xpathSearchRoot + `/span/nz-card[3]/div/form/div/div[5]/button`
	xpathTableButton   = xpathSearchRoot + `/span[2]/nz-card/div/div[5]/div/nz-table/nz-spin/div/div/nz-table-inner-scroll/div[2]/table/tbody/tr[2]/td[7]/app-button/div/div/button`
	xpathHistoryBody   = `/html/body/div/div[3]/div[2]/div/div[2]/div/div/div[2]/div/nz-table/nz-spin/div/div/nz-table-inner-default/div/table/tbody`
	xpathModalTable    = `/html/body/div/div[5]/div/nz-modal-confirm-container/div/div/div/div/div[1]/div/div/table`
	xpathModalClose    = `/html/body/div/div[5]/div/nz-modal-confirm-container/div/div/div/div/div[2]/button`
)

const registryType = "Propiedad Vehicular"

// selectOptionScript scrolls the virtual option list until an option titled
// target shows up, then clicks it. It resolves to false when the list ends
// first.
const selectOptionScript = `(containerXpath, target) => {
	const container = document.evaluate(containerXpath, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
	if (!container) {
		return false;
	}
	const find = () => {
		for (const item of container.querySelectorAll('nz-option-item')) {
			if (item.getAttribute('title') === target) {
				return item;
			}
		}
		return null;
	};
	return new Promise((resolve) => {
		let attempts = 0;
		const interval = setInterval(() => {
			const item = find();
			if (item) {
				clearInterval(interval);
				item.scrollIntoView({ block: 'center' });
				setTimeout(() => { item.click(); resolve(true); }, 300);
				return;
			}
			container.scrollTop += 100;
			attempts++;
			if (container.scrollTop + container.clientHeight >= container.scrollHeight || attempts >= 50) {
				clearInterval(interval);
				resolve(false);
			}
		}, 100);
	});
}`

// listOptionsScript scrolls through the whole option list and returns
// every title it saw.
const listOptionsScript = `(containerXpath) => {
	const container = document.evaluate(containerXpath, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
	if (!container) {
		return [];
	}
	const titles = new Set();
	return new Promise((resolve) => {
		let attempts = 0;
		container.scrollTop = 0;
		const interval = setInterval(() => {
			for (const item of container.querySelectorAll('nz-option-item')) {
				titles.add(item.getAttribute('title') || '');
			}
			container.scrollTop += 100;
			attempts++;
			if (container.scrollTop + container.clientHeight >= container.scrollHeight || attempts >= 50) {
				clearInterval(interval);
				container.scrollTop = 0;
				resolve(Array.from(titles));
			}
		}, 100);
	});
}`

// scrollScript nudges the page like a reader would before logging in.
const scrollScript = `() => {
	window.scrollTo(0, 200);
	return new Promise((resolve) => setTimeout(() => { window.scrollTo(0, 0); resolve(true); }, 500));
}`

type Config struct {
	Url      string `json:"url"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// Timings are the pauses the portal needs between steps.
type Timings struct {
	AfterLoad   time.Duration
	AfterLogin  time.Duration
	AfterReload time.Duration
	AfterSearch time.Duration
	AfterClick  time.Duration
	AfterModal  time.Duration
}

var DefaultTimings = Timings{
	AfterLoad:   3 * time.Second,
	AfterLogin:  5 * time.Second,
	AfterReload: 3 * time.Second,
	AfterSearch: 3 * time.Second,
	AfterClick:  time.Second,
	AfterModal:  2 * time.Second,
}

type Adapter struct {
	config  Config
	browser browser.Options
	timings Timings
	tel     telemetry.API
}

func New(config Config, browserOpts browser.Options, tel telemetry.API) (*Adapter, error) {
	assert.NotNil(tel)
	if config.Username == "" || config.Password == "" {
		return nil, ErrNoCredentials
	}
	if config.Url == "" {
		config.Url = DefaultUrl
	}
	return &Adapter{
		config:  config,
		browser: browserOpts,
		timings: DefaultTimings,
		tel:     telemetry.NewScopedAPI("sunarp", tel),
	}, nil
}

// Factory returns a session.Factory producing logged in browsers.
func (a *Adapter) Factory() session.Factory {
	return session.FactoryFunc(func(ctx context.Context, tag string) (session.Session, error) {
		s, err := browser.Launch(ctx, tag, a.browser, a.tel)
		if err != nil {
			return nil, err
		}
		err = a.login(ctx, s)
		if err != nil {
			s.Screenshot(ctx, "login")
			s.Close()
			return nil, fmt.Errorf("login: %w", err)
		}
		return s, nil
	})
}

func (a *Adapter) login(ctx context.Context, s *browser.Session) error {
	err := s.Navigate(ctx, a.config.Url)
	if err != nil {
		return err
	}
	_, err = s.Element(ctx, "//app-root")
	if err != nil {
		return err
	}
	err = browser.Pause(ctx, a.timings.AfterLoad)
	if err != nil {
		return err
	}
	_, err = s.EvalBool(ctx, scrollScript)
	if err != nil {
		return err
	}

	steps := []func() error{
		func() error { return s.Click(ctx, xpathLoginButton) },
		func() error { return browser.Pause(ctx, a.timings.AfterLoad) },
		func() error { return s.Type(ctx, xpathUsername, a.config.Username) },
		func() error { return s.Type(ctx, xpathPassword, a.config.Password) },
		func() error { return s.Click(ctx, xpathLoginSubmit) },
		func() error { return browser.Pause(ctx, a.timings.AfterLogin) },
	}
	for _, step := range steps {
		err = step()
		if err != nil {
			return err
		}
	}
	return nil
}

func wrap(step string, err error) error {
	if errors.Is(err, browser.ErrElementNotFound) {
		return adapter.Wrap(adapter.ReasonElementNotFound, step, err)
	}
	return adapter.Wrap(adapter.ReasonUnexpectedResponse, step, err)
}

func (a *Adapter) Process(ctx context.Context, sess session.Session, item queue.WorkItem) (adapter.Artifact, error) {
	s, ok := sess.(*browser.Session)
	if !ok {
		return nil, adapter.Wrap(adapter.ReasonUnexpectedResponse, "session", fmt.Errorf("unexpected session %T", sess))
	}

	if !s.FirstUse() {
		err := s.Reload(ctx)
		if err != nil {
			return nil, wrap("reload", err)
		}
		err = browser.Pause(ctx, a.timings.AfterReload)
		if err != nil {
			return nil, wrap("reload", err)
		}
	}

	office, known := OfficeForPlate(item.Plate)
	if !known {
		a.tel.ReportWarning(report_adapter_office, "no office for plate, using default", item.Plate, office)
	}

	err := a.selectOffice(ctx, s, office)
	if err != nil {
		s.Screenshot(ctx, "office")
		return nil, wrap("office", err)
	}
	err = a.selectRegistry(ctx, s)
	if err != nil {
		s.Screenshot(ctx, "registry")
		return nil, wrap("registry", err)
	}
	err = a.search(ctx, s, item.Plate)
	if err != nil {
		s.Screenshot(ctx, "search")
		return nil, wrap("search", err)
	}
	rows, err := a.readHistory(ctx, s)
	if err != nil {
		s.Screenshot(ctx, "history")
		return nil, wrap("history", err)
	}

	return &Artifact{
		PlateNumber: strings.ToUpper(strings.TrimSpace(item.Plate)),
		Rows:        rows,
	}, nil
}

func (a *Adapter) pickOption(ctx context.Context, s *browser.Session, title string) error {
	_, err := s.Element(ctx, xpathOptions)
	if err != nil {
		return err
	}
	found, err := s.EvalBool(ctx, selectOptionScript, xpathOptions, title)
	if err != nil {
		return err
	}
	if found {
		return nil
	}

	titles, err := s.EvalStrings(ctx, listOptionsScript, xpathOptions)
	if err != nil {
		return err
	}
	closest, ok := textutil.ClosestMatch(title, titles, officeMatchThreshold)
	if !ok {
		return fmt.Errorf("no option like %q among %d options", title, len(titles))
	}
	found, err = s.EvalBool(ctx, selectOptionScript, xpathOptions, closest)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("option %q disappeared", closest)
	}
	return nil
}

func (a *Adapter) selectOffice(ctx context.Context, s *browser.Session, office string) error {
	err := s.Click(ctx, xpathOfficeInput)
	if err != nil {
		return err
	}
	err = browser.Pause(ctx, a.timings.AfterClick)
	if err != nil {
		return err
	}
	return a.pickOption(ctx, s, office)
}

func (a *Adapter) selectRegistry(ctx context.Context, s *browser.Session) error {
	err := s.Click(ctx, xpathRegistryInput)
	if err != nil {
		return err
	}
	err = browser.Pause(ctx, a.timings.AfterClick)
	if err != nil {
		return err
	}
	return a.pickOption(ctx, s, registryType)
}

func (a *Adapter) search(ctx context.Context, s *browser.Session, plate string) error {
	err := s.Type(ctx, xpathPlateInput, strings.ToUpper(strings.TrimSpace(plate)))
	if err != nil {
		return err
	}
	err = s.Click(ctx, xpathSearchButton)
	if err != nil {
		return err
	}
	err = browser.Pause(ctx, a.timings.AfterSearch)
	if err != nil {
		return err
	}
	err = s.Click(ctx, xpathTableButton)
	if err != nil {
		return err
	}
	return browser.Pause(ctx, a.timings.AfterSearch)
}

// readHistory opens the modal of every history row. A row that cannot be
// read is skipped.
func (a *Adapter) readHistory(ctx context.Context, s *browser.Session) ([]Row, error) {
	body, err := s.Element(ctx, xpathHistoryBody)
	if err != nil {
		return nil, err
	}
	trs, err := body.ElementsX("./tr")
	if err != nil {
		return nil, err
	}

	rows := []Row{}
	for i := range trs {
		row, err := a.readRow(ctx, s, i+1)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			a.tel.ReportWarning(report_adapter_row, err, i+1)
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (a *Adapter) readRow(ctx context.Context, s *browser.Session, index int) (Row, error) {
	clickable := fmt.Sprintf("%s/tr[%d]/td/div[1]/span", xpathHistoryBody, index)
	rowText, err := s.Text(ctx, clickable)
	if err != nil {
		return Row{}, err
	}
	err = s.Click(ctx, clickable)
	if err != nil {
		return Row{}, err
	}
	err = browser.Pause(ctx, a.timings.AfterModal)
	if err != nil {
		return Row{}, err
	}

	row := Row{Text: strings.TrimSpace(rowText)}
	tableHtml, readErr := s.HTML(ctx, xpathModalTable)
	if readErr == nil {
		row.Details, readErr = ParseDetails(tableHtml)
	}

	// the modal has to be closed even when it could not be read, or it
	// covers the next row.
	err = s.Click(ctx, xpathModalClose)
	if err != nil {
		return Row{}, fmt.Errorf("close modal: %w", err)
	}
	if readErr != nil {
		return Row{}, fmt.Errorf("read modal: %w", readErr)
	}
	return row, browser.Pause(ctx, a.timings.AfterClick)
}
