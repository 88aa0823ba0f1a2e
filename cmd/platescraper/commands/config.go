package commands

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"

	"platescraper/internal/backend"
	"platescraper/internal/browser"
	"platescraper/internal/captcha"
	"platescraper/internal/driver"
	"platescraper/internal/notify"
	"platescraper/internal/sites/multas"
	"platescraper/internal/sites/sunarp"
	"platescraper/lib/configutil"
	"platescraper/lib/restyutil"
	"platescraper/lib/telemetry"
)

type BackendConfig struct {
	BaseUrl           string              `json:"base_url"`
	Timeout           configutil.Duration `json:"timeout"`
	UploadTimeout     configutil.Duration `json:"upload_timeout"`
	RequestsPerSecond float64             `json:"requests_per_second"`
}

type CaptchaConfig struct {
	BaseUrl      string              `json:"base_url"`
	Username     string              `json:"username"`
	Password     string              `json:"password"`
	PollInterval configutil.Duration `json:"poll_interval"`
	Timeout      configutil.Duration `json:"timeout"`
}

func (c CaptchaConfig) Enabled() bool {
	return c.Username != "" && c.Password != ""
}

type BrowserConfig struct {
	Headless       bool                `json:"headless"`
	Bin            string              `json:"bin"`
	Width          int                 `json:"width"`
	Height         int                 `json:"height"`
	TypingDelay    configutil.Duration `json:"typing_delay"`
	ElementTimeout configutil.Duration `json:"element_timeout"`
}

type DriverConfig struct {
	EmptyQueueDelay    configutil.Duration `json:"empty_queue_delay"`
	UnavailableDelay   configutil.Duration `json:"unavailable_delay"`
	FailureDelay       configutil.Duration `json:"failure_delay"`
	SessionRetryDelay  configutil.Duration `json:"session_retry_delay"`
	MaxSessionAttempts int                 `json:"max_session_attempts"`
	ItemTimeout        configutil.Duration `json:"item_timeout"`
	SessionTimeout     configutil.Duration `json:"session_timeout"`
}

type MultasConfig struct {
	Timeout           configutil.Duration `json:"timeout"`
	RequestsPerSecond float64             `json:"requests_per_second"`
}

type JournalConfig struct {
	Path string `json:"path"`
	// Retention is how long runs are kept, 0 means 30 days.
	Retention configutil.Duration `json:"retention"`
	// DigestCron is when the summary mail is sent, empty means every day at
	// 8:00 Peruvian time.
	DigestCron string `json:"digest_cron"`
}

type Config struct {
	Backend   BackendConfig     `json:"backend"`
	Captcha   CaptchaConfig     `json:"captcha"`
	Browser   BrowserConfig     `json:"browser"`
	Driver    DriverConfig      `json:"driver"`
	Sunarp    sunarp.Config     `json:"sunarp"`
	Multas    MultasConfig      `json:"multas"`
	Journal   JournalConfig     `json:"journal"`
	Notify    notify.SmtpConfig `json:"notify"`
	Telemetry telemetry.Config  `json:"telemetry"`
	// Urls overrides the page scraped by a source, keyed by source code.
	Urls map[string]string `json:"urls"`
	// DebugDir receives screenshots of failed steps, one directory per
	// source.
	DebugDir string `json:"debug_dir"`
}

const defaultJournalPath = ".dev/journal.db"

// readConfig reads path and applies the credential environment overrides. A
// missing file is not an error when the environment provides the rest.
func readConfig(path string) (Config, error) {
	cfg, err := configutil.ReadConfig[Config](path)
	if errors.Is(err, os.ErrNotExist) {
		slog.Warn("config file not found, using defaults", "path", path)
		err = nil
	}
	if err != nil {
		return Config{}, err
	}

	configutil.EnvOverride(&cfg.Backend.BaseUrl, "BACKEND_BASE_URL")
	configutil.EnvOverride(&cfg.Captcha.Username, "DBC_USERNAME")
	configutil.EnvOverride(&cfg.Captcha.Password, "DBC_PASSWORD")
	configutil.EnvOverride(&cfg.Sunarp.Username, "SUNARP_USERNAME")
	configutil.EnvOverride(&cfg.Sunarp.Password, "SUNARP_PASSWORD")

	if cfg.Journal.Path == "" {
		cfg.Journal.Path = defaultJournalPath
	}
	return cfg, nil
}

func (c Config) backendOptions(debug restyutil.InstrumentOutput) backend.Options {
	return backend.Options{
		BaseUrl:           c.Backend.BaseUrl,
		Timeout:           c.Backend.Timeout.Std(),
		UploadTimeout:     c.Backend.UploadTimeout.Std(),
		RequestsPerSecond: c.Backend.RequestsPerSecond,
		DebugOutput:       debug,
	}
}

func (c Config) captchaOptions(debug restyutil.InstrumentOutput) captcha.Options {
	return captcha.Options{
		BaseUrl:      c.Captcha.BaseUrl,
		Username:     c.Captcha.Username,
		Password:     c.Captcha.Password,
		PollInterval: c.Captcha.PollInterval.Std(),
		Timeout:      c.Captcha.Timeout.Std(),
		DebugOutput:  debug,
	}
}

func (c Config) browserOptions(source string) browser.Options {
	opts := browser.Options{
		Headless:       c.Browser.Headless,
		Bin:            c.Browser.Bin,
		Width:          c.Browser.Width,
		Height:         c.Browser.Height,
		TypingDelay:    c.Browser.TypingDelay.Std(),
		ElementTimeout: c.Browser.ElementTimeout.Std(),
	}
	if c.DebugDir != "" {
		opts.ScreenshotDir = filepath.Join(c.DebugDir, source)
	}
	return opts
}

func (c Config) multasOptions(debug restyutil.InstrumentOutput) multas.Options {
	return multas.Options{
		Timeout:           c.Multas.Timeout.Std(),
		RequestsPerSecond: c.Multas.RequestsPerSecond,
		DebugOutput:       debug,
	}
}

func (c Config) driverConfig(source string, perItemSession, once bool) driver.Config {
	return driver.Config{
		Source:             source,
		EmptyQueueDelay:    c.Driver.EmptyQueueDelay.Std(),
		UnavailableDelay:   c.Driver.UnavailableDelay.Std(),
		FailureDelay:       c.Driver.FailureDelay.Std(),
		SessionRetryDelay:  c.Driver.SessionRetryDelay.Std(),
		MaxSessionAttempts: c.Driver.MaxSessionAttempts,
		ItemTimeout:        c.Driver.ItemTimeout.Std(),
		SessionTimeout:     c.Driver.SessionTimeout.Std(),
		PerItemSession:     perItemSession,
		Once:               once,
	}
}

// debugOutput returns where the HTTP exchanges of name are dumped, nil when
// not verbose.
func debugOutput(name string) restyutil.InstrumentOutput {
	if !*verbose {
		return nil
	}
	out, err := restyutil.NewFilesystemOutput(filepath.Join(".dev/resty", name))
	if err != nil {
		slog.Warn("http dumps disabled", "name", name, "err", err)
		return nil
	}
	return out
}
