// Package emailcheck decides whether an address is worth sending a
// verification code to.
//
// Two layers:
//   - ValidFormat, a local regular expression every address must match.
//   - Checker, an optional deliverability probe against mailboxlayer
//     (MX lookup, SMTP probe, disposable-domain list).
//
// The remote probe is best effort. A missing API key, a transport error or a
// malformed response all count as "deliverable", because refusing to register
// people while a third-party API is down is worse than a bounced code.
package emailcheck

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"time"

	"github.com/go-resty/resty/v2"
)

var emailPattern = regexp.MustCompile(`^[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}$`)

// ValidFormat reports whether email matches the accepted address syntax.
func ValidFormat(email string) bool {
	return emailPattern.MatchString(email)
}

// ErrUndeliverable is returned when the probe says the address cannot
// receive mail.
var ErrUndeliverable = errors.New("emailcheck: address is not deliverable")

// Checker verifies deliverability. A nil error means "go ahead".
type Checker interface {
	Check(ctx context.Context, email string) error
}

// NoopChecker accepts every address. Used when no API key is configured and
// in dev mode.
type NoopChecker struct{}

func (NoopChecker) Check(context.Context, string) error { return nil }

// mailboxlayerResult is the subset of the /api/check response we read.
type mailboxlayerResult struct {
	FormatValid bool `json:"format_valid"`
	MXFound     bool `json:"mx_found"`
	SMTPCheck   bool `json:"smtp_check"`
	Disposable  bool `json:"disposable"`
	// Set instead of the fields above when the request itself failed,
	// e.g. an invalid access key or an exhausted quota.
	Success *bool `json:"success"`
	Error   *struct {
		Code int    `json:"code"`
		Type string `json:"type"`
		Info string `json:"info"`
	} `json:"error"`
}

// Mailboxlayer calls the mailboxlayer.com check endpoint.
type Mailboxlayer struct {
	client *resty.Client
	apiKey string
	logger *slog.Logger
}

// NewMailboxlayer creates a client for baseURL (normally http://apilayer.net).
func NewMailboxlayer(baseURL, apiKey string, timeout time.Duration, logger *slog.Logger) *Mailboxlayer {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")

	return &Mailboxlayer{client: client, apiKey: apiKey, logger: logger}
}

// Check returns ErrUndeliverable when mailboxlayer reports a bad format, no
// MX record, a failed SMTP probe or a disposable domain. Any other failure is
// logged and treated as deliverable.
func (m *Mailboxlayer) Check(ctx context.Context, email string) error {
	var result mailboxlayerResult
	resp, err := m.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"access_key": m.apiKey,
			"email":      email,
			"smtp":       "1",
			"format":     "1",
		}).
		SetResult(&result).
		Get("/api/check")
	if err != nil {
		m.logger.Warn("mailboxlayer unreachable, skipping check", "error", err)
		return nil
	}
	if resp.IsError() {
		m.logger.Warn("mailboxlayer returned an error status, skipping check", "status", resp.StatusCode())
		return nil
	}
	if result.Success != nil && !*result.Success {
		info := ""
		if result.Error != nil {
			info = result.Error.Info
		}
		m.logger.Warn("mailboxlayer request rejected, skipping check", "info", info)
		return nil
	}

	if !result.FormatValid || !result.MXFound || !result.SMTPCheck || result.Disposable {
		m.logger.Info("email rejected by deliverability check",
			"format_valid", result.FormatValid,
			"mx_found", result.MXFound,
			"smtp_check", result.SMTPCheck,
			"disposable", result.Disposable,
		)
		return ErrUndeliverable
	}
	return nil
}

// New picks the checker for the configuration: the remote probe when a key
// is present and dev mode is off, otherwise NoopChecker.
func New(baseURL, apiKey string, timeout time.Duration, devMode bool, logger *slog.Logger) Checker {
	if apiKey == "" || devMode {
		return NoopChecker{}
	}
	return NewMailboxlayer(baseURL, apiKey, timeout, logger)
}
