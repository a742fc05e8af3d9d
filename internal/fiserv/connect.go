package fiserv

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/sirupsen/logrus"
)

const (
	DefaultTimezone = "America/Buenos_Aires"

	// txndatetime layout: YYYY:MM:DD-HH:mm:ss
	txnDateTimeLayout = "2006:01:02-15:04:05"

	// oid and merchantTransactionId are rejected by the gateway past this length.
	maxCorrelatorLength = 40
)

// Config is the gateway configuration. It is built once at startup and never
// mutated afterwards.
type Config struct {
	URL          string
	StoreID      string
	SharedSecret string
	Timezone     string

	location *time.Location
}

// NewConfig returns nil, nil when any of url, storeID or secret is empty:
// the gateway is simply not configured.
func NewConfig(url, storeID, secret, timezone string) (*Config, error) {
	url = strings.TrimSpace(url)
	storeID = strings.TrimSpace(storeID)
	secret = strings.TrimSpace(strings.Trim(strings.TrimSpace(secret), `"'`))
	if url == "" || storeID == "" || secret == "" {
		return nil, nil
	}

	timezone = strings.TrimSpace(timezone)
	if timezone == "" {
		timezone = DefaultTimezone
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid gateway timezone %q: %w", timezone, err)
	}

	return &Config{
		URL:          url,
		StoreID:      storeID,
		SharedSecret: secret,
		Timezone:     timezone,
		location:     loc,
	}, nil
}

// Location is the zone txndatetime is expressed in.
func (c *Config) Location() *time.Location {
	if c.location == nil {
		return time.UTC
	}
	return c.location
}

// Builder assembles signed hosted-checkout requests.
type Builder struct {
	cfg    *Config
	now    func() time.Time
	logger logrus.FieldLogger
}

func NewBuilder(cfg *Config, logger logrus.FieldLogger) *Builder {
	return &Builder{
		cfg:    cfg,
		now:    time.Now,
		logger: logger,
	}
}

// WithClock overrides the time source, for tests.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Config returns the gateway configuration or nil when it is not loaded.
func (b *Builder) Config() *Config {
	return b.cfg
}

// GatewayURL is where the browser must POST the form.
func (b *Builder) GatewayURL() string {
	if b.cfg == nil {
		return ""
	}
	return b.cfg.URL
}

// BuildPaymentParams returns the full signed field set, or nil when the
// gateway is not configured.
func (b *Builder) BuildPaymentParams(in BuildInput) PaymentParams {
	if b.cfg == nil {
		b.logger.Warn("fiserv connect not configured, cannot build payment params")
		return nil
	}

	params := PaymentParams{
		FieldTxnType:            TxnTypeSale,
		FieldTimezone:           b.cfg.Timezone,
		FieldTxnDateTime:        FormatTxnDateTime(b.now(), b.cfg.Location()),
		FieldHashAlgorithm:      string(HMACSHA256),
		FieldMode:               ModePayOnly,
		FieldStoreName:          b.cfg.StoreID,
		FieldChargeTotal:        in.Amount.StringFixed(2),
		FieldCurrency:           CurrencyCode(in.Currency),
		FieldResponseFailURL:    in.ResponseFailURL,
		FieldResponseSuccessURL: in.ResponseSuccessURL,
		FieldCheckoutOption:     CheckoutCombinedPage,
	}
	if in.TransactionNotificationURL != "" {
		params[FieldNotificationURL] = in.TransactionNotificationURL
	}
	if in.OrderID != "" {
		params[FieldOrderID] = truncate(in.OrderID, maxCorrelatorLength)
	}
	if in.MerchantTransactionID != "" {
		params[FieldMerchantTransactionID] = truncate(in.MerchantTransactionID, maxCorrelatorLength)
	}

	signature, err := Sign(params, b.cfg.SharedSecret, HMACSHA256)
	if err != nil {
		// HMACSHA256 is always supported.
		b.logger.WithError(err).Error("fiserv connect: signing failed")
		return nil
	}
	params[FieldHashExtended] = signature

	b.logger.WithFields(logrus.Fields{
		"storename":   params[FieldStoreName],
		"chargetotal": params[FieldChargeTotal],
		"currency":    params[FieldCurrency],
		"currency_in": in.Currency,
		"oid":         params[FieldOrderID],
		"txndatetime": params[FieldTxnDateTime],
	}).Debug("fiserv connect params built")

	return params
}

// FormatTxnDateTime renders t in loc using the gateway's YYYY:MM:DD-HH:mm:ss layout.
func FormatTxnDateTime(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(txnDateTimeLayout)
}

var numericCurrency = regexp.MustCompile(`^\d+$`)

var currencyCodes = map[string]string{
	"ARS": "032",
	"UYU": "858",
	"USD": "840",
}

// CurrencyCode converts an alphabetic ISO 4217 code to the numeric code the
// gateway expects. Numeric input and unknown codes are returned unchanged.
func CurrencyCode(currency string) string {
	if numericCurrency.MatchString(currency) {
		return currency
	}
	if code, ok := currencyCodes[strings.ToUpper(currency)]; ok {
		return code
	}
	return currency
}

// CurrencyAlpha is the reverse of CurrencyCode. Unknown numeric codes are
// returned unchanged; alphabetic input is upper-cased.
func CurrencyAlpha(currency string) string {
	if !numericCurrency.MatchString(currency) {
		return strings.ToUpper(currency)
	}
	for alpha, code := range currencyCodes {
		if code == currency {
			return alpha
		}
	}
	return currency
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
