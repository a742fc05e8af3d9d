package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"triple-impacto/internal/apperr"
	"triple-impacto/internal/fiserv"
	"triple-impacto/internal/models"
	"triple-impacto/internal/store"
)

const (
	testSecret      = "s3cr3t-shared"
	testStore       = "store-1"
	testTxnDateTime = "2026:10:15-12:00:00"
)

type memLedger struct {
	mu        sync.Mutex
	attempts  map[string]*models.PaymentAttempt
	donations []*models.Donation
}

func newMemLedger() *memLedger {
	return &memLedger{attempts: map[string]*models.PaymentAttempt{}}
}

func (l *memLedger) add(a models.PaymentAttempt) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if a.ID == "" {
		a.ID = "attempt-" + a.OrderID
	}
	if a.Status == "" {
		a.Status = models.AttemptPending
	}
	l.attempts[a.OrderID] = &a
}

func (l *memLedger) get(orderID string) models.PaymentAttempt {
	l.mu.Lock()
	defer l.mu.Unlock()
	return *l.attempts[orderID]
}

func (l *memLedger) donationCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.donations)
}

func (l *memLedger) CreateAttempt(_ context.Context, a *models.PaymentAttempt) error {
	l.add(*a)
	return nil
}

func (l *memLedger) FindAttemptByOrderID(_ context.Context, orderID string) (*models.PaymentAttempt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.attempts[orderID]
	if !ok {
		return nil, fmt.Errorf("payment attempt: %w", apperr.ErrNotFound)
	}
	cp := *a
	return &cp, nil
}

func (l *memLedger) Settle(_ context.Context, st store.Settlement) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, a := range l.attempts {
		if a.ID != st.AttemptID {
			continue
		}
		if a.Status != models.AttemptPending {
			return false, nil
		}
		now := time.Now()
		a.Status = models.AttemptCompleted
		a.RawGatewayResponse = st.RawResponse
		a.CompletedAt = &now
		if st.Donation != nil {
			l.donations = append(l.donations, st.Donation)
		}
		return true, nil
	}
	return false, nil
}

type memOrgs map[string]*models.Organization

func (m memOrgs) FindOrganization(_ context.Context, id string) (*models.Organization, error) {
	if org, ok := m[id]; ok {
		return org, nil
	}
	return nil, fmt.Errorf("organization: %w", apperr.ErrNotFound)
}

type provisionCall struct {
	userID, orgID string
	hasDeadline   bool
}

type recordingProvisioner struct {
	mu    sync.Mutex
	calls []provisionCall
}

func (p *recordingProvisioner) Provision(ctx context.Context, userID, orgID string) {
	_, ok := ctx.Deadline()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, provisionCall{userID: userID, orgID: orgID, hasDeadline: ok})
}

func (p *recordingProvisioner) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

type stubGuard struct {
	ok  bool
	err error
}

func (g stubGuard) Acquire(context.Context, string) (string, bool, error) { return "t", g.ok, g.err }

func (g stubGuard) Release(context.Context, string, string) error { return nil }

func minimum(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

type fixture struct {
	svc    *Service
	ledger *memLedger
	prov   *recordingProvisioner
}

func newFixture(t *testing.T, configured bool, guard Guard) *fixture {
	t.Helper()
	logger, _ := test.NewNullLogger()

	var cfg *fiserv.Config
	if configured {
		var err error
		cfg, err = fiserv.NewConfig("https://gateway.example/connect", testStore, testSecret, "")
		require.NoError(t, err)
	}

	ledger := newMemLedger()
	orgs := memOrgs{
		"org-1": {ID: "org-1", Name: "Fundación Padres", MinimumAmount: minimum("1000"), Active: true},
		"org-2": {ID: "org-2", Name: "Sin mínimo", Active: true},
	}
	prov := &recordingProvisioner{}
	builder := fiserv.NewBuilder(cfg, logger)

	svc := NewService(ledger, orgs, builder, prov, guard, "https://api.example/api/payments/fiserv/notification", logger)
	return &fixture{svc: svc, ledger: ledger, prov: prov}
}

func notificationHash(total, currency, approval string) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write([]byte(total + "|" + currency + "|" + testTxnDateTime + "|" + testStore + "|" + approval))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func signedNotification(orderID, total, currency, approval string) url.Values {
	return url.Values{
		"oid":               {orderID},
		"chargetotal":       {total},
		"currency":          {currency},
		"txndatetime":       {testTxnDateTime},
		"storename":         {testStore},
		"approval_code":     {approval},
		"ipgTransactionId":  {"84000012345"},
		"notification_hash": {notificationHash(total, currency, approval)},
	}
}

func orgID(s string) *string { return &s }

func pendingAttempt() models.PaymentAttempt {
	return models.PaymentAttempt{
		OrderID:        "abc-123",
		UserID:         "user-1",
		OrganizationID: orgID("org-1"),
		Amount:         decimal.RequireFromString("5000.00"),
		Currency:       "ARS",
	}
}

func TestCreateTransaction_Success(t *testing.T) {
	f := newFixture(t, true, nil)

	resp, err := f.svc.CreateTransaction(context.Background(), "user-1", CreateTransactionRequest{
		Amount:             decimal.RequireFromString("5000"),
		OrganizationID:     "org-1",
		ResponseSuccessURL: "https://app.example/donar/success",
		ResponseFailURL:    "https://app.example/donar/error",
	})
	require.NoError(t, err)

	assert.Equal(t, "https://gateway.example/connect", resp.GatewayURL)
	require.NotEmpty(t, resp.OrderID)
	assert.Equal(t, resp.OrderID, resp.FormParams[fiserv.FieldOrderID])
	assert.Equal(t, resp.OrderID, resp.FormParams[fiserv.FieldMerchantTransactionID])
	assert.Equal(t, "5000.00", resp.FormParams[fiserv.FieldChargeTotal])
	assert.Equal(t, "032", resp.FormParams[fiserv.FieldCurrency])
	assert.Equal(t, "https://api.example/api/payments/fiserv/notification", resp.FormParams[fiserv.FieldNotificationURL])
	assert.NotEmpty(t, resp.FormParams[fiserv.FieldHashExtended])

	attempt := f.ledger.get(resp.OrderID)
	assert.Equal(t, models.AttemptPending, attempt.Status)
	assert.Equal(t, "user-1", attempt.UserID)
	assert.Equal(t, "ARS", attempt.Currency)
	assert.Equal(t, testStore, attempt.StoreID)
	require.NotNil(t, attempt.OrganizationID)
	assert.Equal(t, "org-1", *attempt.OrganizationID)
	assert.True(t, attempt.Amount.Equal(decimal.RequireFromString("5000")))
}

func TestCreateTransaction_ExplicitNotificationURLWins(t *testing.T) {
	f := newFixture(t, true, nil)

	resp, err := f.svc.CreateTransaction(context.Background(), "user-1", CreateTransactionRequest{
		Amount:                     decimal.NewFromInt(10),
		Currency:                   "usd",
		ResponseSuccessURL:         "https://s.example",
		ResponseFailURL:            "https://f.example",
		TransactionNotificationURL: "https://hooks.example/fiserv",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://hooks.example/fiserv", resp.FormParams[fiserv.FieldNotificationURL])
	assert.Equal(t, "840", resp.FormParams[fiserv.FieldCurrency])
	assert.Equal(t, "USD", f.ledger.get(resp.OrderID).Currency)
}

func TestCreateTransaction_Rejections(t *testing.T) {
	t.Parallel()

	valid := CreateTransactionRequest{
		Amount:             decimal.NewFromInt(1500),
		ResponseSuccessURL: "https://s.example",
		ResponseFailURL:    "https://f.example",
	}

	tests := []struct {
		name       string
		userID     string
		configured bool
		noDefault  bool
		mutate     func(r *CreateTransactionRequest)
		wantErr    error
	}{
		{name: "no_user", userID: "", configured: true, wantErr: apperr.ErrUnauthenticated},
		{name: "zero_amount", userID: "u", configured: true, mutate: func(r *CreateTransactionRequest) { r.Amount = decimal.Zero }, wantErr: apperr.ErrInvalidRequest},
		{name: "negative_amount", userID: "u", configured: true, mutate: func(r *CreateTransactionRequest) { r.Amount = decimal.NewFromInt(-5) }, wantErr: apperr.ErrInvalidRequest},
		{name: "bad_success_url", userID: "u", configured: true, mutate: func(r *CreateTransactionRequest) { r.ResponseSuccessURL = "not a url" }, wantErr: apperr.ErrInvalidRequest},
		{name: "not_configured", userID: "u", configured: false, wantErr: apperr.ErrGatewayNotConfigured},
		{name: "no_notification_url", userID: "u", configured: true, noDefault: true, wantErr: apperr.ErrInvalidRequest},
		{name: "below_minimum", userID: "u", configured: true, mutate: func(r *CreateTransactionRequest) { r.OrganizationID = "org-1"; r.Amount = decimal.NewFromInt(999) }, wantErr: apperr.ErrBelowMinimumAmount},
		{name: "unknown_org", userID: "u", configured: true, mutate: func(r *CreateTransactionRequest) { r.OrganizationID = "nope" }, wantErr: apperr.ErrInvalidRequest},
		{name: "long_currency", userID: "u", configured: true, mutate: func(r *CreateTransactionRequest) { r.Currency = "ARSX" }, wantErr: apperr.ErrInvalidRequest},
		{name: "short_currency", userID: "u", configured: true, mutate: func(r *CreateTransactionRequest) { r.Currency = "AR" }, wantErr: apperr.ErrInvalidRequest},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, tt.configured, nil)
			if tt.noDefault {
				f.svc.notificationURL = ""
			}
			req := valid
			if tt.mutate != nil {
				tt.mutate(&req)
			}

			resp, err := f.svc.CreateTransaction(context.Background(), tt.userID, req)
			require.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, resp)
			assert.Empty(t, f.ledger.attempts)
		})
	}
}

func TestCreateTransaction_NoMinimumAllowsSmallAmounts(t *testing.T) {
	f := newFixture(t, true, nil)

	_, err := f.svc.CreateTransaction(context.Background(), "u", CreateTransactionRequest{
		Amount:             decimal.RequireFromString("0.01"),
		OrganizationID:     "org-2",
		ResponseSuccessURL: "https://s.example",
		ResponseFailURL:    "https://f.example",
	})
	require.NoError(t, err)
}

func TestHandleNotification_SettlesAndRecordsDonation(t *testing.T) {
	f := newFixture(t, true, nil)
	f.ledger.add(pendingAttempt())

	form := signedNotification("abc-123", "5000.00", "032", "OK200")
	require.NoError(t, f.svc.HandleNotification(context.Background(), form))

	attempt := f.ledger.get("abc-123")
	assert.Equal(t, models.AttemptCompleted, attempt.Status)
	assert.NotNil(t, attempt.CompletedAt)

	var raw map[string][]string
	require.NoError(t, json.Unmarshal(attempt.RawGatewayResponse, &raw))
	assert.Equal(t, []string{"OK200"}, raw["approval_code"])

	require.Equal(t, 1, f.ledger.donationCount())
	d := f.ledger.donations[0]
	assert.True(t, d.Amount.Equal(decimal.RequireFromString("5000")))
	assert.Equal(t, "ARS", d.Currency)
	assert.Equal(t, "user-1", d.UserID)
	assert.Equal(t, "abc-123", d.OrderID)
	assert.Equal(t, models.PaymentMethodCard, d.PaymentMethod)
	assert.Equal(t, models.DonationCompleted, d.Status)
	assert.Equal(t, "Fundación Padres", d.OrganizationName)
	assert.Equal(t, "84000012345", d.PaymentID)
	assert.Equal(t, "OK200", d.PaymentStatus)

	require.Equal(t, 1, f.prov.count())
	assert.Equal(t, provisionCall{userID: "user-1", orgID: "org-1", hasDeadline: true}, f.prov.calls[0])
}

func TestHandleNotification_TamperedAmountIsRejected(t *testing.T) {
	f := newFixture(t, true, nil)
	f.ledger.add(pendingAttempt())

	form := signedNotification("abc-123", "5000.00", "032", "OK200")
	form.Set("chargetotal", "1.00")

	err := f.svc.HandleNotification(context.Background(), form)
	require.ErrorIs(t, err, apperr.ErrInvalidSignature)

	assert.Equal(t, models.AttemptPending, f.ledger.get("abc-123").Status)
	assert.Zero(t, f.ledger.donationCount())
	assert.Zero(t, f.prov.count())
}

func TestHandleNotification_DuplicateDeliveryIsNoop(t *testing.T) {
	f := newFixture(t, true, nil)
	f.ledger.add(pendingAttempt())
	form := signedNotification("abc-123", "5000.00", "032", "OK200")

	require.NoError(t, f.svc.HandleNotification(context.Background(), form))
	require.NoError(t, f.svc.HandleNotification(context.Background(), form))

	assert.Equal(t, 1, f.ledger.donationCount())
	assert.Equal(t, 1, f.prov.count())
}

func TestHandleNotification_AlreadyCompletedSkipsProvisioning(t *testing.T) {
	f := newFixture(t, true, nil)
	a := pendingAttempt()
	a.Status = models.AttemptCompleted
	f.ledger.add(a)

	require.NoError(t, f.svc.HandleNotification(context.Background(), signedNotification("abc-123", "5000.00", "032", "OK200")))

	assert.Zero(t, f.ledger.donationCount())
	assert.Zero(t, f.prov.count())
}

func TestHandleNotification_IgnoredDeliveries(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		form func() url.Values
	}{
		{name: "missing_approval_code", form: func() url.Values {
			f := signedNotification("abc-123", "5000.00", "032", "OK200")
			f.Del("approval_code")
			return f
		}},
		{name: "missing_order_id", form: func() url.Values {
			f := signedNotification("abc-123", "5000.00", "032", "OK200")
			f.Del("oid")
			return f
		}},
		{name: "missing_signature", form: func() url.Values {
			f := signedNotification("abc-123", "5000.00", "032", "OK200")
			f.Del("notification_hash")
			return f
		}},
		{name: "unknown_order", form: func() url.Values {
			return signedNotification("other-order", "5000.00", "032", "OK200")
		}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, true, nil)
			f.ledger.add(pendingAttempt())

			require.NoError(t, f.svc.HandleNotification(context.Background(), tt.form()))
			assert.Equal(t, models.AttemptPending, f.ledger.get("abc-123").Status)
			assert.Zero(t, f.ledger.donationCount())
			assert.Zero(t, f.prov.count())
		})
	}
}

func TestHandleNotification_MerchantTransactionIDFallback(t *testing.T) {
	f := newFixture(t, true, nil)
	f.ledger.add(pendingAttempt())

	form := signedNotification("abc-123", "5000.00", "032", "OK200")
	form.Del("oid")
	form.Set("merchantTransactionId", "abc-123")

	require.NoError(t, f.svc.HandleNotification(context.Background(), form))
	assert.Equal(t, models.AttemptCompleted, f.ledger.get("abc-123").Status)
}

func TestHandleNotification_GatewayNotConfigured(t *testing.T) {
	f := newFixture(t, false, nil)
	f.ledger.add(pendingAttempt())

	err := f.svc.HandleNotification(context.Background(), signedNotification("abc-123", "5000.00", "032", "OK200"))
	require.ErrorIs(t, err, apperr.ErrGatewayNotConfigured)
	assert.Zero(t, f.ledger.donationCount())
}

func TestHandleNotification_GuardHeldByAnotherDelivery(t *testing.T) {
	f := newFixture(t, true, stubGuard{ok: false})
	f.ledger.add(pendingAttempt())

	err := f.svc.HandleNotification(context.Background(), signedNotification("abc-123", "5000.00", "032", "OK200"))
	require.ErrorIs(t, err, apperr.ErrDeliveryInProgress)
	assert.Equal(t, models.AttemptPending, f.ledger.get("abc-123").Status)
}

func TestHandleNotification_GuardErrorFailsOpen(t *testing.T) {
	f := newFixture(t, true, stubGuard{err: errors.New("redis down")})
	f.ledger.add(pendingAttempt())

	require.NoError(t, f.svc.HandleNotification(context.Background(), signedNotification("abc-123", "5000.00", "032", "OK200")))
	assert.Equal(t, models.AttemptCompleted, f.ledger.get("abc-123").Status)
}

func TestHandleNotification_ConcurrentDeliveriesSettleOnce(t *testing.T) {
	f := newFixture(t, true, nil)
	f.ledger.add(pendingAttempt())
	form := signedNotification("abc-123", "5000.00", "032", "OK200")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, f.svc.HandleNotification(context.Background(), form))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, f.ledger.donationCount())
	assert.Equal(t, 1, f.prov.count())
}

func TestHandleNotification_DonationFallsBackToAttempt(t *testing.T) {
	f := newFixture(t, true, nil)
	a := pendingAttempt()
	a.OrganizationID = nil
	a.Currency = "UYU"
	f.ledger.add(a)

	form := signedNotification("abc-123", "", "", "OK200")
	require.NoError(t, f.svc.HandleNotification(context.Background(), form))

	require.Equal(t, 1, f.ledger.donationCount())
	d := f.ledger.donations[0]
	assert.True(t, d.Amount.Equal(decimal.RequireFromString("5000")))
	assert.Equal(t, "UYU", d.Currency)
	assert.Empty(t, d.OrganizationName)
	assert.Zero(t, f.prov.count())
}

func TestDescribeReturn(t *testing.T) {
	f := newFixture(t, true, nil)
	f.ledger.add(pendingAttempt())

	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write([]byte("OK200|5000.00|032|" + testTxnDateTime + "|" + testStore))
	sig := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	view := f.svc.DescribeReturn(context.Background(), url.Values{
		"oid":           {"abc-123"},
		"approval_code": {"OK200"},
		"chargetotal":   {"5000.00"},
		"currency":      {"032"},
		"txndatetime":   {testTxnDateTime},
		"storename":     {testStore},
		"response_hash": {sig},
	})

	assert.Equal(t, ReturnSuccess, view.Status)
	assert.Equal(t, "abc-123", view.OrderID)
	assert.Equal(t, string(models.AttemptPending), view.AttemptStatus)
	require.NotNil(t, view.SignatureVerified)
	assert.True(t, *view.SignatureVerified)

	assert.Equal(t, models.AttemptPending, f.ledger.get("abc-123").Status)
	assert.Zero(t, f.ledger.donationCount())
}

func TestDescribeReturn_Failed(t *testing.T) {
	f := newFixture(t, true, nil)

	view := f.svc.DescribeReturn(context.Background(), url.Values{
		"oid":           {"abc-123"},
		"fail_reason":   {"Declined"},
		"response_hash": {"bogus"},
	})

	assert.Equal(t, ReturnFailed, view.Status)
	assert.Equal(t, "Declined", view.FailReason)
	assert.Empty(t, view.AttemptStatus)
	require.NotNil(t, view.SignatureVerified)
	assert.False(t, *view.SignatureVerified)
}
