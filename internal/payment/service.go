// Package payment creates hosted-checkout transactions and settles them from
// the gateway's server-to-server notifications.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"triple-impacto/internal/apperr"
	"triple-impacto/internal/fiserv"
	"triple-impacto/internal/models"
	"triple-impacto/internal/store"
)

const defaultProvisionTimeout = 15 * time.Second

type Ledger interface {
	CreateAttempt(ctx context.Context, attempt *models.PaymentAttempt) error
	FindAttemptByOrderID(ctx context.Context, orderID string) (*models.PaymentAttempt, error)
	Settle(ctx context.Context, st store.Settlement) (bool, error)
}

type Organizations interface {
	FindOrganization(ctx context.Context, id string) (*models.Organization, error)
}

// Provisioner registers the donor with the organization's coupon vendor.
// It handles its own failures.
type Provisioner interface {
	Provision(ctx context.Context, userID, organizationID string)
}

type Service struct {
	ledger          Ledger
	orgs            Organizations
	builder         *fiserv.Builder
	affiliates      Provisioner
	guard           Guard
	notificationURL string
	logger          logrus.FieldLogger

	ProvisionTimeout time.Duration
}

func NewService(ledger Ledger, orgs Organizations, builder *fiserv.Builder, affiliates Provisioner, guard Guard, notificationURL string, logger logrus.FieldLogger) *Service {
	if guard == nil {
		guard = NopGuard{}
	}
	return &Service{
		ledger:           ledger,
		orgs:             orgs,
		builder:          builder,
		affiliates:       affiliates,
		guard:            guard,
		notificationURL:  notificationURL,
		logger:           logger,
		ProvisionTimeout: defaultProvisionTimeout,
	}
}

// CreateTransaction records a pending attempt and returns the signed form
// the browser must POST to the gateway.
func (s *Service) CreateTransaction(ctx context.Context, userID string, req CreateTransactionRequest) (*CreateTransactionResponse, error) {
	if userID == "" {
		return nil, apperr.ErrUnauthenticated
	}
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be greater than 0", apperr.ErrInvalidRequest)
	}
	if !validURL(req.ResponseSuccessURL) || !validURL(req.ResponseFailURL) {
		return nil, fmt.Errorf("%w: responseSuccessURL and responseFailURL must be valid URLs", apperr.ErrInvalidRequest)
	}

	cfg := s.builder.Config()
	if cfg == nil {
		return nil, apperr.ErrGatewayNotConfigured
	}

	notificationURL := req.TransactionNotificationURL
	if notificationURL == "" {
		notificationURL = s.notificationURL
	}
	if !validURL(notificationURL) {
		return nil, fmt.Errorf("%w: transactionNotificationURL is required when API_BASE_URL is not set", apperr.ErrInvalidRequest)
	}

	var orgID *string
	if req.OrganizationID != "" {
		org, err := s.orgs.FindOrganization(ctx, req.OrganizationID)
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown organization", apperr.ErrInvalidRequest)
		}
		if err != nil {
			return nil, err
		}
		if org.MinimumAmount != nil && req.Amount.LessThan(*org.MinimumAmount) {
			return nil, fmt.Errorf("%w: minimum for this organization is %s", apperr.ErrBelowMinimumAmount, org.MinimumAmount.StringFixed(2))
		}
		orgID = &org.ID
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = defaultCurrency
	}
	if len(currency) != 3 {
		return nil, fmt.Errorf("%w: currency must be a 3-letter code", apperr.ErrInvalidRequest)
	}

	orderID := uuid.NewString()
	attempt := &models.PaymentAttempt{
		OrderID:        orderID,
		UserID:         userID,
		OrganizationID: orgID,
		Amount:         req.Amount.Round(2),
		Currency:       currency,
		StoreID:        cfg.StoreID,
		Installments:   1,
		Status:         models.AttemptPending,
	}
	if err := s.ledger.CreateAttempt(ctx, attempt); err != nil {
		return nil, err
	}

	params := s.builder.BuildPaymentParams(fiserv.BuildInput{
		Amount:                     req.Amount,
		Currency:                   currency,
		ResponseSuccessURL:         req.ResponseSuccessURL,
		ResponseFailURL:            req.ResponseFailURL,
		TransactionNotificationURL: notificationURL,
		OrderID:                    orderID,
		MerchantTransactionID:      orderID,
	})
	if params == nil {
		return nil, errors.New("failed to build payment params")
	}

	s.logger.WithFields(logrus.Fields{
		"user_id":  userID,
		"order_id": orderID,
		"amount":   attempt.Amount.StringFixed(2),
		"currency": currency,
	}).Info("transaction prepared")

	return &CreateTransactionResponse{
		GatewayURL: s.builder.GatewayURL(),
		FormParams: params,
		OrderID:    orderID,
	}, nil
}

// HandleNotification verifies a gateway notification and settles the
// matching attempt at most once. Notifications the gateway sends for
// declined or unknown orders are ignored without error.
func (s *Service) HandleNotification(ctx context.Context, form url.Values) error {
	n := fiserv.ParseNotification(form)
	log := s.logger.WithField("order_id", n.OrderID)

	if n.ApprovalCode == "" || n.OrderID == "" {
		log.Warn("fiserv notification without approval_code or oid, ignoring")
		return nil
	}

	cfg := s.builder.Config()
	if cfg == nil {
		log.Error("fiserv notification received but gateway is not configured")
		return apperr.ErrGatewayNotConfigured
	}

	if n.Signature == "" {
		log.Warn("fiserv notification without notification_hash, ignoring")
		return nil
	}
	if !n.Verify(cfg.SharedSecret) {
		log.Warn("fiserv notification with invalid hash")
		return apperr.ErrInvalidSignature
	}

	token, acquired, err := s.guard.Acquire(ctx, n.OrderID)
	switch {
	case err != nil:
		log.WithError(err).Warn("delivery guard unavailable, continuing")
	case !acquired:
		log.Info("fiserv notification already being processed")
		return apperr.ErrDeliveryInProgress
	default:
		defer func() {
			if err := s.guard.Release(context.WithoutCancel(ctx), n.OrderID, token); err != nil {
				log.WithError(err).Warn("failed to release delivery guard")
			}
		}()
	}

	attempt, err := s.ledger.FindAttemptByOrderID(ctx, n.OrderID)
	if errors.Is(err, apperr.ErrNotFound) {
		log.Warn("payment attempt not found for notification")
		return nil
	}
	if err != nil {
		return err
	}
	if attempt.IsCompleted() {
		log.WithField("attempt_id", attempt.ID).Info("payment attempt already completed")
		return nil
	}

	raw, err := json.Marshal(form)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	donation := s.donationFor(ctx, attempt, n)
	settled, err := s.ledger.Settle(ctx, store.Settlement{
		AttemptID:   attempt.ID,
		RawResponse: datatypes.JSON(raw),
		Donation:    donation,
	})
	if err != nil {
		return err
	}
	if !settled {
		log.WithField("attempt_id", attempt.ID).Info("payment attempt settled by a concurrent delivery")
		return nil
	}

	log.WithFields(logrus.Fields{
		"user_id":  attempt.UserID,
		"amount":   donation.Amount.StringFixed(2),
		"currency": donation.Currency,
	}).Info("payment completed")

	if attempt.OrganizationID != nil && s.affiliates != nil {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.ProvisionTimeout)
		defer cancel()
		s.affiliates.Provision(pctx, attempt.UserID, *attempt.OrganizationID)
	}
	return nil
}

func (s *Service) donationFor(ctx context.Context, attempt *models.PaymentAttempt, n fiserv.Notification) *models.Donation {
	amount, err := decimal.NewFromString(n.ChargeTotal)
	if err != nil || amount.IsZero() {
		amount = attempt.Amount
	}

	currency := attempt.Currency
	if n.Currency != "" {
		currency = fiserv.CurrencyAlpha(n.Currency)
	}
	if currency == "" {
		currency = defaultCurrency
	}

	d := &models.Donation{
		UserID:         attempt.UserID,
		OrderID:        attempt.OrderID,
		Amount:         amount,
		Currency:       currency,
		PaymentMethod:  models.PaymentMethodCard,
		OrganizationID: attempt.OrganizationID,
		Status:         models.DonationCompleted,
		PaymentID:      n.IPGTransactionID,
		PaymentStatus:  n.ApprovalCode,
	}

	if attempt.OrganizationID != nil {
		org, err := s.orgs.FindOrganization(ctx, *attempt.OrganizationID)
		if err != nil {
			s.logger.WithError(err).WithField("organization_id", *attempt.OrganizationID).Warn("organization lookup failed")
		} else {
			d.OrganizationName = org.Name
		}
	}
	return d
}

// DescribeReturn summarizes the browser redirect. It never settles anything.
func (s *Service) DescribeReturn(ctx context.Context, query url.Values) ReturnView {
	r := fiserv.ParseRedirect(query)

	view := ReturnView{
		Status:       ReturnFailed,
		OrderID:      r.OrderID,
		ApprovalCode: r.ApprovalCode,
		ChargeTotal:  r.ChargeTotal,
		Currency:     r.Currency,
		FailReason:   r.FailReason,
	}
	if r.ApprovalCode != "" && r.OrderID != "" {
		view.Status = ReturnSuccess
	}

	if cfg := s.builder.Config(); cfg != nil && r.Signature != "" {
		ok := r.Verify(cfg.SharedSecret)
		view.SignatureVerified = &ok
	}

	if r.OrderID != "" {
		attempt, err := s.ledger.FindAttemptByOrderID(ctx, r.OrderID)
		if err == nil {
			view.AttemptStatus = string(attempt.Status)
		} else if !errors.Is(err, apperr.ErrNotFound) {
			s.logger.WithError(err).WithField("order_id", r.OrderID).Warn("attempt lookup failed on return")
		}
	}
	return view
}

func validURL(raw string) bool {
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
