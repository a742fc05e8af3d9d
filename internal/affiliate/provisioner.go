// Package affiliate registers donors as coupon-vendor affiliates of the
// organization they donated to.
package affiliate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"triple-impacto/internal/alert"
	"triple-impacto/internal/apperr"
	"triple-impacto/internal/bonda"
	"triple-impacto/internal/models"
)

const (
	OperationCreate = "create_affiliate"

	retryBaseDelay   = time.Minute
	retryMaxDelay    = time.Hour
	retryMaxAttempts = 8
)

var ErrVendorRejected = errors.New("vendor rejected affiliate")

type Store interface {
	FindMicrositeByOrganization(ctx context.Context, organizationID string) (*models.BondaMicrosite, error)
	FindAffiliate(ctx context.Context, userID, micrositeID string) (*models.Affiliate, error)
	FindUser(ctx context.Context, id string) (*models.User, error)
	UpsertAffiliate(ctx context.Context, aff *models.Affiliate) error
	LogVendorOperation(ctx context.Context, entry *models.VendorSyncLog) error
	EnqueueAffiliateRetry(ctx context.Context, userID, organizationID, lastError string, next time.Time) error
	DueAffiliateRetries(ctx context.Context, now time.Time, limit int) ([]models.AffiliateRetry, error)
	MarkAffiliateRetry(ctx context.Context, id string, status models.RetryStatus, attempts int, lastError string, next time.Time) error
}

type Vendor interface {
	CreateAffiliate(ctx context.Context, ms bonda.Microsite, req bonda.AffiliateRequest) (*bonda.AffiliateResponse, error)
	Endpoint(ms bonda.Microsite) string
}

type Provisioner struct {
	store  Store
	vendor Vendor
	node   *snowflake.Node
	alerts alert.Notifier
	logger logrus.FieldLogger
	now    func() time.Time
}

func NewProvisioner(store Store, vendor Vendor, node *snowflake.Node, alerts alert.Notifier, logger logrus.FieldLogger) *Provisioner {
	return &Provisioner{
		store:  store,
		vendor: vendor,
		node:   node,
		alerts: alerts,
		logger: logger,
		now:    time.Now,
	}
}

// Ensure creates the vendor affiliate for the user in the organization's
// microsite unless one is already mapped. A missing microsite or user is not
// an error.
func (p *Provisioner) Ensure(ctx context.Context, userID, organizationID string) error {
	log := p.logger.WithFields(logrus.Fields{"user_id": userID, "organization_id": organizationID})

	ms, err := p.store.FindMicrositeByOrganization(ctx, organizationID)
	if errors.Is(err, apperr.ErrNotFound) {
		log.Warn("no vendor microsite for organization")
		return nil
	}
	if err != nil {
		return err
	}

	existing, err := p.store.FindAffiliate(ctx, userID, ms.ID)
	if err == nil && existing != nil {
		return nil
	}
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return err
	}

	user, err := p.store.FindUser(ctx, userID)
	if errors.Is(err, apperr.ErrNotFound) {
		log.Warn("user not found, skipping affiliate")
		return nil
	}
	if err != nil {
		return err
	}

	site := bonda.Microsite{ID: ms.VendorMicrositeID, APIKey: ms.APIKey}
	req := bonda.AffiliateRequest{
		Code:      GenerateCode(user.Email, p.node),
		Email:     user.Email,
		Nombre:    user.Name,
		Telefono:  user.Phone,
		Provincia: user.Province,
		Localidad: user.Locality,
	}

	resp, callErr := p.vendor.CreateAffiliate(ctx, site, req)
	p.logCall(ctx, userID, p.vendor.Endpoint(site), req, resp, callErr)
	if callErr != nil {
		return fmt.Errorf("failed to create vendor affiliate: %w", callErr)
	}
	if !resp.Created() {
		return fmt.Errorf("%w: %s", ErrVendorRejected, vendorErrorCode(resp))
	}

	aff := &models.Affiliate{UserID: userID, MicrositeID: ms.ID, Code: resp.Data.Code}
	if err := p.store.UpsertAffiliate(ctx, aff); err != nil {
		return err
	}

	log.WithFields(logrus.Fields{"microsite": ms.Slug, "code": aff.Code}).Info("vendor affiliate created")
	return nil
}

// Provision runs Ensure and, when it fails, schedules a retry and alerts
// operators. It never returns an error.
func (p *Provisioner) Provision(ctx context.Context, userID, organizationID string) {
	err := p.Ensure(ctx, userID, organizationID)
	if err == nil {
		return
	}

	log := p.logger.WithFields(logrus.Fields{"user_id": userID, "organization_id": organizationID})
	log.WithError(err).Error("affiliate provisioning failed, scheduling retry")

	// The caller's context may already be past its deadline.
	bg := context.WithoutCancel(ctx)
	if qErr := p.store.EnqueueAffiliateRetry(bg, userID, organizationID, err.Error(), p.now().Add(retryBaseDelay)); qErr != nil {
		log.WithError(qErr).Error("failed to schedule affiliate retry")
	}
	p.alert(bg, fmt.Sprintf("Affiliate provisioning failed for user %s, organization %s: %v", userID, organizationID, err))
}

// RetryDue replays up to limit due retries and returns how many succeeded.
func (p *Provisioner) RetryDue(ctx context.Context, limit int) (int, error) {
	now := p.now()
	due, err := p.store.DueAffiliateRetries(ctx, now, limit)
	if err != nil {
		return 0, err
	}

	done := 0
	for _, r := range due {
		if ctx.Err() != nil {
			return done, ctx.Err()
		}

		attempts := r.Attempts + 1
		log := p.logger.WithFields(logrus.Fields{
			"user_id":         r.UserID,
			"organization_id": r.OrganizationID,
			"attempt":         attempts,
		})

		ensureErr := p.Ensure(ctx, r.UserID, r.OrganizationID)
		switch {
		case ensureErr == nil:
			if err := p.store.MarkAffiliateRetry(ctx, r.ID, models.RetryDone, attempts, "", now); err != nil {
				log.WithError(err).Error("failed to mark affiliate retry done")
				continue
			}
			done++
			log.Info("affiliate retry succeeded")

		case attempts >= retryMaxAttempts:
			if err := p.store.MarkAffiliateRetry(ctx, r.ID, models.RetryAbandoned, attempts, ensureErr.Error(), now); err != nil {
				log.WithError(err).Error("failed to mark affiliate retry abandoned")
			}
			log.WithError(ensureErr).Error("affiliate retry abandoned")
			p.alert(ctx, fmt.Sprintf("Affiliate provisioning abandoned after %d attempts for user %s, organization %s: %v",
				attempts, r.UserID, r.OrganizationID, ensureErr))

		default:
			next := now.Add(RetryDelay(attempts))
			if err := p.store.MarkAffiliateRetry(ctx, r.ID, models.RetryPending, attempts, ensureErr.Error(), next); err != nil {
				log.WithError(err).Error("failed to reschedule affiliate retry")
			}
			log.WithError(ensureErr).WithField("next_attempt_at", next).Warn("affiliate retry failed")
		}
	}
	return done, nil
}

// RetryDelay is the wait after the given number of failed attempts:
// one minute doubled per attempt, capped at one hour.
func RetryDelay(attempts int) time.Duration {
	if attempts < 1 {
		return retryBaseDelay
	}
	d := retryBaseDelay
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= retryMaxDelay {
			return retryMaxDelay
		}
	}
	return d
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]`)

// GenerateCode builds "<prefix>_<id>" where prefix is up to five [a-z0-9]
// characters of the email local part and id is a base36 snowflake.
func GenerateCode(email string, node *snowflake.Node) string {
	local := strings.ToLower(strings.SplitN(email, "@", 2)[0])
	prefix := nonAlnum.ReplaceAllString(local, "")
	if len(prefix) > 5 {
		prefix = prefix[:5]
	}
	return prefix + "_" + node.Generate().Base36()
}

func (p *Provisioner) logCall(ctx context.Context, userID, endpoint string, req bonda.AffiliateRequest, resp *bonda.AffiliateResponse, callErr error) {
	entry := &models.VendorSyncLog{
		UserID:    userID,
		Operation: OperationCreate,
		Endpoint:  endpoint,
	}
	if b, err := json.Marshal(req); err == nil {
		entry.RequestData = datatypes.JSON(b)
	}
	if resp != nil {
		entry.HTTPStatusCode = resp.StatusCode
		entry.Success = resp.Created()
		if len(resp.Raw) > 0 {
			entry.ResponseData = datatypes.JSON(resp.Raw)
		}
		if !entry.Success {
			entry.ErrorMessage = vendorErrorCode(resp)
		}
	}
	if callErr != nil {
		entry.ErrorMessage = callErr.Error()
		var statusErr *bonda.StatusError
		if errors.As(callErr, &statusErr) {
			entry.HTTPStatusCode = statusErr.StatusCode
		}
	}

	if err := p.store.LogVendorOperation(context.WithoutCancel(ctx), entry); err != nil {
		p.logger.WithError(err).Warn("failed to record vendor sync log")
	}
}

func (p *Provisioner) alert(ctx context.Context, text string) {
	if p.alerts == nil {
		return
	}
	if err := p.alerts.Notify(ctx, text); err != nil {
		p.logger.WithError(err).Warn("failed to send operator alert")
	}
}

func vendorErrorCode(resp *bonda.AffiliateResponse) string {
	if resp != nil && resp.Error != nil && resp.Error.Code != "" {
		return resp.Error.Code
	}
	return "no affiliate code returned"
}
