package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"triple-impacto/internal/apperr"
	"triple-impacto/internal/models"
)

// Store is the Postgres-backed ledger for payment attempts, donations and
// coupon-vendor affiliates.
type Store struct {
	DB *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{DB: db}
}

// Settlement is what gets written when a notification completes an attempt.
type Settlement struct {
	AttemptID   string
	RawResponse datatypes.JSON
	Donation    *models.Donation
}

func (s *Store) CreateAttempt(ctx context.Context, attempt *models.PaymentAttempt) error {
	if attempt.ID == "" {
		attempt.ID = uuid.NewString()
	}
	if attempt.Status == "" {
		attempt.Status = models.AttemptPending
	}
	if err := s.DB.WithContext(ctx).Create(attempt).Error; err != nil {
		return fmt.Errorf("failed to create payment attempt: %w", err)
	}
	return nil
}

func (s *Store) FindAttemptByOrderID(ctx context.Context, orderID string) (*models.PaymentAttempt, error) {
	var attempt models.PaymentAttempt
	err := s.DB.WithContext(ctx).Where("order_id = ?", orderID).First(&attempt).Error
	if err != nil {
		return nil, notFound(err, "payment attempt")
	}
	return &attempt, nil
}

// Settle moves the attempt from pending to completed and records the
// donation in one transaction. It reports false, without writing anything,
// when the attempt was no longer pending.
func (s *Store) Settle(ctx context.Context, st Settlement) (bool, error) {
	settled := false
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		res := tx.Model(&models.PaymentAttempt{}).
			Where("id = ? AND status = ?", st.AttemptID, models.AttemptPending).
			Updates(map[string]any{
				"status":               models.AttemptCompleted,
				"raw_gateway_response": st.RawResponse,
				"completed_at":         now,
				"updated_at":           now,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to complete payment attempt: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}

		if st.Donation != nil {
			if st.Donation.ID == "" {
				st.Donation.ID = uuid.NewString()
			}
			if err := tx.Create(st.Donation).Error; err != nil {
				return fmt.Errorf("failed to record donation: %w", err)
			}
		}

		settled = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return settled, nil
}

func (s *Store) FindOrganization(ctx context.Context, id string) (*models.Organization, error) {
	var org models.Organization
	if err := s.DB.WithContext(ctx).First(&org, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "organization")
	}
	return &org, nil
}

func (s *Store) FindUser(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := s.DB.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "user")
	}
	return &user, nil
}

func (s *Store) FindMicrositeByOrganization(ctx context.Context, organizationID string) (*models.BondaMicrosite, error) {
	var ms models.BondaMicrosite
	err := s.DB.WithContext(ctx).Where("organization_id = ?", organizationID).First(&ms).Error
	if err != nil {
		return nil, notFound(err, "bonda microsite")
	}
	return &ms, nil
}

func (s *Store) FindAffiliate(ctx context.Context, userID, micrositeID string) (*models.Affiliate, error) {
	var aff models.Affiliate
	err := s.DB.WithContext(ctx).
		Where("user_id = ? AND microsite_id = ?", userID, micrositeID).
		First(&aff).Error
	if err != nil {
		return nil, notFound(err, "affiliate")
	}
	return &aff, nil
}

func (s *Store) UpsertAffiliate(ctx context.Context, aff *models.Affiliate) error {
	if aff.ID == "" {
		aff.ID = uuid.NewString()
	}
	err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "microsite_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"code", "updated_at"}),
	}).Create(aff).Error
	if err != nil {
		return fmt.Errorf("failed to upsert affiliate: %w", err)
	}
	return nil
}

func (s *Store) LogVendorOperation(ctx context.Context, entry *models.VendorSyncLog) error {
	if err := s.DB.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to record vendor operation: %w", err)
	}
	return nil
}

// EnqueueAffiliateRetry records (or re-arms) a pending provisioning retry for
// the user and organization. A re-armed record starts over with zero attempts.
func (s *Store) EnqueueAffiliateRetry(ctx context.Context, userID, organizationID, lastError string, next time.Time) error {
	retry := models.AffiliateRetry{
		ID:             uuid.NewString(),
		UserID:         userID,
		OrganizationID: organizationID,
		Attempts:       0,
		NextAttemptAt:  next,
		LastError:      lastError,
		Status:         models.RetryPending,
	}
	rearm := clause.Assignments(map[string]any{
		"attempts":        0,
		"next_attempt_at": next,
		"last_error":      lastError,
		"status":          models.RetryPending,
		"updated_at":      time.Now(),
	})
	err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "organization_id"}},
		DoUpdates: rearm,
	}).Create(&retry).Error
	if err != nil {
		return fmt.Errorf("failed to enqueue affiliate retry: %w", err)
	}
	return nil
}

func (s *Store) DueAffiliateRetries(ctx context.Context, now time.Time, limit int) ([]models.AffiliateRetry, error) {
	var retries []models.AffiliateRetry
	err := s.DB.WithContext(ctx).
		Where("status = ? AND next_attempt_at <= ?", models.RetryPending, now).
		Order("next_attempt_at").
		Limit(limit).
		Find(&retries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query affiliate retries: %w", err)
	}
	return retries, nil
}

func (s *Store) MarkAffiliateRetry(ctx context.Context, id string, status models.RetryStatus, attempts int, lastError string, next time.Time) error {
	err := s.DB.WithContext(ctx).Model(&models.AffiliateRetry{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":          status,
			"attempts":        attempts,
			"last_error":      lastError,
			"next_attempt_at": next,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to update affiliate retry: %w", err)
	}
	return nil
}

func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", what, apperr.ErrNotFound)
	}
	return fmt.Errorf("failed to load %s: %w", what, err)
}
