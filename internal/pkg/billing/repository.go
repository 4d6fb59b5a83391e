package billing

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/quartiero/quartiero/app/models"
)

// Repository provides DB operations used by the billing engine.
type Repository interface {
	ClaimWebhookEvent(event *models.BillingWebhookEvent) (*ClaimResult, error)
	MarkWebhookProcessed(id uint, note string) error
	RecordWebhookError(id uint, processingErr error) error

	GetSubscription(providerSubscriptionID string) (*models.BillingSubscription, error)
	UpsertSubscription(sub *models.BillingSubscription) error
	ListSubscriptionsByOwner(ownerKind string, ownerID uint) ([]models.BillingSubscription, error)

	UpsertBillingCustomer(customer *models.BillingCustomer) error
	GetBillingCustomerByProviderID(providerCustomerID string) (*models.BillingCustomer, error)
	GetBillingCustomerByOwner(userID uint, businessID *uint) (*models.BillingCustomer, error)
	UpdateBillingCustomerContact(providerCustomerID, email, name string) error

	GetUser(id uint) (*models.User, error)
	SetUserPlan(userID uint, tier string) error
	UpsertMembership(m *models.Membership) error
	GetBusiness(id uint) (*models.Business, error)
	SetBusinessPlan(businessID uint, tier string, active bool, providerSubscriptionID string) error

	GetListing(id uint) (*models.Listing, error)
	BoostListing(listingID uint, until time.Time) error
	RecordPayment(record *models.PaymentRecord) error
	CreateNotification(userID uint, notificationType, content string, referenceID uint) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

// ClaimWebhookEvent is the idempotency anchor: an atomic upsert keyed on the
// unique (provider, provider_event_id) pair. A fresh event id inserts with
// attempts=1; a known id increments attempts. The caller must short-circuit
// when AlreadyProcessed is set.
func (r *gormRepository) ClaimWebhookEvent(event *models.BillingWebhookEvent) (*ClaimResult, error) {
	event.Attempts = 1
	event.Processed = false
	if err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"attempts":   gorm.Expr("attempts + 1"),
			"updated_at": time.Now(),
		}),
	}).Create(event).Error; err != nil {
		return nil, err
	}

	var stored models.BillingWebhookEvent
	if err := r.db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return nil, err
	}
	return &ClaimResult{
		EventRecordID:    stored.ID,
		AlreadyProcessed: stored.Processed,
		Attempt:          stored.Attempts,
	}, nil
}

// MarkWebhookProcessed flips processed to true exactly once. The note lands
// in last_error for terminal no-ops (missing linkage) so operators can see
// why an event was acknowledged without effect.
func (r *gormRepository) MarkWebhookProcessed(id uint, note string) error {
	return r.db.Model(&models.BillingWebhookEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"processed":  true,
			"last_error": note,
		}).Error
}

// RecordWebhookError stores the failure message and leaves processed=false
// so the provider's redelivery retries the event.
func (r *gormRepository) RecordWebhookError(id uint, processingErr error) error {
	msg := ""
	if processingErr != nil {
		msg = processingErr.Error()
	}
	return r.db.Model(&models.BillingWebhookEvent{}).
		Where("id = ?", id).
		Update("last_error", msg).Error
}

func (r *gormRepository) GetSubscription(providerSubscriptionID string) (*models.BillingSubscription, error) {
	var sub models.BillingSubscription
	err := r.db.Where("provider = ? AND provider_subscription_id = ?", models.BillingProviderStripe, providerSubscriptionID).
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) UpsertSubscription(sub *models.BillingSubscription) error {
	if err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_subscription_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"provider_customer_id",
			"owner_id",
			"owner_kind",
			"tier",
			"status",
			"current_period_start",
			"current_period_end",
			"cancel_at",
			"canceled_at",
			"trial_ends_at",
			"provider_updated_at",
			"raw_metadata_json",
			"updated_at",
		}),
	}).Create(sub).Error; err != nil {
		return err
	}

	// Ensure ID is populated after upsert.
	return r.db.Where("provider = ? AND provider_subscription_id = ?", sub.Provider, sub.ProviderSubscriptionID).
		First(sub).Error
}

func (r *gormRepository) ListSubscriptionsByOwner(ownerKind string, ownerID uint) ([]models.BillingSubscription, error) {
	var subs []models.BillingSubscription
	err := r.db.Where("owner_kind = ? AND owner_id = ?", ownerKind, ownerID).Find(&subs).Error
	return subs, err
}

func (r *gormRepository) UpsertBillingCustomer(customer *models.BillingCustomer) error {
	if err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_customer_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"user_id",
			"business_id",
			"email",
			"name",
			"updated_at",
		}),
	}).Create(customer).Error; err != nil {
		return err
	}

	return r.db.Where("provider = ? AND provider_customer_id = ?", customer.Provider, customer.ProviderCustomerID).
		First(customer).Error
}

func (r *gormRepository) GetBillingCustomerByProviderID(providerCustomerID string) (*models.BillingCustomer, error) {
	var customer models.BillingCustomer
	err := r.db.Where("provider = ? AND provider_customer_id = ?", models.BillingProviderStripe, providerCustomerID).
		First(&customer).Error
	if err != nil {
		return nil, err
	}
	return &customer, nil
}

func (r *gormRepository) GetBillingCustomerByOwner(userID uint, businessID *uint) (*models.BillingCustomer, error) {
	var customer models.BillingCustomer
	q := r.db.Where("user_id = ?", userID)
	if businessID != nil {
		q = q.Where("business_id = ?", *businessID)
	} else {
		q = q.Where("business_id IS NULL")
	}
	if err := q.First(&customer).Error; err != nil {
		return nil, err
	}
	return &customer, nil
}

func (r *gormRepository) UpdateBillingCustomerContact(providerCustomerID, email, name string) error {
	return r.db.Model(&models.BillingCustomer{}).
		Where("provider = ? AND provider_customer_id = ?", models.BillingProviderStripe, providerCustomerID).
		Updates(map[string]interface{}{
			"email": email,
			"name":  name,
		}).Error
}

func (r *gormRepository) GetUser(id uint) (*models.User, error) {
	var user models.User
	if err := r.db.First(&user, id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *gormRepository) SetUserPlan(userID uint, tier string) error {
	return r.db.Model(&models.User{}).Where("id = ?", userID).Update("plan", tier).Error
}

func (r *gormRepository) UpsertMembership(m *models.Membership) error {
	if err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"tier",
			"active",
			"provider_subscription_id",
			"updated_at",
		}),
	}).Create(m).Error; err != nil {
		return err
	}

	return r.db.Where("user_id = ?", m.UserID).First(m).Error
}

func (r *gormRepository) GetBusiness(id uint) (*models.Business, error) {
	var business models.Business
	if err := r.db.First(&business, id).Error; err != nil {
		return nil, err
	}
	return &business, nil
}

func (r *gormRepository) SetBusinessPlan(businessID uint, tier string, active bool, providerSubscriptionID string) error {
	return r.db.Model(&models.Business{}).
		Where("id = ?", businessID).
		Updates(map[string]interface{}{
			"plan":                     tier,
			"plan_active":              active,
			"provider_subscription_id": providerSubscriptionID,
		}).Error
}

func (r *gormRepository) GetListing(id uint) (*models.Listing, error) {
	var listing models.Listing
	if err := r.db.First(&listing, id).Error; err != nil {
		return nil, err
	}
	return &listing, nil
}

// BoostListing pushes boosted_until forward, never backward, so re-applying
// the same purchase event converges instead of stacking.
func (r *gormRepository) BoostListing(listingID uint, until time.Time) error {
	return r.db.Model(&models.Listing{}).
		Where("id = ? AND (boosted_until IS NULL OR boosted_until < ?)", listingID, until).
		Update("boosted_until", until).Error
}

func (r *gormRepository) RecordPayment(record *models.PaymentRecord) error {
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "provider_payment_intent_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"provider_customer_id",
			"amount_cents",
			"currency",
			"outcome",
			"failure_message",
			"updated_at",
		}),
	}).Create(record).Error
}

func (r *gormRepository) CreateNotification(userID uint, notificationType, content string, referenceID uint) error {
	return models.CreateNotification(r.db, userID, notificationType, content, referenceID)
}
