package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v83"
	"gorm.io/gorm"

	"github.com/quartiero/quartiero/app/models"
)

// fakeRepo is an in-memory Repository with the same uniqueness and upsert
// semantics as the GORM implementation.
type fakeRepo struct {
	events        map[string]*models.BillingWebhookEvent
	subs          map[string]*models.BillingSubscription
	users         map[uint]*models.User
	businesses    map[uint]*models.Business
	memberships   map[uint]*models.Membership
	customers     map[string]*models.BillingCustomer
	listings      map[uint]*models.Listing
	payments      map[string]*models.PaymentRecord
	notifications []models.Notification

	nextEventID uint
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		events:      make(map[string]*models.BillingWebhookEvent),
		subs:        make(map[string]*models.BillingSubscription),
		users:       make(map[uint]*models.User),
		businesses:  make(map[uint]*models.Business),
		memberships: make(map[uint]*models.Membership),
		customers:   make(map[string]*models.BillingCustomer),
		listings:    make(map[uint]*models.Listing),
		payments:    make(map[string]*models.PaymentRecord),
	}
}

func (r *fakeRepo) ClaimWebhookEvent(event *models.BillingWebhookEvent) (*ClaimResult, error) {
	key := event.Provider + "/" + event.ProviderEventID
	if stored, ok := r.events[key]; ok {
		stored.Attempts++
		return &ClaimResult{EventRecordID: stored.ID, AlreadyProcessed: stored.Processed, Attempt: stored.Attempts}, nil
	}
	r.nextEventID++
	event.ID = r.nextEventID
	event.Attempts = 1
	event.Processed = false
	r.events[key] = event
	return &ClaimResult{EventRecordID: event.ID, AlreadyProcessed: false, Attempt: 1}, nil
}

func (r *fakeRepo) eventByID(id uint) *models.BillingWebhookEvent {
	for _, ev := range r.events {
		if ev.ID == id {
			return ev
		}
	}
	return nil
}

func (r *fakeRepo) MarkWebhookProcessed(id uint, note string) error {
	ev := r.eventByID(id)
	if ev == nil {
		return gorm.ErrRecordNotFound
	}
	ev.Processed = true
	ev.LastError = note
	return nil
}

func (r *fakeRepo) RecordWebhookError(id uint, processingErr error) error {
	ev := r.eventByID(id)
	if ev == nil {
		return gorm.ErrRecordNotFound
	}
	ev.LastError = processingErr.Error()
	return nil
}

func (r *fakeRepo) GetSubscription(providerSubscriptionID string) (*models.BillingSubscription, error) {
	sub, ok := r.subs[providerSubscriptionID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *sub
	return &copied, nil
}

func (r *fakeRepo) UpsertSubscription(sub *models.BillingSubscription) error {
	if stored, ok := r.subs[sub.ProviderSubscriptionID]; ok {
		sub.ID = stored.ID
	} else {
		sub.ID = uint(len(r.subs) + 1)
	}
	copied := *sub
	r.subs[sub.ProviderSubscriptionID] = &copied
	return nil
}

func (r *fakeRepo) ListSubscriptionsByOwner(ownerKind string, ownerID uint) ([]models.BillingSubscription, error) {
	var out []models.BillingSubscription
	for _, sub := range r.subs {
		if sub.OwnerKind == ownerKind && sub.OwnerID == ownerID {
			out = append(out, *sub)
		}
	}
	return out, nil
}

func (r *fakeRepo) UpsertBillingCustomer(customer *models.BillingCustomer) error {
	copied := *customer
	r.customers[customer.ProviderCustomerID] = &copied
	return nil
}

func (r *fakeRepo) GetBillingCustomerByProviderID(providerCustomerID string) (*models.BillingCustomer, error) {
	cust, ok := r.customers[providerCustomerID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *cust
	return &copied, nil
}

func (r *fakeRepo) GetBillingCustomerByOwner(userID uint, businessID *uint) (*models.BillingCustomer, error) {
	for _, cust := range r.customers {
		if cust.UserID != userID {
			continue
		}
		if businessID == nil && cust.BusinessID == nil {
			copied := *cust
			return &copied, nil
		}
		if businessID != nil && cust.BusinessID != nil && *businessID == *cust.BusinessID {
			copied := *cust
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeRepo) UpdateBillingCustomerContact(providerCustomerID, email, name string) error {
	cust, ok := r.customers[providerCustomerID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	cust.Email = email
	cust.Name = name
	return nil
}

func (r *fakeRepo) GetUser(id uint) (*models.User, error) {
	user, ok := r.users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *user
	return &copied, nil
}

func (r *fakeRepo) SetUserPlan(userID uint, tier string) error {
	user, ok := r.users[userID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	user.Plan = tier
	return nil
}

func (r *fakeRepo) UpsertMembership(m *models.Membership) error {
	copied := *m
	r.memberships[m.UserID] = &copied
	return nil
}

func (r *fakeRepo) GetBusiness(id uint) (*models.Business, error) {
	b, ok := r.businesses[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *b
	return &copied, nil
}

func (r *fakeRepo) SetBusinessPlan(businessID uint, tier string, active bool, providerSubscriptionID string) error {
	b, ok := r.businesses[businessID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	b.Plan = tier
	b.PlanActive = active
	b.ProviderSubscriptionID = providerSubscriptionID
	return nil
}

func (r *fakeRepo) GetListing(id uint) (*models.Listing, error) {
	l, ok := r.listings[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *l
	return &copied, nil
}

func (r *fakeRepo) BoostListing(listingID uint, until time.Time) error {
	l, ok := r.listings[listingID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if l.BoostedUntil == nil || l.BoostedUntil.Before(until) {
		l.BoostedUntil = &until
	}
	return nil
}

func (r *fakeRepo) RecordPayment(record *models.PaymentRecord) error {
	if stored, ok := r.payments[record.ProviderPaymentIntentID]; ok {
		record.ID = stored.ID
	} else {
		record.ID = uint(len(r.payments) + 1)
	}
	copied := *record
	r.payments[record.ProviderPaymentIntentID] = &copied
	return nil
}

func (r *fakeRepo) CreateNotification(userID uint, notificationType, content string, referenceID uint) error {
	r.notifications = append(r.notifications, models.Notification{
		UserID:      userID,
		Type:        notificationType,
		Content:     content,
		ReferenceID: referenceID,
	})
	return nil
}

// fakeGateway serves canned provider objects and counts calls.
type fakeGateway struct {
	sessions  map[string]*stripe.CheckoutSession
	subs      map[string]*stripe.Subscription
	customers map[string]*stripe.Customer
	prices    map[string]*stripe.Price

	subFetches    int
	patchedSubIDs []string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		sessions:  make(map[string]*stripe.CheckoutSession),
		subs:      make(map[string]*stripe.Subscription),
		customers: make(map[string]*stripe.Customer),
		prices:    make(map[string]*stripe.Price),
	}
}

func (g *fakeGateway) GetCheckoutSession(_ context.Context, sessionID string) (*stripe.CheckoutSession, error) {
	sess, ok := g.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("no such checkout session %s", sessionID)
	}
	return sess, nil
}

func (g *fakeGateway) GetSubscription(_ context.Context, subscriptionID string) (*stripe.Subscription, error) {
	g.subFetches++
	sub, ok := g.subs[subscriptionID]
	if !ok {
		return nil, fmt.Errorf("no such subscription %s", subscriptionID)
	}
	return sub, nil
}

func (g *fakeGateway) GetCustomer(_ context.Context, customerID string) (*stripe.Customer, error) {
	cust, ok := g.customers[customerID]
	if !ok {
		return nil, fmt.Errorf("no such customer %s", customerID)
	}
	return cust, nil
}

func (g *fakeGateway) EnsureCustomer(_ context.Context, userID uint, email, name string) (*stripe.Customer, error) {
	for _, cust := range g.customers {
		if cust.Metadata["user_id"] == fmt.Sprintf("%d", userID) {
			return cust, nil
		}
	}
	cust := &stripe.Customer{
		ID:       fmt.Sprintf("cus_fake_%d", userID),
		Email:    email,
		Name:     name,
		Metadata: map[string]string{"user_id": fmt.Sprintf("%d", userID)},
	}
	g.customers[cust.ID] = cust
	return cust, nil
}

func (g *fakeGateway) PatchSubscriptionMetadata(_ context.Context, subscriptionID string, metadata map[string]string) (*stripe.Subscription, error) {
	sub, ok := g.subs[subscriptionID]
	if !ok {
		return nil, fmt.Errorf("no such subscription %s", subscriptionID)
	}
	if sub.Metadata == nil {
		sub.Metadata = make(map[string]string)
	}
	for k, v := range metadata {
		sub.Metadata[k] = v
	}
	g.patchedSubIDs = append(g.patchedSubIDs, subscriptionID)
	return sub, nil
}

func (g *fakeGateway) CreateCheckoutSession(_ context.Context, p CheckoutParams) (*stripe.CheckoutSession, error) {
	sess := &stripe.CheckoutSession{
		ID:  fmt.Sprintf("cs_fake_%d", len(g.sessions)+1),
		URL: "https://checkout.example/session",
	}
	g.sessions[sess.ID] = sess
	return sess, nil
}

func (g *fakeGateway) CreatePortalSession(_ context.Context, customerID, returnURL string) (*stripe.BillingPortalSession, error) {
	return &stripe.BillingPortalSession{URL: "https://portal.example/" + customerID}, nil
}

func (g *fakeGateway) FindPriceByLookupKey(_ context.Context, lookupKey string) (*stripe.Price, error) {
	return g.prices[lookupKey], nil
}

func (g *fakeGateway) CreateProduct(_ context.Context, name string, metadata map[string]string) (*stripe.Product, error) {
	return &stripe.Product{ID: "prod_fake_" + name, Name: name, Metadata: metadata}, nil
}

func (g *fakeGateway) CreatePrice(_ context.Context, productID, lookupKey, currency string, amountCents int64, metadata map[string]string) (*stripe.Price, error) {
	price := &stripe.Price{ID: "price_fake_" + lookupKey, LookupKey: lookupKey, UnitAmount: amountCents, Metadata: metadata}
	g.prices[lookupKey] = price
	return price, nil
}
