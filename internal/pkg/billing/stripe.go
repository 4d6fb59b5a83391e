package billing

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v83"

	"github.com/quartiero/quartiero/internal/pkg/entitlements"
)

// Metadata keys written onto checkout sessions and subscriptions at creation
// time and read back by the webhook dispatcher.
const (
	metaKeyOwnerKind  = "owner_kind"
	metaKeyUserID     = "user_id"
	metaKeyBusinessID = "business_id"
	metaKeyListingID  = "listing_id"
	metaKeyPurpose    = "purpose"
)

// CheckoutParams describes a checkout session to be created.
type CheckoutParams struct {
	OwnerKind  entitlements.OwnerKind
	UserID     uint
	BusinessID uint

	// Subscription mode: the price to subscribe to.
	PriceID string

	// Payment mode (one-time): product name and amount in cents. ListingID
	// carries the boost target through the provider round-trip.
	OneTime     bool
	ProductName string
	AmountCents int64
	Currency    string
	ListingID   uint

	CustomerID string
	SuccessURL string
	CancelURL  string
}

// ProviderGateway is the outbound surface to the payment provider. The
// webhook dispatcher and the checkout reconciler depend on this interface so
// tests can substitute a fake without network access.
type ProviderGateway interface {
	GetCheckoutSession(ctx context.Context, sessionID string) (*stripe.CheckoutSession, error)
	GetSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error)
	GetCustomer(ctx context.Context, customerID string) (*stripe.Customer, error)
	EnsureCustomer(ctx context.Context, userID uint, email, name string) (*stripe.Customer, error)
	PatchSubscriptionMetadata(ctx context.Context, subscriptionID string, metadata map[string]string) (*stripe.Subscription, error)
	CreateCheckoutSession(ctx context.Context, p CheckoutParams) (*stripe.CheckoutSession, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (*stripe.BillingPortalSession, error)
	FindPriceByLookupKey(ctx context.Context, lookupKey string) (*stripe.Price, error)
	CreateProduct(ctx context.Context, name string, metadata map[string]string) (*stripe.Product, error)
	CreatePrice(ctx context.Context, productID, lookupKey, currency string, amountCents int64, metadata map[string]string) (*stripe.Price, error)
}

type stripeGateway struct {
	client *stripe.Client
}

// NewStripeGateway creates a gateway backed by the Stripe API.
func NewStripeGateway(apiKey string) ProviderGateway {
	return &stripeGateway{client: stripe.NewClient(apiKey)}
}

func (g *stripeGateway) GetCheckoutSession(ctx context.Context, sessionID string) (*stripe.CheckoutSession, error) {
	params := &stripe.CheckoutSessionRetrieveParams{}
	params.AddExpand("subscription")
	params.AddExpand("customer")
	sess, err := g.client.V1CheckoutSessions.Retrieve(ctx, sessionID, params)
	if err != nil {
		return nil, fmt.Errorf("retrieve checkout session %s: %w", sessionID, err)
	}
	return sess, nil
}

func (g *stripeGateway) GetSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionRetrieveParams{}
	params.AddExpand("items.data.price.product")
	sub, err := g.client.V1Subscriptions.Retrieve(ctx, subscriptionID, params)
	if err != nil {
		return nil, fmt.Errorf("retrieve subscription %s: %w", subscriptionID, err)
	}
	return sub, nil
}

func (g *stripeGateway) GetCustomer(ctx context.Context, customerID string) (*stripe.Customer, error) {
	cust, err := g.client.V1Customers.Retrieve(ctx, customerID, nil)
	if err != nil {
		return nil, fmt.Errorf("retrieve customer %s: %w", customerID, err)
	}
	return cust, nil
}

// EnsureCustomer finds the provider customer tagged with the given user id,
// creating one when no match exists. The metadata tag is what lets webhook
// deliveries without session context find their way back to the owner.
func (g *stripeGateway) EnsureCustomer(ctx context.Context, userID uint, email, name string) (*stripe.Customer, error) {
	searchParams := &stripe.CustomerSearchParams{}
	searchParams.Query = fmt.Sprintf("metadata['%s']:'%d'", metaKeyUserID, userID)
	for cust, err := range g.client.V1Customers.Search(ctx, searchParams) {
		if err != nil {
			return nil, fmt.Errorf("search customers: %w", err)
		}
		if cust.Metadata != nil && cust.Metadata[metaKeyUserID] == strconv.FormatUint(uint64(userID), 10) {
			return cust, nil
		}
	}

	createParams := &stripe.CustomerCreateParams{
		Email: stripe.String(email),
		Name:  stripe.String(name),
	}
	createParams.AddMetadata(metaKeyUserID, strconv.FormatUint(uint64(userID), 10))
	createParams.SetIdempotencyKey(uuid.NewString())
	cust, err := g.client.V1Customers.Create(ctx, createParams)
	if err != nil {
		return nil, fmt.Errorf("create customer: %w", err)
	}
	return cust, nil
}

func (g *stripeGateway) PatchSubscriptionMetadata(ctx context.Context, subscriptionID string, metadata map[string]string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionUpdateParams{}
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	sub, err := g.client.V1Subscriptions.Update(ctx, subscriptionID, params)
	if err != nil {
		return nil, fmt.Errorf("update subscription %s metadata: %w", subscriptionID, err)
	}
	return sub, nil
}

func (g *stripeGateway) CreateCheckoutSession(ctx context.Context, p CheckoutParams) (*stripe.CheckoutSession, error) {
	params := checkoutSessionParams(p)

	// A fresh idempotency key makes the SDK's internal retries safe without
	// collapsing distinct checkout attempts into one session.
	params.SetIdempotencyKey(uuid.NewString())

	sess, err := g.client.V1CheckoutSessions.Create(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	return sess, nil
}

func checkoutSessionParams(p CheckoutParams) *stripe.CheckoutSessionCreateParams {
	meta := map[string]string{
		metaKeyOwnerKind: string(p.OwnerKind),
		metaKeyUserID:    strconv.FormatUint(uint64(p.UserID), 10),
	}
	if p.BusinessID != 0 {
		meta[metaKeyBusinessID] = strconv.FormatUint(uint64(p.BusinessID), 10)
	}

	params := &stripe.CheckoutSessionCreateParams{
		SuccessURL: stripe.String(p.SuccessURL),
		CancelURL:  stripe.String(p.CancelURL),
	}
	for k, v := range meta {
		params.AddMetadata(k, v)
	}

	if p.OneTime {
		currency := p.Currency
		if currency == "" {
			currency = "eur"
		}
		params.Mode = stripe.String(string(stripe.CheckoutSessionModePayment))
		params.LineItems = []*stripe.CheckoutSessionCreateLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionCreateLineItemPriceDataParams{
					Currency: stripe.String(currency),
					ProductData: &stripe.CheckoutSessionCreateLineItemPriceDataProductDataParams{
						Name: stripe.String(p.ProductName),
					},
					UnitAmount: stripe.Int64(p.AmountCents),
				},
				Quantity: stripe.Int64(1),
			},
		}
		if p.ListingID != 0 {
			params.AddMetadata(metaKeyListingID, strconv.FormatUint(uint64(p.ListingID), 10))
			params.AddMetadata(metaKeyPurpose, "listing_boost")
		}
	} else {
		params.Mode = stripe.String(string(stripe.CheckoutSessionModeSubscription))
		params.LineItems = []*stripe.CheckoutSessionCreateLineItemParams{
			{
				Price:    stripe.String(p.PriceID),
				Quantity: stripe.Int64(1),
			},
		}
		// Mirror the metadata onto the subscription so later
		// customer.subscription.* deliveries carry the owner without a
		// session lookup.
		params.SubscriptionData = &stripe.CheckoutSessionCreateSubscriptionDataParams{}
		for k, v := range meta {
			params.SubscriptionData.AddMetadata(k, v)
		}
	}

	if p.CustomerID != "" {
		params.Customer = stripe.String(p.CustomerID)
	} else {
		params.ClientReferenceID = stripe.String(strconv.FormatUint(uint64(p.UserID), 10))
		// customer_creation is only valid in payment and setup mode;
		// subscription mode always creates a customer on its own.
		if p.OneTime {
			params.CustomerCreation = stripe.String("always")
		}
	}

	return params
}

func (g *stripeGateway) CreatePortalSession(ctx context.Context, customerID, returnURL string) (*stripe.BillingPortalSession, error) {
	params := &stripe.BillingPortalSessionCreateParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	sess, err := g.client.V1BillingPortalSessions.Create(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("create portal session: %w", err)
	}
	return sess, nil
}

func (g *stripeGateway) FindPriceByLookupKey(ctx context.Context, lookupKey string) (*stripe.Price, error) {
	params := &stripe.PriceListParams{
		LookupKeys: stripe.StringSlice([]string{lookupKey}),
	}
	for price, err := range g.client.V1Prices.List(ctx, params) {
		if err != nil {
			return nil, fmt.Errorf("list prices: %w", err)
		}
		if strings.EqualFold(price.LookupKey, lookupKey) {
			return price, nil
		}
	}
	return nil, nil
}

func (g *stripeGateway) CreateProduct(ctx context.Context, name string, metadata map[string]string) (*stripe.Product, error) {
	params := &stripe.ProductCreateParams{
		Name: stripe.String(name),
	}
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	product, err := g.client.V1Products.Create(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("create product %s: %w", name, err)
	}
	return product, nil
}

func (g *stripeGateway) CreatePrice(ctx context.Context, productID, lookupKey, currency string, amountCents int64, metadata map[string]string) (*stripe.Price, error) {
	params := &stripe.PriceCreateParams{
		Product:    stripe.String(productID),
		LookupKey:  stripe.String(lookupKey),
		Currency:   stripe.String(currency),
		UnitAmount: stripe.Int64(amountCents),
		Recurring: &stripe.PriceCreateRecurringParams{
			Interval: stripe.String(string(stripe.PriceRecurringIntervalMonth)),
		},
	}
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	price, err := g.client.V1Prices.Create(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("create price %s: %w", lookupKey, err)
	}
	return price, nil
}
