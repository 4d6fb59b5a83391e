package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v83"
	"gorm.io/gorm"

	"github.com/quartiero/quartiero/app/models"
	"github.com/quartiero/quartiero/internal/pkg/entitlements"
	"github.com/quartiero/quartiero/internal/pkg/mail"
)

// boostDuration is how far a paid listing boost extends visibility, counted
// from the provider event's creation time so redeliveries converge.
const boostDuration = 7 * 24 * time.Hour

// Dispatcher routes verified webhook events to their handlers. It owns the
// event ledger bookkeeping: every verified delivery is claimed first, then
// handled, then marked processed or recorded as failed.
type Dispatcher struct {
	svc  *Service
	repo Repository
	gw   ProviderGateway
	log  zerolog.Logger

	sendMail func(to, subject, body string) error
}

// NewDispatcher creates a webhook dispatcher.
func NewDispatcher(svc *Service, repo Repository, gw ProviderGateway, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		svc:      svc,
		repo:     repo,
		gw:       gw,
		log:      log,
		sendMail: mail.SendMail,
	}
}

// HandleEvent processes one verified webhook event end to end. The return
// value drives the HTTP status: nil means acknowledge (200), an error means
// the provider should redeliver (500). Events with no internal linkage are
// acknowledged and marked processed so they are never redelivered.
func (d *Dispatcher) HandleEvent(ctx context.Context, event stripe.Event) error {
	claim, err := d.repo.ClaimWebhookEvent(&models.BillingWebhookEvent{
		Provider:        models.BillingProviderStripe,
		ProviderEventID: event.ID,
		EventType:       string(event.Type),
		PayloadJSON:     string(event.Data.Raw),
	})
	if err != nil {
		return fmt.Errorf("claim webhook event %s: %w", event.ID, err)
	}
	if claim.AlreadyProcessed {
		d.log.Info().
			Str("event_id", event.ID).
			Str("event_type", string(event.Type)).
			Int("attempt", claim.Attempt).
			Msg("duplicate webhook delivery acknowledged")
		return nil
	}

	handlerErr := d.dispatch(ctx, event)
	switch {
	case handlerErr == nil:
		return d.repo.MarkWebhookProcessed(claim.EventRecordID, "")
	case errors.Is(handlerErr, ErrNoLinkage):
		d.log.Warn().
			Str("event_id", event.ID).
			Str("event_type", string(event.Type)).
			Msg("webhook event has no internal owner, acknowledging without effect")
		return d.repo.MarkWebhookProcessed(claim.EventRecordID, handlerErr.Error())
	default:
		if recErr := d.repo.RecordWebhookError(claim.EventRecordID, handlerErr); recErr != nil {
			d.log.Error().Err(recErr).Str("event_id", event.ID).Msg("recording webhook error failed")
		}
		return handlerErr
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, event stripe.Event) error {
	observedAt := time.Unix(event.Created, 0).UTC()

	switch event.Type {
	case "customer.subscription.created", "customer.subscription.updated":
		return d.handleSubscriptionChange(ctx, event, observedAt, "")
	case "customer.subscription.deleted":
		return d.handleSubscriptionChange(ctx, event, observedAt, models.BillingStatusCanceled)
	case "invoice.payment_succeeded", "invoice.paid":
		return d.handleInvoicePaid(ctx, event, observedAt)
	case "invoice.payment_failed", "invoice.payment_action_required":
		return d.handleInvoicePaymentFailed(ctx, event)
	case "checkout.session.completed":
		return d.handleCheckoutCompleted(ctx, event, observedAt)
	case "payment_intent.succeeded":
		return d.handlePaymentIntent(event, models.PaymentOutcomeSucceeded)
	case "payment_intent.payment_failed":
		return d.handlePaymentIntent(event, models.PaymentOutcomeFailed)
	case "customer.updated":
		return d.handleCustomerUpdated(event)
	default:
		d.log.Debug().
			Str("event_id", event.ID).
			Str("event_type", string(event.Type)).
			Msg("unhandled webhook event type acknowledged")
		return nil
	}
}

// handleSubscriptionChange applies a subscription lifecycle event. The event
// payload already carries the full subscription object; forceStatus overrides
// the payload status for deletion events, whose object may still read as the
// last pre-cancel state.
func (d *Dispatcher) handleSubscriptionChange(ctx context.Context, event stripe.Event, observedAt time.Time, forceStatus string) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("unmarshal subscription: %w", err)
	}

	kind, ownerID, err := d.resolveOwner(ctx, sub.Metadata, customerIDOf(sub.Customer))
	if err != nil {
		return err
	}

	snap := d.snapshotFromSubscription(&sub, nil, kind, ownerID, observedAt)
	if forceStatus != "" {
		snap.Status = forceStatus
	}
	return d.svc.Apply(ctx, snap)
}

// handleInvoicePaid re-fetches the invoice's subscription from the provider
// and applies the fresh state. Paid invoices are how renewals reach us, so
// the fetch uses current truth rather than the invoice's embedded copy.
func (d *Dispatcher) handleInvoicePaid(ctx context.Context, event stripe.Event, observedAt time.Time) error {
	subscriptionID := invoiceSubscriptionID(event.Data.Raw)
	if subscriptionID == "" {
		// One-off invoice, nothing to reconcile.
		return nil
	}

	sub, err := d.gw.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return err
	}
	kind, ownerID, err := d.resolveOwner(ctx, sub.Metadata, customerIDOf(sub.Customer))
	if err != nil {
		return err
	}
	return d.svc.Apply(ctx, d.snapshotFromSubscription(sub, nil, kind, ownerID, observedAt))
}

// handleInvoicePaymentFailed covers payment_failed and
// payment_action_required invoices: it notifies the owner but leaves the entitlement
// untouched: the revoke happens when the provider moves the subscription to
// a non-entitling status.
func (d *Dispatcher) handleInvoicePaymentFailed(ctx context.Context, event stripe.Event) error {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		return fmt.Errorf("unmarshal invoice: %w", err)
	}

	customerID := customerIDOf(invoice.Customer)
	linkage, err := d.repo.GetBillingCustomerByProviderID(customerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNoLinkage
		}
		return err
	}

	noticeType := models.NotificationTypePaymentFailed
	subject := "Payment failed"
	content := "A membership payment failed. Please update your payment method to keep your benefits."
	if event.Type == "invoice.payment_action_required" {
		noticeType = models.NotificationTypePaymentAction
		subject = "Payment needs confirmation"
		content = "A membership payment needs your confirmation. Please complete the payment to keep your benefits."
	}
	if err := d.repo.CreateNotification(linkage.UserID, noticeType, content, 0); err != nil {
		return fmt.Errorf("create payment notice: %w", err)
	}
	if linkage.Email != "" {
		if err := d.sendMail(linkage.Email, subject, content); err != nil {
			d.log.Warn().Err(err).Str("customer_id", customerID).Msg("payment notice mail not sent")
		}
	}
	return nil
}

// handleCheckoutCompleted finalizes a checkout. Subscription mode patches
// owner metadata onto the subscription and applies it immediately; payment
// mode records the payment and applies its side effect (listing boost).
func (d *Dispatcher) handleCheckoutCompleted(ctx context.Context, event stripe.Event, observedAt time.Time) error {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return fmt.Errorf("unmarshal checkout session: %w", err)
	}

	if sess.Mode == stripe.CheckoutSessionModePayment {
		return d.handlePaidCheckout(event, &sess)
	}

	subscriptionID := ""
	if sess.Subscription != nil {
		subscriptionID = sess.Subscription.ID
	}
	if subscriptionID == "" {
		return nil
	}

	kind, ownerID, err := d.resolveOwner(ctx, sess.Metadata, customerIDOf(sess.Customer))
	if err != nil {
		return err
	}

	sub, err := d.gw.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return err
	}

	// Stamp the owner onto the subscription so later lifecycle events
	// resolve without a session in hand.
	if sub.Metadata == nil || sub.Metadata[metaKeyUserID] == "" {
		patch := map[string]string{
			metaKeyOwnerKind: string(kind),
		}
		if kind == entitlements.OwnerKindBusiness {
			patch[metaKeyBusinessID] = strconv.FormatUint(uint64(ownerID), 10)
			if raw := sess.Metadata[metaKeyUserID]; raw != "" {
				patch[metaKeyUserID] = raw
			}
		} else {
			patch[metaKeyUserID] = strconv.FormatUint(uint64(ownerID), 10)
		}
		sub, err = d.gw.PatchSubscriptionMetadata(ctx, subscriptionID, patch)
		if err != nil {
			return err
		}
	}

	if err := d.linkCheckoutCustomer(ctx, &sess, kind, ownerID); err != nil {
		d.log.Warn().Err(err).Str("session_id", sess.ID).Msg("customer linkage not stored")
	}

	return d.svc.Apply(ctx, d.snapshotFromSubscription(sub, &sess, kind, ownerID, observedAt))
}

// handlePaidCheckout handles payment-mode completions: audit record plus the
// listing boost side effect when the session metadata targets a listing.
func (d *Dispatcher) handlePaidCheckout(event stripe.Event, sess *stripe.CheckoutSession) error {
	paymentIntentID := ""
	if sess.PaymentIntent != nil {
		paymentIntentID = sess.PaymentIntent.ID
	}
	if paymentIntentID != "" {
		record := &models.PaymentRecord{
			Provider:                models.BillingProviderStripe,
			ProviderPaymentIntentID: paymentIntentID,
			ProviderCustomerID:      customerIDOf(sess.Customer),
			AmountCents:             sess.AmountTotal,
			Currency:                string(sess.Currency),
			Outcome:                 models.PaymentOutcomeSucceeded,
		}
		if err := d.repo.RecordPayment(record); err != nil {
			return fmt.Errorf("record payment: %w", err)
		}
	}

	if sess.Metadata[metaKeyPurpose] != "listing_boost" {
		return nil
	}
	listingID, err := strconv.ParseUint(sess.Metadata[metaKeyListingID], 10, 32)
	if err != nil || listingID == 0 {
		// Redelivery cannot repair missing metadata, so acknowledge instead
		// of asking the provider to retry forever.
		return fmt.Errorf("listing boost checkout %s carries no valid listing id: %w", sess.ID, ErrNoLinkage)
	}

	until := time.Unix(event.Created, 0).UTC().Add(boostDuration)
	if err := d.repo.BoostListing(uint(listingID), until); err != nil {
		return fmt.Errorf("boost listing %d: %w", listingID, err)
	}

	if userID, err := strconv.ParseUint(sess.Metadata[metaKeyUserID], 10, 32); err == nil && userID != 0 {
		content := fmt.Sprintf("Your listing boost is active until %s.", until.Format("2006-01-02"))
		if err := d.repo.CreateNotification(uint(userID), models.NotificationTypeListingBoosted, content, uint(listingID)); err != nil {
			d.log.Warn().Err(err).Uint64("listing_id", listingID).Msg("boost notification failed")
		}
	}
	return nil
}

// handlePaymentIntent writes the audit trail row. Payment intents carry no
// entitlement semantics here.
func (d *Dispatcher) handlePaymentIntent(event stripe.Event, outcome string) error {
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return fmt.Errorf("unmarshal payment intent: %w", err)
	}
	if pi.ID == "" {
		return errors.New("payment intent event without id")
	}

	record := &models.PaymentRecord{
		Provider:                models.BillingProviderStripe,
		ProviderPaymentIntentID: pi.ID,
		ProviderCustomerID:      customerIDOf(pi.Customer),
		AmountCents:             pi.Amount,
		Currency:                string(pi.Currency),
		Outcome:                 outcome,
	}
	if outcome == models.PaymentOutcomeFailed && pi.LastPaymentError != nil {
		record.FailureMessage = pi.LastPaymentError.Msg
	}
	return d.repo.RecordPayment(record)
}

// handleCustomerUpdated keeps the stored contact snapshot in sync. Unknown
// customers are acknowledged silently.
func (d *Dispatcher) handleCustomerUpdated(event stripe.Event) error {
	var cust stripe.Customer
	if err := json.Unmarshal(event.Data.Raw, &cust); err != nil {
		return fmt.Errorf("unmarshal customer: %w", err)
	}
	if cust.ID == "" {
		return nil
	}
	err := d.repo.UpdateBillingCustomerContact(cust.ID, cust.Email, cust.Name)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	return err
}

// resolveOwner maps provider-side identifiers onto an internal owner. Order:
// explicit metadata stamped at checkout, then the stored customer linkage,
// then the provider customer's own metadata. No match is terminal.
func (d *Dispatcher) resolveOwner(ctx context.Context, metadata map[string]string, providerCustomerID string) (entitlements.OwnerKind, uint, error) {
	if kind, id, ok := ownerFromMetadata(metadata); ok {
		return kind, id, nil
	}

	if providerCustomerID != "" {
		linkage, err := d.repo.GetBillingCustomerByProviderID(providerCustomerID)
		if err == nil {
			if linkage.BusinessID != nil && *linkage.BusinessID != 0 {
				return entitlements.OwnerKindBusiness, *linkage.BusinessID, nil
			}
			return entitlements.OwnerKindUser, linkage.UserID, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return "", 0, err
		}

		cust, custErr := d.gw.GetCustomer(ctx, providerCustomerID)
		if custErr == nil {
			if kind, id, ok := ownerFromMetadata(cust.Metadata); ok {
				return kind, id, nil
			}
		}
	}

	return "", 0, ErrNoLinkage
}

func ownerFromMetadata(metadata map[string]string) (entitlements.OwnerKind, uint, bool) {
	if len(metadata) == 0 {
		return "", 0, false
	}
	if metadata[metaKeyOwnerKind] == string(entitlements.OwnerKindBusiness) {
		if id, err := strconv.ParseUint(metadata[metaKeyBusinessID], 10, 32); err == nil && id != 0 {
			return entitlements.OwnerKindBusiness, uint(id), true
		}
	}
	if id, err := strconv.ParseUint(metadata[metaKeyUserID], 10, 32); err == nil && id != 0 {
		return entitlements.OwnerKindUser, uint(id), true
	}
	return "", 0, false
}

// snapshotFromSubscription normalizes a provider subscription (and optional
// checkout session context) into the shape Apply consumes.
func (d *Dispatcher) snapshotFromSubscription(sub *stripe.Subscription, sess *stripe.CheckoutSession, kind entitlements.OwnerKind, ownerID uint, observedAt time.Time) SubscriptionSnapshot {
	snap := SubscriptionSnapshot{
		OwnerID:                ownerID,
		OwnerKind:              kind,
		ProviderSubscriptionID: sub.ID,
		ProviderCustomerID:     customerIDOf(sub.Customer),
		Status:                 string(sub.Status),
		Tier:                   ResolveTier(sub, sess, kind),
		TrialEndsAt:            unixTime(sub.TrialEnd),
		CancelAt:               unixTime(sub.CancelAt),
		CanceledAt:             unixTime(sub.CanceledAt),
		ObservedAt:             observedAt,
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		snap.CurrentPeriodStart = unixTime(item.CurrentPeriodStart)
		snap.CurrentPeriodEnd = unixTime(item.CurrentPeriodEnd)
	}
	if len(sub.Metadata) > 0 {
		if raw, err := json.Marshal(sub.Metadata); err == nil {
			snap.RawMetadataJSON = string(raw)
		}
	}
	return snap
}

func (d *Dispatcher) linkCheckoutCustomer(ctx context.Context, sess *stripe.CheckoutSession, kind entitlements.OwnerKind, ownerID uint) error {
	customerID := customerIDOf(sess.Customer)
	if customerID == "" {
		return nil
	}

	userID := ownerID
	var businessID *uint
	if kind == entitlements.OwnerKindBusiness {
		bid := ownerID
		businessID = &bid
		if raw, err := strconv.ParseUint(sess.Metadata[metaKeyUserID], 10, 32); err == nil && raw != 0 {
			userID = uint(raw)
		}
	}

	email, name := "", ""
	if sess.CustomerDetails != nil {
		email = sess.CustomerDetails.Email
		name = sess.CustomerDetails.Name
	}
	return d.svc.EnsureCustomerLinkage(ctx, userID, businessID, customerID, email, name)
}

// invoiceSubscriptionID pulls the subscription id out of the raw invoice
// payload. The field moved between API versions (top-level expandable, then
// parent.subscription_details), so both shapes are checked.
func invoiceSubscriptionID(raw json.RawMessage) string {
	var data map[string]interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return ""
	}
	if id := idFromField(data["subscription"]); id != "" {
		return id
	}
	if parent, ok := data["parent"].(map[string]interface{}); ok {
		if details, ok := parent["subscription_details"].(map[string]interface{}); ok {
			return idFromField(details["subscription"])
		}
	}
	return ""
}

func idFromField(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]interface{}:
		if id, ok := t["id"].(string); ok {
			return id
		}
	}
	return ""
}

func customerIDOf(c *stripe.Customer) string {
	if c == nil {
		return ""
	}
	return c.ID
}

func unixTime(ts int64) *time.Time {
	if ts == 0 {
		return nil
	}
	t := time.Unix(ts, 0).UTC()
	return &t
}
