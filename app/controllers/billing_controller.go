package controllers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/quartiero/quartiero/internal/pkg/billing"
	"github.com/quartiero/quartiero/internal/pkg/cache"
	"github.com/quartiero/quartiero/internal/pkg/database"
	"github.com/quartiero/quartiero/internal/pkg/entitlements"
	"github.com/quartiero/quartiero/internal/pkg/env"
	"github.com/quartiero/quartiero/internal/pkg/metrics/counter"
	"github.com/quartiero/quartiero/internal/pkg/session"
	"github.com/quartiero/quartiero/internal/pkg/usercontext"
)

var (
	billingGateway    billing.ProviderGateway
	billingService    *billing.Service
	billingDispatcher *billing.Dispatcher
	billingReconciler *billing.Reconciler
	billingCatalog    *billing.Catalog

	validate = validator.New()
)

// InitializeBillingController wires the billing handlers. Must run after the
// database connection is up.
func InitializeBillingController(gw billing.ProviderGateway, catalog *billing.Catalog) {
	repo := billing.NewRepository(database.GetDB())
	billingGateway = gw
	billingCatalog = catalog
	billingService = billing.NewService(repo, log.Logger)
	billingDispatcher = billing.NewDispatcher(billingService, repo, gw, log.Logger)
	billingReconciler = billing.NewReconciler(billingService, repo, gw, log.Logger)
}

// HandleBillingWebhook is the provider-facing ingestion endpoint. The
// signature check runs on the raw body before anything touches the database;
// only verified events reach the ledger.
func HandleBillingWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := c.Get("Stripe-Signature")
	secret := env.GetEnv("STRIPE_WEBHOOK_SECRET", "")

	event, err := billing.VerifyWebhookSignature(rawBody, signature, secret)
	if err != nil {
		ipv4, ipv6 := GetClientIP(c)
		log.Warn().Err(err).Str("ipv4", ipv4).Str("ipv6", ipv6).Msg("webhook signature rejected")
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_signature"})
	}

	_ = counter.AddWebhookReceived(string(event.Type))

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Second)
	defer cancel()

	if err := billingDispatcher.HandleEvent(ctx, event); err != nil {
		_ = counter.AddWebhookFailed(string(event.Type))
		log.Error().Err(err).
			Str("event_id", event.ID).
			Str("event_type", string(event.Type)).
			Msg("webhook processing failed")
		// Generic body on purpose: the provider retries on 5xx and needs no
		// internals.
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "processing_failed"})
	}

	_ = counter.AddWebhookProcessed(string(event.Type))
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
}

type checkoutConfirmRequest struct {
	SessionID string `json:"sessionId" validate:"required,min=1,max=255"`
}

// HandleCheckoutConfirm reconciles a finished checkout for the logged-in
// user. The session id is re-fetched from the provider; nothing in the
// request body is trusted.
func HandleCheckoutConfirm(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	var req checkoutConfirmRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "Malformed JSON body"})
	}
	req.SessionID = strings.TrimSpace(req.SessionID)
	if err := validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "sessionId is required"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	res, err := billingReconciler.ConfirmCheckout(ctx, userCtx.UserID, req.SessionID)
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrNotSessionOwner):
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden", "message": "Checkout session belongs to another account"})
		case errors.Is(err, billing.ErrSessionIncomplete):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "session_incomplete", "message": "Checkout session is not completed"})
		default:
			log.Error().Err(err).Uint("user_id", userCtx.UserID).Msg("checkout confirmation failed")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "confirmation_failed"})
		}
	}

	// The entitlement was just re-derived from provider truth, so an active
	// resync cooldown is stale.
	_ = cache.Delete(resyncCooldownKey(userCtx.UserID))
	_ = session.SetSessionValue(c, "user_plan", string(res.Tier))
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"ok":         true,
		"customerId": res.CustomerID,
		"tier":       res.Tier,
	})
}

type checkoutSessionRequest struct {
	Tier       string `json:"tier" validate:"omitempty,max=50"`
	BusinessID uint   `json:"businessId" validate:"omitempty"`
	ListingID  uint   `json:"listingId" validate:"omitempty"`
}

// HandleCreateCheckoutSession starts a provider checkout: subscription mode
// for a tier purchase, payment mode for a listing boost.
func HandleCreateCheckoutSession(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	var req checkoutSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "Malformed JSON body"})
	}
	if err := validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request"})
	}
	if (req.Tier == "") == (req.ListingID == 0) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "Provide either tier or listingId"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	params := billing.CheckoutParams{
		OwnerKind:  entitlements.OwnerKindUser,
		UserID:     userCtx.UserID,
		SuccessURL: env.GetEnv("BILLING_SUCCESS_URL", "http://localhost:3000/billing/success?session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:  env.GetEnv("BILLING_CANCEL_URL", "http://localhost:3000/billing/cancel"),
	}

	if req.ListingID != 0 {
		repo := billing.NewRepository(database.GetDB())
		listing, err := repo.GetListing(req.ListingID)
		if err != nil {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Listing not found"})
		}
		if listing.UserID != userCtx.UserID {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden", "message": "Listing belongs to another account"})
		}
		params.OneTime = true
		params.ListingID = listing.ID
		params.ProductName = fmt.Sprintf("Listing boost: %s", listing.Title)
		params.AmountCents = 299
		params.Currency = "eur"
	} else {
		tier := entitlements.Tier(strings.ToUpper(strings.TrimSpace(req.Tier)))
		if entitlements.KindOf(tier) == entitlements.OwnerKindBusiness {
			if req.BusinessID == 0 {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "businessId is required for business tiers"})
			}
			repo := billing.NewRepository(database.GetDB())
			biz, err := repo.GetBusiness(req.BusinessID)
			if err != nil {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Business not found"})
			}
			if biz.OwnerUserID != userCtx.UserID {
				return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden", "message": "Business belongs to another account"})
			}
			params.OwnerKind = entitlements.OwnerKindBusiness
			params.BusinessID = biz.ID
		}
		priceID := billingCatalog.PriceID(tier)
		if priceID == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "Unknown or non-purchasable tier"})
		}
		params.PriceID = priceID
	}

	email := ""
	if user, err := billing.NewRepository(database.GetDB()).GetUser(userCtx.UserID); err == nil {
		email = user.Email
	}
	if cust, err := billingGateway.EnsureCustomer(ctx, userCtx.UserID, email, userCtx.Username); err == nil {
		params.CustomerID = cust.ID
	} else {
		log.Warn().Err(err).Uint("user_id", userCtx.UserID).Msg("customer resolution failed, checkout creates one")
	}

	sess, err := billingGateway.CreateCheckoutSession(ctx, params)
	if err != nil {
		log.Error().Err(err).Uint("user_id", userCtx.UserID).Msg("checkout session creation failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "checkout_failed"})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "sessionId": sess.ID, "url": sess.URL})
}

// HandleBillingPortal redirects the user to the provider's self-service
// portal. Requires an existing customer linkage.
func HandleBillingPortal(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	repo := billing.NewRepository(database.GetDB())
	linkage, err := repo.GetBillingCustomerByOwner(userCtx.UserID, nil)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "No billing profile yet"})
	}

	portal, err := billingGateway.CreatePortalSession(ctx, linkage.ProviderCustomerID, env.GetEnv("BILLING_PORTAL_RETURN_URL", "http://localhost:3000/user/settings/membership"))
	if err != nil {
		log.Error().Err(err).Uint("user_id", userCtx.UserID).Msg("portal session creation failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "portal_failed"})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "url": portal.URL})
}

// resyncCooldown throttles the self-service resync; webhooks keep the plan
// fresh on their own, so back-to-back resyncs only hammer the database.
const resyncCooldown = 5 * time.Minute

func resyncCooldownKey(userID uint) string {
	return fmt.Sprintf("billing:resync:cooldown:%d", userID)
}

// HandleBillingResync recomputes the caller's plan from stored subscriptions.
func HandleBillingResync(c *fiber.Ctx) error {
	userID := usercontext.GetUserID(c)

	if _, err := cache.Get(resyncCooldownKey(userID)); err == nil {
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "too_many_requests", "message": "Plan was resynced recently, try again later"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	tier, err := billingService.ReconcileOwner(ctx, entitlements.OwnerKindUser, userID)
	if err != nil {
		log.Error().Err(err).Uint("user_id", userID).Msg("plan resync failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "resync_failed"})
	}

	_ = cache.Set(resyncCooldownKey(userID), "1", resyncCooldown)
	_ = session.SetSessionValue(c, "user_plan", string(tier))
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "tier": tier})
}

// HandleAdminBillingCounters dumps the webhook counters for operators.
func HandleAdminBillingCounters(c *fiber.Ctx) error {
	snapshot, err := counter.Snapshot()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "counters_unavailable"})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "counters": snapshot})
}

// HandleAdminBillingCountersReset drains the webhook counters, typically
// after an operator has recorded the snapshot.
func HandleAdminBillingCountersReset(c *fiber.Ctx) error {
	if err := counter.Reset(); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "counters_unavailable"})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
}
