// Package billing - Stripe integration for LAUNCHPAD.
//
// Tier is billing-driven: a subscription makes a user pro, losing it
// drops them back to free. The webhook is the source of truth; checkout
// and portal are just doors into Stripe-hosted pages.
package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"launchpad/internal/logging"
	"launchpad/internal/models"
	"launchpad/internal/quota"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrBadSignature = errors.New("webhook signature verification failed")

// Service owns everything Stripe.
type Service struct {
	db            *gorm.DB
	quota         *quota.Manager
	webhookSecret string
	proPriceID    string
	packPriceID   string
	frontendURL   string
}

// NewService configures the billing service and sets the global Stripe key.
func NewService(db *gorm.DB, qm *quota.Manager, apiKey, webhookSecret, proPriceID, packPriceID, frontendURL string) *Service {
	stripe.Key = apiKey
	return &Service{
		db:            db,
		quota:         qm,
		webhookSecret: webhookSecret,
		proPriceID:    proPriceID,
		packPriceID:   packPriceID,
		frontendURL:   frontendURL,
	}
}

// CreateCheckout opens a Stripe-hosted checkout for the pro subscription
// or an add-on pack.
func (s *Service) CreateCheckout(ctx context.Context, user *models.User, pack bool) (string, error) {
	priceID := s.proPriceID
	mode := stripe.CheckoutSessionModeSubscription
	if pack {
		if !user.IsPro() {
			return "", errors.New("add-on packs require an active pro subscription")
		}
		priceID = s.packPriceID
		mode = stripe.CheckoutSessionModePayment
	}

	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(mode)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(priceID), Quantity: stripe.Int64(1)},
		},
		SuccessURL:        stripe.String(s.frontendURL + "/dashboard?billing=success"),
		CancelURL:         stripe.String(s.frontendURL + "/dashboard?billing=cancelled"),
		ClientReferenceID: stripe.String(fmt.Sprintf("%d", user.ID)),
	}
	if user.StripeCustomerID != "" {
		params.Customer = stripe.String(user.StripeCustomerID)
	} else {
		params.CustomerEmail = stripe.String(user.Email)
	}
	params.Context = ctx

	sess, err := checkoutsession.New(params)
	if err != nil {
		return "", fmt.Errorf("create checkout session: %w", err)
	}
	return sess.URL, nil
}

// CreatePortal opens the Stripe billing portal for an existing customer.
func (s *Service) CreatePortal(ctx context.Context, user *models.User) (string, error) {
	if user.StripeCustomerID == "" {
		return "", errors.New("no billing account on file")
	}
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(user.StripeCustomerID),
		ReturnURL: stripe.String(s.frontendURL + "/dashboard"),
	}
	params.Context = ctx

	sess, err := session.New(params)
	if err != nil {
		return "", fmt.Errorf("create portal session: %w", err)
	}
	return sess.URL, nil
}

// HandleWebhook verifies and applies one Stripe event.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	event, err := webhook.ConstructEvent(payload, signature, s.webhookSecret)
	if err != nil {
		return ErrBadSignature
	}

	log := logging.S().With("stripe_event", event.Type, "event_id", event.ID)

	switch event.Type {
	case "checkout.session.completed":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return fmt.Errorf("decode checkout session: %w", err)
		}
		return s.applyCheckout(ctx, log, &sess)

	case "customer.subscription.updated", "customer.subscription.created":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("decode subscription: %w", err)
		}
		return s.applySubscription(ctx, log, &sub)

	case "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("decode subscription: %w", err)
		}
		return s.applyCancellation(ctx, log, &sub)

	default:
		log.Debugw("unhandled stripe event ignored")
		return nil
	}
}

func (s *Service) applyCheckout(ctx context.Context, log *zap.SugaredLogger, sess *stripe.CheckoutSession) error {
	user, err := s.userForCheckout(ctx, sess)
	if err != nil || user == nil {
		return err
	}

	updates := map[string]any{}
	if sess.Customer != nil && user.StripeCustomerID == "" {
		updates["stripe_customer_id"] = sess.Customer.ID
	}

	switch sess.Mode {
	case stripe.CheckoutSessionModeSubscription:
		updates["tier"] = models.TierPro
		updates["tier_status"] = models.TierStatusActive
		if sess.Subscription != nil {
			updates["stripe_subscription_id"] = sess.Subscription.ID
		}
	case stripe.CheckoutSessionModePayment:
		updates["add_on_packs"] = gorm.Expr("add_on_packs + 1")
	}

	if err := s.db.WithContext(ctx).Model(user).Updates(updates).Error; err != nil {
		return fmt.Errorf("apply checkout for user %d: %w", user.ID, err)
	}

	if sess.Mode == stripe.CheckoutSessionModeSubscription && user.Tier != models.TierPro {
		if err := s.quota.ApplyUpgrade(ctx, user.ID); err != nil {
			log.Errorw("TTL clear on upgrade failed", "user_id", user.ID, "error", err)
		}
	}
	log.Infow("checkout applied", "user_id", user.ID, "mode", sess.Mode)
	return nil
}

func (s *Service) applySubscription(ctx context.Context, log *zap.SugaredLogger, sub *stripe.Subscription) error {
	user, err := s.userForCustomer(ctx, sub.Customer)
	if err != nil || user == nil {
		return err
	}

	wasPro := user.IsPro()
	updates := map[string]any{"stripe_subscription_id": sub.ID}

	switch sub.Status {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
		updates["tier"] = models.TierPro
		updates["tier_status"] = models.TierStatusActive
	case stripe.SubscriptionStatusPastDue, stripe.SubscriptionStatusUnpaid:
		updates["tier_status"] = models.TierStatusPastDue
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusIncompleteExpired:
		updates["tier"] = models.TierFree
		updates["tier_status"] = models.TierStatusCanceled
		updates["add_on_packs"] = 0
	default:
		log.Debugw("subscription status ignored", "status", sub.Status)
		return nil
	}

	if err := s.db.WithContext(ctx).Model(user).Updates(updates).Error; err != nil {
		return fmt.Errorf("apply subscription for user %d: %w", user.ID, err)
	}

	if !wasPro && sub.Status == stripe.SubscriptionStatusActive {
		if err := s.quota.ApplyUpgrade(ctx, user.ID); err != nil {
			log.Errorw("TTL clear on upgrade failed", "user_id", user.ID, "error", err)
		}
	}
	log.Infow("subscription applied", "user_id", user.ID, "status", sub.Status)
	return nil
}

func (s *Service) applyCancellation(ctx context.Context, log *zap.SugaredLogger, sub *stripe.Subscription) error {
	user, err := s.userForCustomer(ctx, sub.Customer)
	if err != nil || user == nil {
		return err
	}
	err = s.db.WithContext(ctx).Model(user).Updates(map[string]any{
		"tier":                   models.TierFree,
		"tier_status":            models.TierStatusCanceled,
		"stripe_subscription_id": "",
		"add_on_packs":           0,
	}).Error
	if err != nil {
		return fmt.Errorf("apply cancellation for user %d: %w", user.ID, err)
	}
	log.Infow("subscription cancelled", "user_id", user.ID)
	return nil
}

// userForCheckout resolves the user from the client reference id, falling
// back to the customer id for sessions created outside the app.
func (s *Service) userForCheckout(ctx context.Context, sess *stripe.CheckoutSession) (*models.User, error) {
	if sess.ClientReferenceID != "" {
		var user models.User
		err := s.db.WithContext(ctx).Where("id = ?", sess.ClientReferenceID).First(&user).Error
		if err == nil {
			return &user, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	return s.userForCustomer(ctx, sess.Customer)
}

func (s *Service) userForCustomer(ctx context.Context, customer *stripe.Customer) (*models.User, error) {
	if customer == nil {
		logging.S().Warnw("stripe event without customer discarded")
		return nil, nil
	}
	var user models.User
	err := s.db.WithContext(ctx).Where("stripe_customer_id = ?", customer.ID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		logging.S().Warnw("stripe event for unknown customer discarded", "customer", customer.ID)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}
