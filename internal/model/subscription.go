// Package model defines the core domain models used throughout the application.
package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// BillingCycle is how often a subscription charges.
type BillingCycle string

// Billing cycle constants.
const (
	CycleMonthly BillingCycle = "MONTHLY"
	CycleYearly  BillingCycle = "YEARLY"
	CycleWeekly  BillingCycle = "WEEKLY"
)

// ParseBillingCycle maps free-form input onto a BillingCycle.
// Unknown or empty input is treated as monthly.
func ParseBillingCycle(s string) BillingCycle {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "YEARLY", "ANNUAL", "ANNUALLY", "YEAR":
		return CycleYearly
	case "WEEKLY", "WEEK":
		return CycleWeekly
	default:
		return CycleMonthly
	}
}

// Source indicates how a pending subscription entered the queue.
type Source string

const (
	// SourcePassiveDetection indicates a background page scan produced the record.
	SourcePassiveDetection Source = "PASSIVE_DETECTION"
	// SourceProactivePrompt indicates the user accepted an in-page save prompt.
	SourceProactivePrompt Source = "PROACTIVE_PROMPT"
	// SourceContextMenu indicates the user saved a text selection.
	SourceContextMenu Source = "CONTEXT_MENU"
	// SourceManual indicates the user entered the record by hand.
	SourceManual Source = "MANUAL"
	// SourceGmailBulkScan indicates an inbox scan produced the record.
	SourceGmailBulkScan Source = "GMAIL_BULK_SCAN"
)

// SubscriptionCandidate is a transient subscription extracted from a scanned page.
// It only ever travels as a message payload.
type SubscriptionCandidate struct {
	DetectedAt      time.Time       `json:"detectedAt"`
	Name            string          `json:"name"`
	PlanName        string          `json:"planName,omitempty"`
	Currency        string          `json:"currency"`
	BillingCycle    BillingCycle    `json:"billingCycle"`
	WebsiteURL      string          `json:"websiteUrl"`
	Amount          decimal.Decimal `json:"amount"`
	ConfidenceScore int             `json:"confidenceScore"`
}

// Signature returns the structural identity of the candidate. Two candidates
// with the same signature describe the same detection.
func (c SubscriptionCandidate) Signature() string {
	return strings.Join([]string{
		c.Name,
		c.PlanName,
		c.Amount.String(),
		c.Currency,
		string(c.BillingCycle),
		c.WebsiteURL,
	}, "\x1f")
}

// PendingSubscription is a subscription saved locally and awaiting remote creation.
type PendingSubscription struct {
	SavedAt      time.Time       `json:"savedAt"`
	DetectedAt   time.Time       `json:"detectedAt"`
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	PlanName     string          `json:"planName,omitempty"`
	Currency     string          `json:"currency"`
	BillingCycle BillingCycle    `json:"billingCycle"`
	WebsiteURL   string          `json:"websiteUrl"`
	Source       Source          `json:"source"`
	Notes        string          `json:"notes,omitempty"`
	Amount       decimal.Decimal `json:"amount"`
}

// PendingFromCandidate converts a detection into a pending record.
// ID and SavedAt are assigned by the queue.
func PendingFromCandidate(c SubscriptionCandidate, source Source) PendingSubscription {
	return PendingSubscription{
		DetectedAt:   c.DetectedAt,
		Name:         c.Name,
		PlanName:     c.PlanName,
		Amount:       c.Amount,
		Currency:     c.Currency,
		BillingCycle: c.BillingCycle,
		WebsiteURL:   c.WebsiteURL,
		Source:       source,
	}
}

// String implements fmt.Stringer for log output.
func (p PendingSubscription) String() string {
	return fmt.Sprintf("%s (%s %s %s)", p.Name, p.Amount.StringFixed(2), p.Currency, p.BillingCycle)
}

// ExistingSubscription is an authoritative record owned by the backend.
type ExistingSubscription struct {
	NextBillingDate time.Time       `json:"nextBillingDate"`
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	PlanName        string          `json:"planName,omitempty"`
	Currency        string          `json:"currency"`
	BillingCycle    BillingCycle    `json:"billingCycle"`
	WebsiteURL      string          `json:"websiteUrl"`
	Amount          decimal.Decimal `json:"amount"`
}

// Draft is a subscription staged for the user to review before saving.
type Draft struct {
	Name         string          `json:"name"`
	PlanName     string          `json:"planName,omitempty"`
	Currency     string          `json:"currency,omitempty"`
	BillingCycle BillingCycle    `json:"billingCycle,omitempty"`
	WebsiteURL   string          `json:"websiteUrl,omitempty"`
	Source       Source          `json:"source,omitempty"`
	Notes        string          `json:"notes,omitempty"`
	Amount       decimal.Decimal `json:"amount"`
}

// DraftFromCandidate stages a detection as a draft.
func DraftFromCandidate(c SubscriptionCandidate) Draft {
	return Draft{
		Name:         c.Name,
		PlanName:     c.PlanName,
		Amount:       c.Amount,
		Currency:     c.Currency,
		BillingCycle: c.BillingCycle,
		WebsiteURL:   c.WebsiteURL,
		Source:       SourcePassiveDetection,
	}
}

// UserProfile is the signed-in user's account as reported by the backend.
type UserProfile struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"firstName,omitempty"`
	Plan      string `json:"plan,omitempty"`
	BCCEmail  string `json:"bccEmail,omitempty"`
}
