package cli

import (
	"bytes"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/Veraticus/subdupes/internal/detect"
	"github.com/Veraticus/subdupes/internal/model"
	"github.com/Veraticus/subdupes/internal/storage"
)

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "$9.90", FormatAmount(decimal.RequireFromString("9.9"), "USD"))
	assert.Equal(t, "€15.00", FormatAmount(decimal.NewFromInt(15), "EUR"))
}

func TestRenderPending(t *testing.T) {
	var out bytes.Buffer
	RenderPending(&out, []model.PendingSubscription{
		{
			ID:           "0b7a6c1e-7d6f-4f1d-9a43-3d7b9e0f2a11",
			Name:         "Spotify",
			Amount:       decimal.RequireFromString("11.99"),
			Currency:     "USD",
			BillingCycle: model.CycleMonthly,
			Source:       model.SourceProactivePrompt,
			SavedAt:      time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		},
	})

	got := out.String()
	assert.Contains(t, got, "0b7a6c1e-7d6f-4f1d-9a43-3d7b9e0f2a11")
	assert.Contains(t, got, "Spotify")
	assert.Contains(t, got, "$11.99")
}

func TestRenderConflicts(t *testing.T) {
	var out bytes.Buffer
	RenderConflicts(&out, []model.Conflict{testConflict()})

	got := out.String()
	assert.Contains(t, got, "Netflix Standard")
	assert.Contains(t, got, "$22.99")
	assert.Contains(t, got, "$15.49")
}

func TestRenderBreakdown(t *testing.T) {
	var out bytes.Buffer
	rules := detect.DefaultRules()
	RenderBreakdown(&out, detect.Breakdown{URL: 20, Keywords: 15, DOM: 10, Price: 5}, rules)

	got := out.String()
	assert.Contains(t, got, "Keywords")
	assert.Contains(t, got, "50")
}

func TestNewSyncProgress_NotTerminal(t *testing.T) {
	var out bytes.Buffer
	bar := NewSyncProgress(&out, 3)
	_ = bar.Add(3)

	assert.Empty(t, out.String())
}

func TestRenderFields(t *testing.T) {
	var out bytes.Buffer
	RenderFields(&out, []storage.FieldInfo{
		{Name: "pendingSubscriptions", Size: 412, UpdatedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)},
		{Name: "userProfile", Size: 58, UpdatedAt: time.Date(2024, 3, 2, 12, 0, 0, 0, time.UTC)},
	})

	got := out.String()
	assert.Contains(t, got, "pendingSubscriptions")
	assert.Contains(t, got, "412")
	assert.Contains(t, got, "userProfile")
	assert.Contains(t, got, "Bytes")
}
