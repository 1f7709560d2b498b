package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"opsdesk/pkg/tenant"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(filepath.Join(t.TempDir(), "tenants.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleConfig() tenant.Configuration {
	return tenant.Configuration{
		ID:     "t-acme",
		Name:   "Acme Support",
		Slug:   "acme",
		Status: tenant.StatusActive,
		Inference: tenant.InferenceConfig{
			Provider:    "openai",
			Model:       "gpt-4o-mini",
			ModelTier:   "standard",
			Temperature: 0.2,
			MaxTokens:   1024,
		},
		ERP: tenant.ERPSettings{
			Adapter:     "odoo",
			Endpoint:    "https://erp.acme.example",
			Database:    "acme",
			Login:       "svc-support",
			Credentials: "c2VhbGVk",
			Governance: tenant.Governance{
				ManualApprovalRequired: false,
				MinAutoExecConfidence:  0.9,
				NotificationChannels:   []string{"email"},
			},
		},
		Retrieval: tenant.RetrievalConfig{MaxChunks: 5, SimilarityThreshold: 0.75},
		Branding:  tenant.Branding{DisplayName: "Acme", Greeting: "Hi!"},
		Region:    "eu-west",
		UpdatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	want := sampleConfig()

	if err := store.Put(ctx, want); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, err := store.Get(ctx, "t-acme")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	if got.Name != want.Name || got.Status != want.Status || got.Region != want.Region {
		t.Fatalf("Get() = %+v, want %+v", got, want)
	}
	if got.ERP.Governance.MinAutoExecConfidence != 0.9 {
		t.Fatalf("governance not preserved: %+v", got.ERP.Governance)
	}
	if got.Inference.Model != "gpt-4o-mini" {
		t.Fatalf("inference not preserved: %+v", got.Inference)
	}
	if !got.UpdatedAt.Equal(want.UpdatedAt) {
		t.Fatalf("updated_at = %v, want %v", got.UpdatedAt, want.UpdatedAt)
	}
}

func TestPutUpsertsExistingRow(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	cfg := sampleConfig()

	if err := store.Put(ctx, cfg); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	cfg.Status = tenant.StatusMaintenance
	cfg.Name = "Acme Support (maintenance)"
	if err := store.Put(ctx, cfg); err != nil {
		t.Fatalf("Put() update error = %v", err)
	}

	got, err := store.Get(ctx, cfg.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != tenant.StatusMaintenance {
		t.Fatalf("status = %s, want maintenance", got.Status)
	}
}

func TestGetMissingTenant(t *testing.T) {
	store := openTestStore(t)

	_, err := store.Get(context.Background(), "nope")
	if !errors.Is(err, tenant.ErrNotFound) {
		t.Fatalf("Get() error = %v, want tenant.ErrNotFound", err)
	}
}

func TestPutRejectsInvalidRecord(t *testing.T) {
	store := openTestStore(t)
	cfg := sampleConfig()
	cfg.Status = "bogus"

	if err := store.Put(context.Background(), cfg); err == nil {
		t.Fatal("Put() accepted invalid status")
	}
}
