package bootstrap

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/ivankudzin/storefront/internal/config"
	"github.com/ivankudzin/storefront/internal/domain/enums"
)

func memoryConfig() config.Config {
	cfg := config.Default()
	cfg.Storage.Driver = "memory"
	cfg.Redis.Addr = ""
	cfg.S3.Endpoint = ""
	cfg.Notify.Channels = []string{"log", "receipt"}
	cfg.Catalog = []config.CatalogItemConfig{
		{Type: "course", ID: "go-masterclass", Price: 499900, Currency: "inr", Available: true},
	}
	return cfg
}

func TestCatalogSeedNormalizesEntries(t *testing.T) {
	items, err := CatalogSeed([]config.CatalogItemConfig{
		{Type: "Workshop", ID: " pricing ", Price: 100, Currency: "usd", Capacity: 20, Available: true},
	})
	if err != nil {
		t.Fatalf("seed catalog: %v", err)
	}
	if len(items) != 1 || items[0].Ref.Type != enums.ItemTypeWorkshop || items[0].Ref.ID != "pricing" || items[0].Currency != "USD" {
		t.Fatalf("unexpected seed: %+v", items)
	}

	if _, err := CatalogSeed([]config.CatalogItemConfig{{Type: "ebook", ID: "x", Price: 1}}); err == nil {
		t.Fatalf("expected unknown type error")
	}
	if _, err := CatalogSeed([]config.CatalogItemConfig{{Type: "course", ID: "x", Price: 0}}); err == nil {
		t.Fatalf("expected non-positive price error")
	}
}

func TestNewCheckoutWiresMemoryPipelineWithoutOptionalClients(t *testing.T) {
	c, err := NewCheckout(context.Background(), memoryConfig(), Options{}, zap.NewNop())
	if err != nil {
		t.Fatalf("wire checkout: %v", err)
	}
	defer c.Close()

	if c.Storage != "memory" || c.Payments == nil || c.Notifier == nil {
		t.Fatalf("unexpected wiring: %+v", c)
	}
	if c.Receipts != nil {
		t.Fatalf("receipts should stay disabled without s3")
	}
	if c.Payments.GatewayName() != "sandbox" {
		t.Fatalf("unexpected gateway: %s", c.Payments.GatewayName())
	}
}

func TestNewCheckoutRejectsMemoryWhenDurableStorageRequired(t *testing.T) {
	if _, err := NewCheckout(context.Background(), memoryConfig(), Options{RequireDurableStorage: true}, zap.NewNop()); err == nil {
		t.Fatalf("expected memory driver to be rejected")
	}
}
