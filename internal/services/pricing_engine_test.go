package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	domain "github.com/tabitours/api/internal/domain"
)

func testCatalog() domain.Catalog {
	return domain.Catalog{
		Currency: "JPY",
		Products: []domain.TourProduct{
			{
				ID:     "nara-tour",
				Name:   "Nara day tour",
				Active: true,
				Rule: &domain.PricingRule{
					Kind:           domain.PricingRuleTiered,
					Tier1Price:     85000,
					Tier2Price:     105000,
					TierBreakpoint: 6,
				},
			},
			{
				ID:     "kyoto-private",
				Name:   "Kyoto private charter",
				Active: true,
				Rule:   &domain.PricingRule{Kind: domain.PricingRuleFlatRate, Price: 120000},
			},
			{ID: "osaka-walk", Name: "Osaka food walk", Active: true, BasePrice: 9000},
			{ID: "retired-tour", Name: "Retired", Active: false, BasePrice: 1000},
		},
		Locations: []domain.LocationFee{
			{
				LocationID: "nagoya",
				Name:       "Nagoya",
				Rule:       domain.PricingRule{Kind: domain.PricingRuleTiered, Tier1Price: 85000, Tier2Price: 95000},
			},
			{
				LocationID: "hakone",
				Name:       "Hakone",
				Rule:       domain.PricingRule{Kind: domain.PricingRuleTiered, Tier1Price: 75000, Tier2Price: 90000},
			},
		},
		Destinations: []domain.Destination{
			{ID: "nagoya-castle", Name: "Nagoya Castle", LocationID: "nagoya"},
			{ID: "atsuta", Name: "Atsuta Shrine", LocationID: "nagoya"},
			{ID: "osu", Name: "Osu Shopping Street", LocationID: "nagoya"},
			{ID: "noritake", Name: "Noritake Garden", LocationID: "nagoya"},
			{ID: "oasis21", Name: "Oasis 21", LocationID: "nagoya"},
			{ID: "meijo-park", Name: "Meijo Park", LocationID: "nagoya"},
			{ID: "lake-ashi", Name: "Lake Ashi", LocationID: "hakone"},
			{ID: "owakudani", Name: "Owakudani", LocationID: "hakone"},
			{ID: "open-air", Name: "Open-Air Museum", LocationID: "hakone"},
			{ID: "gora-park", Name: "Gora Park", LocationID: "hakone"},
			{ID: "hakone-shrine", Name: "Hakone Shrine", LocationID: "hakone"},
		},
		AddOns: []domain.AddOn{
			{ID: "airport-transfer", Name: "Airport transfer", FlatPrice: 8000, AppliesPerGroup: true},
		},
	}
}

func newTestRegistry(t *testing.T) *PricingRegistry {
	t.Helper()
	reg, err := NewPricingRegistry(testCatalog())
	if err != nil {
		t.Fatalf("NewPricingRegistry error: %v", err)
	}
	return reg
}

func newTestPricingEngine(t *testing.T) PricingEngine {
	t.Helper()
	engine, err := NewPricingEngine(PricingEngineDeps{Registry: newTestRegistry(t)})
	if err != nil {
		t.Fatalf("NewPricingEngine error: %v", err)
	}
	return engine
}

func TestPricingEngineTieredProduct(t *testing.T) {
	engine := newTestPricingEngine(t)

	cases := []struct {
		travelers int
		want      int64
	}{
		{travelers: 1, want: 85000},
		{travelers: 4, want: 85000},
		{travelers: 6, want: 85000},
		{travelers: 7, want: 105000},
		{travelers: 8, want: 105000},
		{travelers: 9, want: 105000},
	}
	for _, tc := range cases {
		quote, err := engine.Price(context.Background(), PriceCommand{ProductID: "nara-tour", TravelerCount: tc.travelers})
		if err != nil {
			t.Fatalf("travelers=%d: unexpected error %v", tc.travelers, err)
		}
		if quote.Total != tc.want {
			t.Fatalf("travelers=%d: expected total %d, got %d", tc.travelers, tc.want, quote.Total)
		}
		if len(quote.LineItems) != 1 || quote.LineItems[0].Kind != domain.LineItemPackage {
			t.Fatalf("travelers=%d: unexpected line items %#v", tc.travelers, quote.LineItems)
		}
		if quote.Currency != "JPY" || quote.Kind != domain.QuoteKindPackage || quote.ProductID != "nara-tour" {
			t.Fatalf("unexpected quote header %#v", quote)
		}
	}
}

func TestPricingEngineRejectsTravelerCountOutOfRange(t *testing.T) {
	engine := newTestPricingEngine(t)

	for _, n := range []int{-1, 0, 10, 25} {
		_, err := engine.Price(context.Background(), PriceCommand{ProductID: "nara-tour", TravelerCount: n})
		if !errors.Is(err, ErrPricingInvalidInput) {
			t.Fatalf("travelers=%d: expected invalid input, got %v", n, err)
		}
	}
}

func TestPricingEngineUnknownProduct(t *testing.T) {
	engine := newTestPricingEngine(t)

	for _, id := range []string{"missing", "retired-tour"} {
		_, err := engine.Price(context.Background(), PriceCommand{ProductID: id, TravelerCount: 2})
		if !errors.Is(err, ErrPricingUnknownProduct) {
			t.Fatalf("product %q: expected unknown product, got %v", id, err)
		}
	}
	if _, err := engine.Price(context.Background(), PriceCommand{ProductID: "  ", TravelerCount: 2}); !errors.Is(err, ErrPricingInvalidInput) {
		t.Fatalf("expected invalid input for blank product, got %v", err)
	}
}

func TestPricingEngineFlatRateIgnoresPartySize(t *testing.T) {
	engine := newTestPricingEngine(t)

	for n := domain.MinTravelers; n <= domain.MaxTravelers; n++ {
		quote, err := engine.Price(context.Background(), PriceCommand{ProductID: "kyoto-private", TravelerCount: n})
		if err != nil {
			t.Fatalf("travelers=%d: unexpected error %v", n, err)
		}
		if quote.Total != 120000 {
			t.Fatalf("travelers=%d: expected 120000, got %d", n, quote.Total)
		}
	}
}

func TestPricingEnginePerPersonFallback(t *testing.T) {
	engine := newTestPricingEngine(t)

	for n := domain.MinTravelers; n <= domain.MaxTravelers; n++ {
		quote, err := engine.Price(context.Background(), PriceCommand{ProductID: "osaka-walk", TravelerCount: n})
		if err != nil {
			t.Fatalf("travelers=%d: unexpected error %v", n, err)
		}
		if quote.Total != int64(n)*9000 {
			t.Fatalf("travelers=%d: expected %d, got %d", n, int64(n)*9000, quote.Total)
		}
		item := quote.LineItems[0]
		if item.Quantity != n || item.UnitPrice != 9000 {
			t.Fatalf("travelers=%d: unexpected line %#v", n, item)
		}
	}
}

func TestPricingEngineAddOnsAreFlatAndAdditive(t *testing.T) {
	engine := newTestPricingEngine(t)
	ctx := context.Background()

	for _, product := range []string{"nara-tour", "kyoto-private", "osaka-walk"} {
		for _, n := range []int{1, 5, 9} {
			base, err := engine.Price(ctx, PriceCommand{ProductID: product, TravelerCount: n})
			if err != nil {
				t.Fatalf("%s/%d: unexpected error %v", product, n, err)
			}
			with, err := engine.Price(ctx, PriceCommand{
				ProductID:     product,
				TravelerCount: n,
				AddOnIDs:      []string{"airport-transfer", "airport-transfer"},
			})
			if err != nil {
				t.Fatalf("%s/%d: unexpected error %v", product, n, err)
			}
			if diff := with.Total - base.Total; diff != 8000 {
				t.Fatalf("%s/%d: expected add-on delta 8000, got %d", product, n, diff)
			}
			if len(with.LineItems) != 2 || with.LineItems[1].Kind != domain.LineItemAddOn {
				t.Fatalf("%s/%d: unexpected line items %#v", product, n, with.LineItems)
			}
		}
	}
}

func TestPricingEngineUnknownAddOn(t *testing.T) {
	engine := newTestPricingEngine(t)

	_, err := engine.Price(context.Background(), PriceCommand{ProductID: "nara-tour", TravelerCount: 2, AddOnIDs: []string{"helicopter"}})
	if !errors.Is(err, ErrPricingInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if !strings.Contains(err.Error(), "helicopter") {
		t.Fatalf("expected add-on id in error, got %v", err)
	}
}

func TestPricingEngineTotalMatchesLineItems(t *testing.T) {
	engine := newTestPricingEngine(t)

	quote, err := engine.Price(context.Background(), PriceCommand{ProductID: "osaka-walk", TravelerCount: 3, AddOnIDs: []string{"airport-transfer"}})
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	var sum int64
	for _, item := range quote.LineItems {
		if item.Amount != item.UnitPrice*int64(item.Quantity) {
			t.Fatalf("line amount mismatch %#v", item)
		}
		sum += item.Amount
	}
	if sum != quote.Total || quote.Total != 35000 {
		t.Fatalf("expected total 35000 matching lines, got total=%d sum=%d", quote.Total, sum)
	}
	if quote.Travelers.Label != "3 travelers" {
		t.Fatalf("unexpected traveler label %q", quote.Travelers.Label)
	}
}

func TestNewPricingRegistryValidatesCatalog(t *testing.T) {
	cases := map[string]func(*domain.Catalog){
		"currency": func(c *domain.Catalog) {
			c.Currency = ""
		},
		"duplicate product": func(c *domain.Catalog) {
			c.Products = append(c.Products, c.Products[0])
		},
		"rule kind": func(c *domain.Catalog) {
			c.Products[0].Rule = &domain.PricingRule{Kind: "surge"}
		},
		"negative tier": func(c *domain.Catalog) {
			c.Locations[0].Rule.Tier2Price = -1
		},
		"negative add-on": func(c *domain.Catalog) {
			c.AddOns[0].FlatPrice = -5
		},
	}
	for name, mutate := range cases {
		catalog := testCatalog()
		mutate(&catalog)
		if _, err := NewPricingRegistry(catalog); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestPricingRegistryProductCountSkipsInactive(t *testing.T) {
	reg := newTestRegistry(t)
	if got := reg.ProductCount(); got != 3 {
		t.Fatalf("expected 3 active products, got %d", got)
	}
	if _, ok := reg.Product("retired-tour"); ok {
		t.Fatalf("expected inactive product to be hidden")
	}
}
