package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"golang.org/x/text/currency"

	domain "github.com/tabitours/api/internal/domain"
	"github.com/tabitours/api/internal/repositories"
)

// PricingRegistry is the single lookup table for pricing rules. Both the package path and the
// custom-cart path resolve rules here so a product or location is never priced two ways.
type PricingRegistry struct {
	currency     string
	products     map[string]domain.TourProduct
	locations    map[string]domain.LocationFee
	destinations map[string]domain.Destination
	addOns       map[string]domain.AddOn
}

// LoadPricingRegistry reads the catalog once and builds the registry from it.
func LoadPricingRegistry(ctx context.Context, repo repositories.CatalogRepository) (*PricingRegistry, error) {
	if repo == nil {
		return nil, errors.New("pricing registry: catalog repository is required")
	}
	catalog, err := repo.LoadCatalog(ctx)
	if err != nil {
		return nil, fmt.Errorf("pricing registry: load catalog: %w", err)
	}
	return NewPricingRegistry(catalog)
}

// NewPricingRegistry validates the catalog and indexes it by id.
func NewPricingRegistry(catalog domain.Catalog) (*PricingRegistry, error) {
	unit, err := currency.ParseISO(strings.TrimSpace(catalog.Currency))
	if err != nil {
		return nil, fmt.Errorf("pricing registry: invalid catalog currency %q", catalog.Currency)
	}

	reg := &PricingRegistry{
		currency:     unit.String(),
		products:     make(map[string]domain.TourProduct, len(catalog.Products)),
		locations:    make(map[string]domain.LocationFee, len(catalog.Locations)),
		destinations: make(map[string]domain.Destination, len(catalog.Destinations)),
		addOns:       make(map[string]domain.AddOn, len(catalog.AddOns)),
	}

	for _, product := range catalog.Products {
		id := strings.TrimSpace(product.ID)
		if id == "" {
			return nil, errors.New("pricing registry: product id is required")
		}
		if _, dup := reg.products[id]; dup {
			return nil, fmt.Errorf("pricing registry: duplicate product %s", id)
		}
		if product.BasePrice < 0 {
			return nil, fmt.Errorf("pricing registry: product %s has negative base price", id)
		}
		if product.Rule != nil {
			rule := *product.Rule
			if err := validateRule(rule); err != nil {
				return nil, fmt.Errorf("pricing registry: product %s: %w", id, err)
			}
			product.Rule = &rule
		}
		product.ID = id
		reg.products[id] = product
	}

	for _, loc := range catalog.Locations {
		id := strings.TrimSpace(loc.LocationID)
		if id == "" {
			return nil, errors.New("pricing registry: location id is required")
		}
		if _, dup := reg.locations[id]; dup {
			return nil, fmt.Errorf("pricing registry: duplicate location %s", id)
		}
		if err := validateRule(loc.Rule); err != nil {
			return nil, fmt.Errorf("pricing registry: location %s: %w", id, err)
		}
		loc.LocationID = id
		reg.locations[id] = loc
	}

	for _, dest := range catalog.Destinations {
		id := strings.TrimSpace(dest.ID)
		if id == "" {
			return nil, errors.New("pricing registry: destination id is required")
		}
		dest.ID = id
		reg.destinations[id] = dest
	}

	for _, addOn := range catalog.AddOns {
		id := strings.TrimSpace(addOn.ID)
		if id == "" {
			return nil, errors.New("pricing registry: add-on id is required")
		}
		if addOn.FlatPrice < 0 {
			return nil, fmt.Errorf("pricing registry: add-on %s has negative price", id)
		}
		addOn.ID = id
		reg.addOns[id] = addOn
	}

	return reg, nil
}

// Currency returns the ISO code every catalog price is denominated in.
func (r *PricingRegistry) Currency() string {
	return r.currency
}

// ProductCount reports how many active products can be quoted.
func (r *PricingRegistry) ProductCount() int {
	count := 0
	for _, product := range r.products {
		if product.Active {
			count++
		}
	}
	return count
}

// Product returns an active product.
func (r *PricingRegistry) Product(id string) (domain.TourProduct, bool) {
	product, ok := r.products[strings.TrimSpace(id)]
	if !ok || !product.Active {
		return domain.TourProduct{}, false
	}
	return product, true
}

// ProductRule resolves the rule for a product, falling back to per-person at the base price.
func (r *PricingRegistry) ProductRule(id string) (domain.PricingRule, bool) {
	product, ok := r.Product(id)
	if !ok {
		return domain.PricingRule{}, false
	}
	if product.Rule != nil {
		return *product.Rule, true
	}
	return domain.PricingRule{Kind: domain.PricingRulePerPerson, UnitPrice: product.BasePrice}, true
}

// Location returns the group fee definition for a custom-cart location.
func (r *PricingRegistry) Location(id string) (domain.LocationFee, bool) {
	loc, ok := r.locations[strings.TrimSpace(id)]
	return loc, ok
}

func (r *PricingRegistry) Destination(id string) (domain.Destination, bool) {
	dest, ok := r.destinations[strings.TrimSpace(id)]
	return dest, ok
}

func (r *PricingRegistry) AddOn(id string) (domain.AddOn, bool) {
	addOn, ok := r.addOns[strings.TrimSpace(id)]
	return addOn, ok
}

// addOnLines turns add-on ids into flat line items. Duplicate ids count once.
func (r *PricingRegistry) addOnLines(ids []string, date string) ([]domain.QuoteLineItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	seen := make(map[string]struct{}, len(ids))
	lines := make([]domain.QuoteLineItem, 0, len(ids))
	for _, raw := range ids {
		id := strings.TrimSpace(raw)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		addOn, ok := r.AddOn(id)
		if !ok {
			return nil, fmt.Errorf("unknown add-on %s", id)
		}
		lines = append(lines, domain.QuoteLineItem{
			Kind:        domain.LineItemAddOn,
			ReferenceID: addOn.ID,
			Date:        date,
			Description: addOn.Name,
			UnitPrice:   addOn.FlatPrice,
			Quantity:    1,
			Amount:      addOn.FlatPrice,
		})
	}
	return lines, nil
}

func validateRule(rule domain.PricingRule) error {
	switch rule.Kind {
	case domain.PricingRuleTiered:
		if rule.Tier1Price < 0 || rule.Tier2Price < 0 {
			return errors.New("tier prices must be non-negative")
		}
		if rule.TierBreakpoint < 0 || rule.TierBreakpoint > domain.MaxTravelers {
			return fmt.Errorf("tier breakpoint %d out of range", rule.TierBreakpoint)
		}
	case domain.PricingRuleFlatRate:
		if rule.Price < 0 {
			return errors.New("flat price must be non-negative")
		}
	case domain.PricingRulePerPerson:
		if rule.UnitPrice < 0 {
			return errors.New("unit price must be non-negative")
		}
	default:
		return fmt.Errorf("unsupported rule kind %q", rule.Kind)
	}
	return nil
}

// applyRule evaluates a rule for a validated traveler count and returns the unit price and quantity
// of the resulting line item.
func applyRule(rule domain.PricingRule, travelers int) (int64, int, error) {
	switch rule.Kind {
	case domain.PricingRuleTiered:
		breakpoint := rule.TierBreakpoint
		if breakpoint <= 0 {
			breakpoint = domain.DefaultTierBreakpoint
		}
		if travelers <= breakpoint {
			return rule.Tier1Price, 1, nil
		}
		return rule.Tier2Price, 1, nil
	case domain.PricingRuleFlatRate:
		return rule.Price, 1, nil
	case domain.PricingRulePerPerson:
		return rule.UnitPrice, travelers, nil
	default:
		return 0, 0, fmt.Errorf("unsupported rule kind %q", rule.Kind)
	}
}

func lineAmount(unit int64, qty int) (int64, error) {
	if unit < 0 || qty < 0 {
		return 0, errors.New("negative line values")
	}
	if qty > 0 && unit > math.MaxInt64/int64(qty) {
		return 0, errors.New("line amount overflow")
	}
	return unit * int64(qty), nil
}

func sumLineItems(items []domain.QuoteLineItem) (int64, error) {
	var total int64
	for _, item := range items {
		if item.Amount > 0 && total > math.MaxInt64-item.Amount {
			return 0, errors.New("quote total overflow")
		}
		total += item.Amount
	}
	return total, nil
}

func validateTravelerCount(n int) error {
	if n < domain.MinTravelers || n > domain.MaxTravelers {
		return fmt.Errorf("traveler count must be between %d and %d", domain.MinTravelers, domain.MaxTravelers)
	}
	return nil
}

func travelerLabel(minCount, maxCount int) string {
	if minCount == maxCount {
		if minCount == 1 {
			return "1 traveler"
		}
		return fmt.Sprintf("%d travelers", minCount)
	}
	return fmt.Sprintf("%d-%d travelers", minCount, maxCount)
}
