package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/tabitours/api/internal/domain"
)

var (
	// ErrPricingInvalidInput signals bad selection data such as an out-of-range traveler count.
	ErrPricingInvalidInput = errors.New("pricing: invalid input")
	// ErrPricingUnknownProduct is returned when the product is absent from the registry or inactive.
	ErrPricingUnknownProduct = errors.New("pricing: unknown product")
)

type pricingEngine struct {
	registry *PricingRegistry
	logger   func(context.Context, string, map[string]any)
}

type PricingEngineDeps struct {
	Registry *PricingRegistry
	Logger   func(context.Context, string, map[string]any)
}

func NewPricingEngine(deps PricingEngineDeps) (PricingEngine, error) {
	if deps.Registry == nil {
		return nil, errors.New("pricing engine: registry is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &pricingEngine{registry: deps.Registry, logger: logger}, nil
}

type PriceCommand struct {
	ProductID     string
	TravelerCount int
	AddOnIDs      []string
}

func (e *pricingEngine) Price(ctx context.Context, cmd PriceCommand) (Quote, error) {
	if err := validateTravelerCount(cmd.TravelerCount); err != nil {
		return Quote{}, fmt.Errorf("%w: %s", ErrPricingInvalidInput, err.Error())
	}
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return Quote{}, fmt.Errorf("%w: product id is required", ErrPricingInvalidInput)
	}

	product, ok := e.registry.Product(productID)
	if !ok {
		return Quote{}, fmt.Errorf("%w: %s", ErrPricingUnknownProduct, productID)
	}
	rule, _ := e.registry.ProductRule(productID)

	unit, qty, err := applyRule(rule, cmd.TravelerCount)
	if err != nil {
		return Quote{}, fmt.Errorf("%w: product %s: %s", ErrPricingInvalidInput, productID, err.Error())
	}
	amount, err := lineAmount(unit, qty)
	if err != nil {
		return Quote{}, fmt.Errorf("%w: product %s: %s", ErrPricingInvalidInput, productID, err.Error())
	}

	label := travelerLabel(cmd.TravelerCount, cmd.TravelerCount)
	items := []QuoteLineItem{{
		Kind:        domain.LineItemPackage,
		ReferenceID: product.ID,
		Description: fmt.Sprintf("%s (%s)", product.Name, label),
		UnitPrice:   unit,
		Quantity:    qty,
		Amount:      amount,
	}}

	addOns, err := e.registry.addOnLines(cmd.AddOnIDs, "")
	if err != nil {
		return Quote{}, fmt.Errorf("%w: %s", ErrPricingInvalidInput, err.Error())
	}
	items = append(items, addOns...)

	total, err := sumLineItems(items)
	if err != nil {
		return Quote{}, fmt.Errorf("%w: %s", ErrPricingInvalidInput, err.Error())
	}

	e.logger(ctx, "pricing.package.quoted", map[string]any{
		"productId": product.ID,
		"travelers": cmd.TravelerCount,
		"ruleKind":  string(rule.Kind),
		"total":     total,
	})

	return Quote{
		Kind:      domain.QuoteKindPackage,
		Currency:  e.registry.Currency(),
		ProductID: product.ID,
		Title:     product.Name,
		LineItems: items,
		Total:     total,
		Travelers: TravelerRange{Min: cmd.TravelerCount, Max: cmd.TravelerCount, Label: label},
	}, nil
}
