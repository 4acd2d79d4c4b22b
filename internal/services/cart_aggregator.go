package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	domain "github.com/tabitours/api/internal/domain"
)

const (
	maxCartDays    = 14
	cartDateLayout = "2006-01-02"
)

// ErrCartInvalidSelection covers every rejected custom-cart day: bad dates, unknown locations,
// destination counts outside the allowed range and out-of-range traveler counts.
var ErrCartInvalidSelection = errors.New("cart: invalid selection")

type cartAggregator struct {
	registry *PricingRegistry
	logger   func(context.Context, string, map[string]any)
}

type CartAggregatorDeps struct {
	Registry *PricingRegistry
	Logger   func(context.Context, string, map[string]any)
}

func NewCartAggregator(deps CartAggregatorDeps) (CartAggregator, error) {
	if deps.Registry == nil {
		return nil, errors.New("cart aggregator: registry is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &cartAggregator{registry: deps.Registry, logger: logger}, nil
}

type AggregateCommand struct {
	Days []DaySelection
}

type pricedDay struct {
	display QuoteDay
	items   []QuoteLineItem
}

func (a *cartAggregator) Aggregate(ctx context.Context, cmd AggregateCommand) (Quote, error) {
	if len(cmd.Days) == 0 {
		return Quote{}, fmt.Errorf("%w: at least one day is required", ErrCartInvalidSelection)
	}
	if len(cmd.Days) > maxCartDays {
		return Quote{}, fmt.Errorf("%w: at most %d days per cart", ErrCartInvalidSelection, maxCartDays)
	}

	days := make([]pricedDay, 0, len(cmd.Days))
	seenDates := make(map[string]struct{}, len(cmd.Days))
	for i, sel := range cmd.Days {
		day, err := a.priceDay(sel)
		if err != nil {
			a.logger(ctx, "cart.day.rejected", map[string]any{
				"index": i,
				"date":  sel.Date,
				"error": err.Error(),
			})
			return Quote{}, fmt.Errorf("%w: day %d: %s", ErrCartInvalidSelection, i+1, err.Error())
		}
		if _, dup := seenDates[day.display.Date]; dup {
			return Quote{}, fmt.Errorf("%w: date %s selected twice", ErrCartInvalidSelection, day.display.Date)
		}
		seenDates[day.display.Date] = struct{}{}
		days = append(days, day)
	}

	// Line items follow calendar order so the quote does not depend on how the client ordered days.
	sort.Slice(days, func(i, j int) bool {
		return days[i].display.Date < days[j].display.Date
	})

	quote := Quote{
		Kind:     domain.QuoteKindCustomCart,
		Currency: a.registry.Currency(),
		Title:    "Custom tour",
	}
	minTravelers, maxTravelers := domain.MaxTravelers, domain.MinTravelers
	for _, day := range days {
		quote.LineItems = append(quote.LineItems, day.items...)
		quote.Days = append(quote.Days, day.display)
		quote.Dates = append(quote.Dates, day.display.Date)
		if day.display.TravelerCount < minTravelers {
			minTravelers = day.display.TravelerCount
		}
		if day.display.TravelerCount > maxTravelers {
			maxTravelers = day.display.TravelerCount
		}
	}

	total, err := sumLineItems(quote.LineItems)
	if err != nil {
		return Quote{}, fmt.Errorf("%w: %s", ErrCartInvalidSelection, err.Error())
	}
	quote.Total = total
	quote.Travelers = TravelerRange{Min: minTravelers, Max: maxTravelers, Label: travelerLabel(minTravelers, maxTravelers)}

	a.logger(ctx, "pricing.cart.quoted", map[string]any{
		"days":  len(days),
		"total": total,
	})
	return quote, nil
}

func (a *cartAggregator) priceDay(sel DaySelection) (pricedDay, error) {
	date := strings.TrimSpace(sel.Date)
	parsed, err := time.Parse(cartDateLayout, date)
	if err != nil {
		return pricedDay{}, fmt.Errorf("date %q must use YYYY-MM-DD", sel.Date)
	}
	date = parsed.Format(cartDateLayout)

	if err := validateTravelerCount(sel.TravelerCount); err != nil {
		return pricedDay{}, err
	}

	loc, ok := a.registry.Location(sel.LocationID)
	if !ok {
		return pricedDay{}, fmt.Errorf("unknown location %q", sel.LocationID)
	}

	destIDs := dedupeIDs(sel.DestinationIDs)
	if len(destIDs) < domain.MinDestinationsPerDay || len(destIDs) > domain.MaxDestinationsPerDay {
		return pricedDay{}, fmt.Errorf("pick between %d and %d destinations, got %d",
			domain.MinDestinationsPerDay, domain.MaxDestinationsPerDay, len(destIDs))
	}
	names := make([]string, 0, len(destIDs))
	for _, id := range destIDs {
		dest, ok := a.registry.Destination(id)
		if !ok {
			return pricedDay{}, fmt.Errorf("unknown destination %q", id)
		}
		if dest.LocationID != "" && dest.LocationID != loc.LocationID {
			return pricedDay{}, fmt.Errorf("destination %q is not in %s", id, loc.Name)
		}
		names = append(names, dest.Name)
	}

	unit, qty, err := applyRule(loc.Rule, sel.TravelerCount)
	if err != nil {
		return pricedDay{}, err
	}
	amount, err := lineAmount(unit, qty)
	if err != nil {
		return pricedDay{}, err
	}

	items := []QuoteLineItem{{
		Kind:        domain.LineItemGroupFee,
		ReferenceID: loc.LocationID,
		Date:        date,
		Description: fmt.Sprintf("%s %s (%s)", date, loc.Name, travelerLabel(sel.TravelerCount, sel.TravelerCount)),
		UnitPrice:   unit,
		Quantity:    qty,
		Amount:      amount,
	}}
	addOns, err := a.registry.addOnLines(sel.AddOnIDs, date)
	if err != nil {
		return pricedDay{}, err
	}
	items = append(items, addOns...)

	subtotal, err := sumLineItems(items)
	if err != nil {
		return pricedDay{}, err
	}

	return pricedDay{
		display: QuoteDay{
			Date:             date,
			LocationID:       loc.LocationID,
			LocationName:     loc.Name,
			DestinationNames: names,
			TravelerCount:    sel.TravelerCount,
			Subtotal:         subtotal,
		},
		items: items,
	}, nil
}

func dedupeIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, raw := range ids {
		id := strings.TrimSpace(raw)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
