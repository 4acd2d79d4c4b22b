package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"

	domain "github.com/tabitours/api/internal/domain"
	pfirestore "github.com/tabitours/api/internal/platform/firestore"
	"github.com/tabitours/api/internal/repositories"
)

const (
	tourProductsCollection = "tourProducts"
	locationFeesCollection = "locationFees"
	destinationsCollection = "destinations"
	addOnsCollection       = "addOns"
)

// CatalogRepository loads the pricing catalog maintained by the back office. Each entity lives in
// its own collection keyed by id.
type CatalogRepository struct {
	currency     string
	products     *pfirestore.Collection[domain.TourProduct]
	locations    *pfirestore.Collection[domain.LocationFee]
	destinations *pfirestore.Collection[domain.Destination]
	addOns       *pfirestore.Collection[domain.AddOn]
}

var _ repositories.CatalogRepository = (*CatalogRepository)(nil)

func NewCatalogRepository(provider *pfirestore.Provider, currency string) (*CatalogRepository, error) {
	if provider == nil {
		return nil, errors.New("catalog repository requires firestore provider")
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		return nil, errors.New("catalog repository requires a currency")
	}
	return &CatalogRepository{
		currency:     currency,
		products:     pfirestore.NewCollection[domain.TourProduct](provider, tourProductsCollection, decodeProduct),
		locations:    pfirestore.NewCollection[domain.LocationFee](provider, locationFeesCollection, decodeLocationFee),
		destinations: pfirestore.NewCollection[domain.Destination](provider, destinationsCollection, decodeDestination),
		addOns:       pfirestore.NewCollection[domain.AddOn](provider, addOnsCollection, decodeAddOn),
	}, nil
}

func (r *CatalogRepository) LoadCatalog(ctx context.Context) (domain.Catalog, error) {
	products, err := r.products.Query(ctx, nil)
	if err != nil {
		return domain.Catalog{}, err
	}
	locations, err := r.locations.Query(ctx, nil)
	if err != nil {
		return domain.Catalog{}, err
	}
	destinations, err := r.destinations.Query(ctx, nil)
	if err != nil {
		return domain.Catalog{}, err
	}
	addOns, err := r.addOns.Query(ctx, nil)
	if err != nil {
		return domain.Catalog{}, err
	}
	return domain.Catalog{
		Currency:     r.currency,
		Products:     products,
		Locations:    locations,
		Destinations: destinations,
		AddOns:       addOns,
	}, nil
}

type ruleDocument struct {
	Kind           string `firestore:"kind"`
	Tier1Price     int64  `firestore:"tier1Price,omitempty"`
	Tier2Price     int64  `firestore:"tier2Price,omitempty"`
	TierBreakpoint int    `firestore:"tierBreakpoint,omitempty"`
	Price          int64  `firestore:"price,omitempty"`
	UnitPrice      int64  `firestore:"unitPrice,omitempty"`
}

func (d ruleDocument) toDomain() domain.PricingRule {
	return domain.PricingRule{
		Kind:           domain.PricingRuleKind(strings.TrimSpace(d.Kind)),
		Tier1Price:     d.Tier1Price,
		Tier2Price:     d.Tier2Price,
		TierBreakpoint: d.TierBreakpoint,
		Price:          d.Price,
		UnitPrice:      d.UnitPrice,
	}
}

type productDocument struct {
	Name      string        `firestore:"name"`
	BasePrice int64         `firestore:"basePrice"`
	Active    bool          `firestore:"active"`
	Rule      *ruleDocument `firestore:"rule,omitempty"`
}

type locationFeeDocument struct {
	Name string       `firestore:"name"`
	Rule ruleDocument `firestore:"rule"`
}

type destinationDocument struct {
	Name       string `firestore:"name"`
	LocationID string `firestore:"locationId"`
}

type addOnDocument struct {
	Name            string `firestore:"name"`
	FlatPrice       int64  `firestore:"flatPrice"`
	AppliesPerGroup bool   `firestore:"appliesPerGroup"`
}

func decodeProduct(snap *firestore.DocumentSnapshot) (domain.TourProduct, error) {
	var doc productDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.TourProduct{}, fmt.Errorf("decode product %s: %w", snap.Ref.ID, err)
	}
	product := domain.TourProduct{
		ID:        snap.Ref.ID,
		Name:      doc.Name,
		BasePrice: doc.BasePrice,
		Active:    doc.Active,
	}
	if doc.Rule != nil {
		rule := doc.Rule.toDomain()
		product.Rule = &rule
	}
	return product, nil
}

func decodeLocationFee(snap *firestore.DocumentSnapshot) (domain.LocationFee, error) {
	var doc locationFeeDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.LocationFee{}, fmt.Errorf("decode location %s: %w", snap.Ref.ID, err)
	}
	return domain.LocationFee{LocationID: snap.Ref.ID, Name: doc.Name, Rule: doc.Rule.toDomain()}, nil
}

func decodeDestination(snap *firestore.DocumentSnapshot) (domain.Destination, error) {
	var doc destinationDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Destination{}, fmt.Errorf("decode destination %s: %w", snap.Ref.ID, err)
	}
	return domain.Destination{ID: snap.Ref.ID, Name: doc.Name, LocationID: doc.LocationID}, nil
}

func decodeAddOn(snap *firestore.DocumentSnapshot) (domain.AddOn, error) {
	var doc addOnDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.AddOn{}, fmt.Errorf("decode add-on %s: %w", snap.Ref.ID, err)
	}
	return domain.AddOn{
		ID:              snap.Ref.ID,
		Name:            doc.Name,
		FlatPrice:       doc.FlatPrice,
		AppliesPerGroup: doc.AppliesPerGroup,
	}, nil
}
