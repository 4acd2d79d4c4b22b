package domain

// PricingRuleKind tags the variant held by a PricingRule.
type PricingRuleKind string

const (
	// PricingRuleTiered charges one of two group prices depending on the traveler bracket.
	PricingRuleTiered PricingRuleKind = "tiered"
	// PricingRuleFlatRate charges a constant price regardless of party size.
	PricingRuleFlatRate PricingRuleKind = "flat_rate"
	// PricingRulePerPerson multiplies a unit price by the traveler count.
	PricingRulePerPerson PricingRuleKind = "per_person"
)

const (
	MinTravelers          = 1
	MaxTravelers          = 9
	MinDestinationsPerDay = 4
	MaxDestinationsPerDay = 5
	DefaultTierBreakpoint = 6
)

// PricingRule is a tagged variant. Only the fields belonging to Kind are meaningful.
type PricingRule struct {
	Kind           PricingRuleKind
	Tier1Price     int64
	Tier2Price     int64
	TierBreakpoint int
	Price          int64
	UnitPrice      int64
}

// TourProduct is a bookable package. Rule is nil when the product is sold per person at BasePrice.
type TourProduct struct {
	ID        string
	Name      string
	BasePrice int64
	Rule      *PricingRule
	Active    bool
}

// LocationFee holds the group fee charged for one custom-cart day at a location.
type LocationFee struct {
	LocationID string
	Name       string
	Rule       PricingRule
}

// Destination is a stop that can be picked on a custom-cart day.
type Destination struct {
	ID         string
	Name       string
	LocationID string
}

// AddOn is a flat per-group extra such as an airport transfer.
type AddOn struct {
	ID              string
	Name            string
	FlatPrice       int64
	AppliesPerGroup bool
}

// Catalog is the read-only pricing data loaded at startup.
type Catalog struct {
	Currency     string
	Products     []TourProduct
	Locations    []LocationFee
	Destinations []Destination
	AddOns       []AddOn
}

// DaySelection is one day of a custom cart. Date uses the YYYY-MM-DD layout.
type DaySelection struct {
	Date           string
	LocationID     string
	DestinationIDs []string
	AddOnIDs       []string
	TravelerCount  int
}

// QuoteKind identifies which pricing path produced a quote.
type QuoteKind string

const (
	QuoteKindPackage    QuoteKind = "package"
	QuoteKindCustomCart QuoteKind = "custom_cart"
)

// QuoteLineItemKind classifies line items for display and auditing.
type QuoteLineItemKind string

const (
	LineItemPackage  QuoteLineItemKind = "package"
	LineItemGroupFee QuoteLineItemKind = "group_fee"
	LineItemAddOn    QuoteLineItemKind = "add_on"
)

// QuoteLineItem is one priced row. Amount equals UnitPrice times Quantity.
type QuoteLineItem struct {
	Kind        QuoteLineItemKind
	ReferenceID string
	Date        string
	Description string
	UnitPrice   int64
	Quantity    int
	Amount      int64
}

// TravelerRange summarises party sizes across custom-cart days.
type TravelerRange struct {
	Min   int
	Max   int
	Label string
}

// QuoteDay carries display bookkeeping for one custom-cart day.
type QuoteDay struct {
	Date             string
	LocationID       string
	LocationName     string
	DestinationNames []string
	TravelerCount    int
	Subtotal         int64
}

// Quote is the itemised amount due. Total is always the sum of LineItems amounts, in whole currency units.
type Quote struct {
	Kind      QuoteKind
	Currency  string
	ProductID string
	Title     string
	LineItems []QuoteLineItem
	Total     int64
	Travelers TravelerRange
	Dates     []string
	Days      []QuoteDay
}
