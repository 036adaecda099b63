package meli

// Item is the subset of a marketplace listing the replicator reads.
type Item struct {
	ID                string      `json:"id,omitempty"`
	SiteID            string      `json:"site_id,omitempty"`
	Title             string      `json:"title,omitempty"`
	FamilyName        string      `json:"family_name,omitempty"`
	CategoryID        string      `json:"category_id,omitempty"`
	DomainID          string      `json:"domain_id,omitempty"`
	UserProductID     string      `json:"user_product_id,omitempty"`
	Price             float64     `json:"price,omitempty"`
	CurrencyID        string      `json:"currency_id,omitempty"`
	AvailableQuantity *int        `json:"available_quantity,omitempty"`
	SoldQuantity      int         `json:"sold_quantity,omitempty"`
	BuyingMode        string      `json:"buying_mode,omitempty"`
	ListingTypeID     string      `json:"listing_type_id,omitempty"`
	Condition         string      `json:"condition,omitempty"`
	Status            string      `json:"status,omitempty"`
	Permalink         string      `json:"permalink,omitempty"`
	Thumbnail         string      `json:"thumbnail,omitempty"`
	SecureThumbnail   string      `json:"secure_thumbnail,omitempty"`
	SellerCustomField string      `json:"seller_custom_field,omitempty"`
	VideoID           string      `json:"video_id,omitempty"`
	Tags              []string    `json:"tags,omitempty"`
	Pictures          []Picture   `json:"pictures,omitempty"`
	Attributes        []Attribute `json:"attributes,omitempty"`
	SaleTerms         []Attribute `json:"sale_terms,omitempty"`
	Shipping          *Shipping   `json:"shipping,omitempty"`
	Variations        []Variation `json:"variations,omitempty"`
	Channels          []string    `json:"channels,omitempty"`
}

type Picture struct {
	ID        string `json:"id,omitempty"`
	URL       string `json:"url,omitempty"`
	SecureURL string `json:"secure_url,omitempty"`
	Source    string `json:"source,omitempty"`
}

// Attribute covers item attributes, sale terms and attribute combinations;
// the platform uses the same shape for all three.
type Attribute struct {
	ID          string           `json:"id,omitempty"`
	ValueID     string           `json:"value_id,omitempty"`
	ValueName   string           `json:"value_name,omitempty"`
	Values      []AttributeValue `json:"values,omitempty"`
	ValueStruct *ValueStruct     `json:"value_struct,omitempty"`
}

type AttributeValue struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

type ValueStruct struct {
	Number float64 `json:"number,omitempty"`
	Unit   string  `json:"unit,omitempty"`
}

type Shipping struct {
	Mode         string `json:"mode,omitempty"`
	LocalPickUp  bool   `json:"local_pick_up"`
	FreeShipping bool   `json:"free_shipping"`
}

type Variation struct {
	ID                    int64       `json:"id,omitempty"`
	Price                 *float64    `json:"price,omitempty"`
	AvailableQuantity     *int        `json:"available_quantity,omitempty"`
	SellerCustomField     string      `json:"seller_custom_field,omitempty"`
	Attributes            []Attribute `json:"attributes,omitempty"`
	AttributeCombinations []Attribute `json:"attribute_combinations,omitempty"`
}

type Description struct {
	PlainText string `json:"plain_text"`
}

// Compatibilities is the compatibility table attached to a listing.
type Compatibilities struct {
	Products []CompatProduct `json:"products"`
}

type CompatProduct struct {
	CatalogProductID string `json:"catalog_product_id,omitempty"`
	DomainID         string `json:"domain_id,omitempty"`
}

// HasProducts reports a non-empty table; absent and empty are equivalent.
func (c *Compatibilities) HasProducts() bool {
	return c != nil && len(c.Products) > 0
}

// ProductIDs returns the catalog product ids of existing entries.
func (c *Compatibilities) ProductIDs() []string {
	if c == nil {
		return nil
	}
	ids := make([]string, 0, len(c.Products))
	for _, p := range c.Products {
		if p.CatalogProductID != "" {
			ids = append(ids, p.CatalogProductID)
		}
	}
	return ids
}

// compatCopy is the additive copy body shared by create and merge calls.
type compatCopy struct {
	ItemToCopy compatSource `json:"item_to_copy"`
}

type compatSource struct {
	ItemID              string `json:"item_id"`
	ExtendedInformation bool   `json:"extended_information"`
}

// compatUpdate is the combined merge/replace body. Delete is only present
// in replace mode; the platform applies delete+create as one request.
type compatUpdate struct {
	Delete *compatDelete `json:"delete,omitempty"`
	Create compatCopy    `json:"create"`
}

type compatDelete struct {
	ProductIDs []string `json:"product_ids"`
}

// userProductCopy targets the aggregate-product copy-paste resource. It
// never carries a user-product id next to the listing id in the body.
type userProductCopy struct {
	DomainID            string `json:"domain_id"`
	CategoryID          string `json:"category_id"`
	ItemID              string `json:"item_id"`
	ExtendedInformation bool   `json:"extended_information"`
}

type searchResults struct {
	Results []string `json:"results"`
}
