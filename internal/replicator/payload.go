package replicator

import (
	"fmt"

	"mlcopy/internal/meli"
	"mlcopy/internal/models"
)

// excludedAttributes are source attributes never carried to the copy.
// Identifier attributes are listing-specific; carrying them over makes
// the platform reject the copy as a duplicate.
var excludedAttributes = map[string]struct{}{
	"GTIN":              {},
	"SELLER_SKU":        {},
	"EMPTY_GTIN_REASON": {},
	"ITEM_CONDITION":    {},
}

// Shipping dimension attributes the platform asks for when a category
// requires package data.
const (
	attrPackageHeight = "SELLER_PACKAGE_HEIGHT"
	attrPackageWidth  = "SELLER_PACKAGE_WIDTH"
	attrPackageLength = "SELLER_PACKAGE_LENGTH"
	attrPackageWeight = "SELLER_PACKAGE_WEIGHT"
)

// BuildListingPayload derives a create-listing body from a source
// listing. Server-assigned fields are left out so the platform mints
// fresh identity for the copy.
func BuildListingPayload(src *meli.Item) *meli.Item {
	payload := &meli.Item{
		Title:             src.Title,
		CategoryID:        src.CategoryID,
		Price:             src.Price,
		CurrencyID:        src.CurrencyID,
		AvailableQuantity: src.AvailableQuantity,
		BuyingMode:        src.BuyingMode,
		ListingTypeID:     src.ListingTypeID,
		Condition:         src.Condition,
		VideoID:           src.VideoID,
		SaleTerms:         src.SaleTerms,
		Channels:          src.Channels,
	}

	// Listings that aggregate into a user-product publish under the
	// family name, not the per-listing title.
	if src.UserProductID != "" && src.FamilyName != "" {
		payload.Title = src.FamilyName
	}

	payload.Pictures = copyPictures(src.Pictures)
	payload.Attributes = filterAttributes(src.Attributes)
	payload.Variations = copyVariations(src.Variations)

	if src.Shipping != nil {
		payload.Shipping = &meli.Shipping{
			Mode:         "me2",
			LocalPickUp:  src.Shipping.LocalPickUp,
			FreeShipping: src.Shipping.FreeShipping,
		}
	}

	return payload
}

// copyPictures re-sources pictures by URL so the destination account
// uploads its own copies instead of referencing the source's ids.
func copyPictures(pictures []meli.Picture) []meli.Picture {
	if len(pictures) == 0 {
		return nil
	}
	out := make([]meli.Picture, 0, len(pictures))
	for _, p := range pictures {
		url := p.SecureURL
		if url == "" {
			url = p.URL
		}
		if url == "" {
			continue
		}
		out = append(out, meli.Picture{Source: url})
	}
	return out
}

func filterAttributes(attrs []meli.Attribute) []meli.Attribute {
	if len(attrs) == 0 {
		return nil
	}
	out := make([]meli.Attribute, 0, len(attrs))
	for _, a := range attrs {
		if _, skip := excludedAttributes[a.ID]; skip {
			continue
		}
		out = append(out, a)
	}
	return out
}

// copyVariations keeps attribute combinations and per-variation pricing
// but drops variation ids and seller custom fields.
func copyVariations(variations []meli.Variation) []meli.Variation {
	if len(variations) == 0 {
		return nil
	}
	out := make([]meli.Variation, 0, len(variations))
	for _, v := range variations {
		out = append(out, meli.Variation{
			Price:                 v.Price,
			AvailableQuantity:     v.AvailableQuantity,
			AttributeCombinations: v.AttributeCombinations,
		})
	}
	return out
}

// ApplyDimensions appends package dimension attributes to a payload.
// Existing dimension attributes are replaced so a resume never stacks a
// second copy next to a rejected one.
func ApplyDimensions(payload *meli.Item, dims models.PackageDimensions) {
	kept := payload.Attributes[:0]
	for _, a := range payload.Attributes {
		switch a.ID {
		case attrPackageHeight, attrPackageWidth, attrPackageLength, attrPackageWeight:
			continue
		}
		kept = append(kept, a)
	}
	payload.Attributes = append(kept,
		dimensionAttribute(attrPackageHeight, dims.HeightCM, "cm"),
		dimensionAttribute(attrPackageWidth, dims.WidthCM, "cm"),
		dimensionAttribute(attrPackageLength, dims.LengthCM, "cm"),
		dimensionAttribute(attrPackageWeight, dims.WeightG, "g"),
	)
}

func dimensionAttribute(id string, value float64, unit string) meli.Attribute {
	return meli.Attribute{
		ID:        id,
		ValueName: fmt.Sprintf("%g %s", value, unit),
		ValueStruct: &meli.ValueStruct{
			Number: value,
			Unit:   unit,
		},
	}
}
