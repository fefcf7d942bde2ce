package purchase

import "fmt"

// Package is a purchasable credit bundle.
type Package struct {
	ID      string
	Credits int
	// PriceUSD is display-only; the backend owns real pricing.
	PriceUSD string
}

// Catalog mirrors the packages offered on the pricing page.
var Catalog = []Package{
	{ID: "pack_5", Credits: 5, PriceUSD: "4.99"},
	{ID: "pack_20", Credits: 20, PriceUSD: "14.99"},
	{ID: "pack_50", Credits: 50, PriceUSD: "29.99"},
}

// FindPackage looks up a catalog entry by id.
func FindPackage(id string) (Package, error) {
	for _, p := range Catalog {
		if p.ID == id {
			return p, nil
		}
	}
	return Package{}, fmt.Errorf("purchase: unknown package %q", id)
}
