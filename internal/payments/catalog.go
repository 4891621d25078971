// Package payments sells credit packages and turns verified payment
// notifications into ledger purchases.
package payments

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Package is a purchasable bundle of credits.
type Package struct {
	ID          string          `yaml:"id" json:"id"`
	Name        string          `yaml:"name" json:"name"`
	Credits     int64           `yaml:"credits" json:"credits"`
	Price       decimal.Decimal `yaml:"price" json:"price"`
	Description string          `yaml:"description" json:"description"`
}

// UnitAmount is the price in cents.
func (p Package) UnitAmount() int64 {
	return p.Price.Shift(2).Round(0).IntPart()
}

var ErrUnknownPackage = errors.New("unknown credit package")

type Catalog struct {
	packages []Package
	byID     map[string]Package
}

func DefaultPackages() []Package {
	return []Package{
		{ID: "starter", Name: "Starter Pack", Credits: 10, Price: decimal.RequireFromString("19.00"), Description: "Perfect for getting started"},
		{ID: "pro", Name: "Pro Pack", Credits: 30, Price: decimal.RequireFromString("49.00"), Description: "Great for regular users"},
		{ID: "enterprise", Name: "Enterprise Pack", Credits: 100, Price: decimal.RequireFromString("149.00"), Description: "For power users and teams"},
	}
}

// NewCatalog validates packages: ids unique and non-empty, credits and price positive.
func NewCatalog(packages []Package) (*Catalog, error) {
	if len(packages) == 0 {
		return nil, errors.New("catalog has no packages")
	}
	c := &Catalog{byID: make(map[string]Package, len(packages))}
	for _, p := range packages {
		if p.ID == "" {
			return nil, errors.New("package id is required")
		}
		if _, dup := c.byID[p.ID]; dup {
			return nil, fmt.Errorf("duplicate package id %q", p.ID)
		}
		if p.Credits <= 0 {
			return nil, fmt.Errorf("package %q: credits must be positive", p.ID)
		}
		if !p.Price.IsPositive() {
			return nil, fmt.Errorf("package %q: price must be positive", p.ID)
		}
		c.byID[p.ID] = p
		c.packages = append(c.packages, p)
	}
	return c, nil
}

func (c *Catalog) Lookup(id string) (Package, error) {
	p, ok := c.byID[id]
	if !ok {
		return Package{}, fmt.Errorf("%w: %q", ErrUnknownPackage, id)
	}
	return p, nil
}

func (c *Catalog) Packages() []Package {
	out := make([]Package, len(c.packages))
	copy(out, c.packages)
	return out
}
