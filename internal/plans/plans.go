package plans

import (
	_ "embed"
	"encoding/json"
	"log"
)

//go:embed catalog.json
var catalogJSON []byte

const FreeSlug = "free"

type Plan struct {
	Slug          string   `json:"slug"`
	Name          string   `json:"name"`
	PriceCents    int64    `json:"priceCents"`
	Currency      string   `json:"currency"`
	Interval      string   `json:"interval"`
	PremiumAccess bool     `json:"premiumAccess"`
	Features      []string `json:"features"`
}

func (p Plan) Paid() bool {
	return p.PriceCents > 0
}

var catalog []Plan

func init() {
	if err := json.Unmarshal(catalogJSON, &catalog); err != nil {
		log.Fatalf("failed to parse catalog.json: %v", err)
	}
}

// All returns the plans in display order.
func All() []Plan {
	out := make([]Plan, len(catalog))
	copy(out, catalog)
	return out
}

func Get(slug string) (Plan, bool) {
	for _, p := range catalog {
		if p.Slug == slug {
			return p, true
		}
	}
	return Plan{}, false
}

// HasPremiumAccess reports whether a user on slug may stream titles that
// require a subscription. Unknown slugs get no access.
func HasPremiumAccess(slug string) bool {
	p, ok := Get(slug)
	return ok && p.PremiumAccess
}

// Name returns the display name of slug, or slug itself when unknown.
func Name(slug string) string {
	if p, ok := Get(slug); ok {
		return p.Name
	}
	return slug
}
