package source

import (
	"encoding/json"
)

// DealPage is the envelope of the window query response
type DealPage struct {
	PageNumber int               `json:"pageNumber"`
	TotalPages int               `json:"totalPages"`
	TotalDeals int               `json:"totalDeals"`
	Deals      []json.RawMessage `json:"deals"`
}

// HasMore reports whether pages after this one exist
func (p *DealPage) HasMore(page int) bool {
	return page < p.TotalPages
}
