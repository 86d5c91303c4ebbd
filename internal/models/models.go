// Package models provides domain models for the dashboard.
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Conid is the broker-assigned contract identifier. The gateway emits it as a
// JSON number while form posts and older watchlist files carry it as a string,
// so it decodes from either and always encodes as a string.
type Conid string

// UnmarshalJSON accepts a JSON string or number.
func (c *Conid) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*c = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = Conid(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("conid: %w", err)
	}
	*c = Conid(n.String())
	return nil
}

func (c Conid) String() string {
	return string(c)
}

// Instrument represents a tradable contract held in a watchlist.
// Price fields are a volatile market snapshot, refreshed on read.
type Instrument struct {
	Symbol         string     `json:"symbol"`
	Conid          Conid      `json:"conid"`
	CompanyName    string     `json:"company_name,omitempty"`
	Description    string     `json:"description,omitempty"`
	Price          *float64   `json:"price,omitempty"`
	PriceChange    *float64   `json:"price_change,omitempty"`
	PriceChangePct *float64   `json:"price_change_pct,omitempty"`
	Volume         *float64   `json:"volume,omitempty"`
	LastUpdate     *time.Time `json:"last_update,omitempty"`
}

// Quote is a market-data snapshot for a single contract.
type Quote struct {
	Conid         Conid
	LastPrice     float64
	Change        float64
	ChangePercent float64
	Volume        float64
	Timestamp     time.Time
}

// Apply overwrites the instrument's price fields with the quote.
func (i *Instrument) Apply(q Quote) {
	i.Price = Float(q.LastPrice)
	i.PriceChange = Float(q.Change)
	i.PriceChangePct = Float(q.ChangePercent)
	i.Volume = Float(q.Volume)
	ts := q.Timestamp
	i.LastUpdate = &ts
}

// Watchlist is a named, ordered list of instruments.
type Watchlist struct {
	Name        string       `json:"name"`
	Instruments []Instrument `json:"instruments"`
}

// Document is the unit of persistence: every watchlist, read and written whole.
type Document struct {
	Watchlists []Watchlist `json:"watchlists"`
}

// Clone returns a deep copy so callers can mutate without touching a backend's copy.
func (d *Document) Clone() *Document {
	out := &Document{Watchlists: make([]Watchlist, len(d.Watchlists))}
	for i, w := range d.Watchlists {
		out.Watchlists[i] = w.Clone()
	}
	return out
}

// Clone returns a deep copy of the watchlist.
func (w Watchlist) Clone() Watchlist {
	instruments := make([]Instrument, len(w.Instruments))
	for i, inst := range w.Instruments {
		instruments[i] = inst.Clone()
	}
	return Watchlist{Name: w.Name, Instruments: instruments}
}

// Clone returns a copy of the instrument that shares no pointers with it.
func (i Instrument) Clone() Instrument {
	out := i
	out.Price = clonePtr(i.Price)
	out.PriceChange = clonePtr(i.PriceChange)
	out.PriceChangePct = clonePtr(i.PriceChangePct)
	out.Volume = clonePtr(i.Volume)
	out.LastUpdate = clonePtr(i.LastUpdate)
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}

// FloatValue returns *p, or 0 when p is nil.
func FloatValue(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}
