package watchlist

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	apperrors "ibkr-dashboard/internal/errors"
	"ibkr-dashboard/internal/models"
)

// Sort fields understood by ListOptions.SortBy.
const (
	SortSymbol         = "symbol"
	SortConid          = "conid"
	SortCompanyName    = "company_name"
	SortDescription    = "description"
	SortPrice          = "price"
	SortPriceChange    = "price_change"
	SortPriceChangePct = "price_change_pct"
	SortVolume         = "volume"
	SortLastUpdate     = "last_update"
)

// Filter holds inclusive numeric bounds. A nil bound is unconstrained.
type Filter struct {
	PriceMin  *float64
	PriceMax  *float64
	ChangeMin *float64
	ChangeMax *float64
}

// Empty reports whether the filter imposes no constraint.
func (f Filter) Empty() bool {
	return f.PriceMin == nil && f.PriceMax == nil && f.ChangeMin == nil && f.ChangeMax == nil
}

// Match reports whether inst satisfies every bound. Absent prices compare as 0.
func (f Filter) Match(inst models.Instrument) bool {
	price := models.FloatValue(inst.Price)
	change := models.FloatValue(inst.PriceChangePct)

	switch {
	case f.PriceMin != nil && price < *f.PriceMin:
		return false
	case f.PriceMax != nil && price > *f.PriceMax:
		return false
	case f.ChangeMin != nil && change < *f.ChangeMin:
		return false
	case f.ChangeMax != nil && change > *f.ChangeMax:
		return false
	}
	return true
}

// ListOptions controls how listed watchlists are ordered and narrowed.
type ListOptions struct {
	SortBy string
	Filter Filter
}

// ParseListOptions reads sort_by, price_min, price_max, change_min and
// change_max through get. Empty values are treated as absent.
func ParseListOptions(get func(key string) string) (ListOptions, error) {
	opts := ListOptions{SortBy: strings.TrimSpace(get("sort_by"))}

	bounds := []struct {
		key string
		dst **float64
	}{
		{"price_min", &opts.Filter.PriceMin},
		{"price_max", &opts.Filter.PriceMax},
		{"change_min", &opts.Filter.ChangeMin},
		{"change_max", &opts.Filter.ChangeMax},
	}
	for _, b := range bounds {
		raw := strings.TrimSpace(get(b.key))
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(v) {
			return ListOptions{}, apperrors.NewValidationError(b.key, raw, b.key+" must be a number")
		}
		*b.dst = models.Float(v)
	}
	return opts, nil
}

// descending reports whether field sorts largest first.
func descending(field string) bool {
	return field == SortPrice || field == SortPriceChangePct
}

// Sort orders instruments by field, breaking ties by ascending symbol. Price
// and change percent sort descending; everything else ascending. An unknown
// field sorts by symbol alone. An empty field leaves the order untouched.
func Sort(instruments []models.Instrument, field string) {
	if field == "" {
		return
	}
	desc := descending(field)
	sort.SliceStable(instruments, func(i, j int) bool {
		c := compareField(instruments[i], instruments[j], field)
		if c == 0 {
			return instruments[i].Symbol < instruments[j].Symbol
		}
		if desc {
			return c > 0
		}
		return c < 0
	})
}

// Apply filters instruments, returning a new slice.
func Apply(instruments []models.Instrument, f Filter) []models.Instrument {
	out := make([]models.Instrument, 0, len(instruments))
	for _, inst := range instruments {
		if f.Match(inst) {
			out = append(out, inst)
		}
	}
	return out
}

func compareField(a, b models.Instrument, field string) int {
	switch field {
	case SortConid:
		return strings.Compare(a.Conid.String(), b.Conid.String())
	case SortCompanyName:
		return strings.Compare(a.CompanyName, b.CompanyName)
	case SortDescription:
		return strings.Compare(a.Description, b.Description)
	case SortPrice:
		return compareFloat(a.Price, b.Price)
	case SortPriceChange:
		return compareFloat(a.PriceChange, b.PriceChange)
	case SortPriceChangePct:
		return compareFloat(a.PriceChangePct, b.PriceChangePct)
	case SortVolume:
		return compareFloat(a.Volume, b.Volume)
	case SortLastUpdate:
		return compareTime(a.LastUpdate, b.LastUpdate)
	default:
		return 0
	}
}

func compareFloat(a, b *float64) int {
	x, y := models.FloatValue(a), models.FloatValue(b)
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}

func compareTime(a, b *time.Time) int {
	var x, y time.Time
	if a != nil {
		x = *a
	}
	if b != nil {
		y = *b
	}
	return x.Compare(y)
}
