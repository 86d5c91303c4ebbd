package broker

import (
	"encoding/json"
	"strconv"
	"strings"
	"unicode"

	"ibkr-dashboard/internal/models"
)

// Snapshot field codes.
const (
	fieldLastPrice     = "31"
	fieldChange        = "82"
	fieldChangePercent = "83"
	fieldVolume        = "7762"
	fieldVolumeShort   = "87"
)

var snapshotFields = strings.Join([]string{
	fieldLastPrice, fieldChange, fieldChangePercent, fieldVolume, fieldVolumeShort,
}, ",")

// quoteFromSnapshot picks the row for conid and parses its fields. It reports
// false when the gateway has no last price yet.
func quoteFromSnapshot(conid models.Conid, rows []map[string]json.RawMessage) (models.Quote, bool) {
	for _, row := range rows {
		if raw, ok := row["conid"]; ok {
			var id models.Conid
			if err := json.Unmarshal(raw, &id); err == nil && id != "" && id != conid {
				continue
			}
		}

		price, ok := snapshotValue(row[fieldLastPrice])
		if !ok {
			return models.Quote{}, false
		}

		q := models.Quote{Conid: conid, LastPrice: price}
		q.Change, _ = snapshotValue(row[fieldChange])
		q.ChangePercent, _ = snapshotValue(row[fieldChangePercent])
		if v, ok := snapshotValue(row[fieldVolume]); ok {
			q.Volume = v
		} else {
			q.Volume, _ = snapshotValue(row[fieldVolumeShort])
		}
		return q, true
	}
	return models.Quote{}, false
}

func snapshotValue(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false
	}
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		return parseSnapshotNumber(t)
	}
	return 0, false
}

// parseSnapshotNumber reads the gateway's display strings: "C190.50" (closing
// price marker), "-0.63%", "1,234" and "52.3M".
func parseSnapshotNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	s = strings.TrimLeftFunc(s, func(r rune) bool {
		return unicode.IsLetter(r)
	})
	s = strings.TrimSuffix(s, "%")
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0, false
	}

	mult := 1.0
	switch s[len(s)-1] {
	case 'K', 'k':
		mult = 1e3
	case 'M', 'm':
		mult = 1e6
	case 'B', 'b':
		mult = 1e9
	}
	if mult != 1 {
		s = s[:len(s)-1]
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f * mult, true
}
