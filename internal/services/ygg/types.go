package ygg

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TorrentSummary is one entry of a listing page
type TorrentSummary struct {
	ID         int64   `json:"id"`
	Title      string  `json:"title"`
	Seeders    int     `json:"seeders"`
	Leechers   int     `json:"leechers"`
	Downloads  *int    `json:"downloads"`
	Size       int64   `json:"size"`
	Slug       string  `json:"slug"`
	CategoryID int     `json:"category_id"`
	UploadedAt APITime `json:"uploaded_at"`
	Link       string  `json:"link"`
}

// TorrentDetail is the response of the per-torrent endpoint. It repeats the
// summary fields and adds the hash and description.
type TorrentDetail struct {
	TorrentSummary
	Description *string  `json:"description"`
	Hash        *string  `json:"hash"`
	UpdatedAt   *APITime `json:"updated_at"`
}

// apiTimeLayouts are tried in order; naive layouts are read as UTC
var apiTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999Z0700",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// Epochs above this are in milliseconds
const maxEpochSeconds = 1e11

// APITime accepts the timestamp formats the API has been seen to return.
// A value it cannot read leaves the zero time and is kept in Unparsed, so
// one odd field never fails the whole page.
type APITime struct {
	time.Time
	Unparsed string
}

// UnmarshalJSON implements json.Unmarshaler
func (t *APITime) UnmarshalJSON(data []byte) error {
	t.Time = time.Time{}
	t.Unparsed = ""
	if string(data) == "null" {
		return nil
	}

	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		var epoch float64
		if err := json.Unmarshal(data, &epoch); err != nil {
			t.Unparsed = string(data)
			return nil
		}
		t.Time = epochTime(epoch)
		return nil
	}

	parsed, err := ParseTime(raw)
	if err != nil {
		t.Unparsed = raw
		return nil
	}
	t.Time = parsed
	return nil
}

func epochTime(v float64) time.Time {
	if v >= maxEpochSeconds {
		return time.UnixMilli(int64(v)).UTC()
	}
	sec := int64(v)
	return time.Unix(sec, int64((v-float64(sec))*1e9)).UTC()
}

// ParseTime parses an API timestamp
func ParseTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if epoch, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return epochTime(float64(epoch)), nil
	}
	for _, layout := range apiTimeLayouts {
		if parsed, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return parsed.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", raw)
}
