// Package product defines the product record cached per UPC and the
// validation applied to UPC input.
package product

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/tphakala/upc-lookup/internal/errors"
)

// SourceUPCItemDB identifies records fetched from UPCitemdb.
const SourceUPCItemDB = "upcitemdb"

// Record is the product metadata cached per UPC. A record is replaced
// whole on refresh and never patched field by field.
type Record struct {
	UPC                  string   `json:"upc"`
	Title                string   `json:"title"`
	Brand                string   `json:"brand,omitempty"`
	Description          string   `json:"description,omitempty"`
	Model                string   `json:"model,omitempty"`
	Color                string   `json:"color,omitempty"`
	Size                 string   `json:"size,omitempty"`
	Weight               string   `json:"weight,omitempty"`
	Dimension            string   `json:"dimension,omitempty"`
	Category             string   `json:"category,omitempty"`
	Currency             string   `json:"currency,omitempty"`
	LowestRecordedPrice  *float64 `json:"lowest_recorded_price,omitempty"`
	HighestRecordedPrice *float64 `json:"highest_recorded_price,omitempty"`

	// Images holds public URLs of the accepted images in provider order.
	Images []string `json:"images"`
	// BestImage is the public URL of the top-ranked image, empty when none.
	BestImage string `json:"best_image,omitempty"`
	// SourceImages are the candidate URLs the provider returned.
	SourceImages []string `json:"source_images,omitempty"`

	Source    string    `json:"source"`
	FetchedAt time.Time `json:"fetched_at"`

	// Cached is provenance set on the way out of the cache; it is never
	// persisted.
	Cached bool `json:"-"`
}

// Clone returns a deep copy so callers can annotate a record without
// touching the cached value.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.Images = append([]string(nil), r.Images...)
	c.SourceImages = append([]string(nil), r.SourceImages...)
	if r.LowestRecordedPrice != nil {
		v := *r.LowestRecordedPrice
		c.LowestRecordedPrice = &v
	}
	if r.HighestRecordedPrice != nil {
		v := *r.HighestRecordedPrice
		c.HighestRecordedPrice = &v
	}
	return &c
}

// Entry wraps a record with its creation time for TTL evaluation.
type Entry struct {
	Record    *Record   `json:"record"`
	CreatedAt time.Time `json:"created_at"`
}

// Expired reports whether the entry must be treated as absent at now.
// A non-positive ttl expires every entry.
func (e *Entry) Expired(now time.Time, ttl time.Duration) bool {
	if ttl <= 0 {
		return true
	}
	return now.Sub(e.CreatedAt) > ttl
}

// EncodeEntry serializes an entry for backends that store bytes.
func EncodeEntry(e *Entry) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, errors.New(err).
			Component("cache").
			Category(errors.CategoryCache).
			Context("operation", "encode_entry").
			Build()
	}
	return data, nil
}

// DecodeEntry parses bytes written by EncodeEntry.
func DecodeEntry(data []byte) (*Entry, error) {
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, errors.New(err).
			Component("cache").
			Category(errors.CategoryFileParsing).
			Context("operation", "decode_entry").
			Build()
	}
	if e.Record == nil {
		return nil, errors.Newf("cache entry has no record").
			Component("cache").
			Category(errors.CategoryFileParsing).
			Context("operation", "decode_entry").
			Build()
	}
	return &e, nil
}

const (
	minUPCLength = 6
	maxUPCLength = 14
)

// NormalizeUPC trims whitespace and validates the code: digits only, between
// 6 (UPC-E) and 14 (GTIN-14) characters.
func NormalizeUPC(raw string) (string, error) {
	upc := strings.TrimSpace(raw)
	if upc == "" {
		return "", errors.Newf("upc is required").
			Component("product").
			Category(errors.CategoryValidation).
			Build()
	}
	for _, r := range upc {
		if r < '0' || r > '9' {
			return "", errors.Newf("invalid upc %q: only digits are allowed", upc).
				Component("product").
				Category(errors.CategoryValidation).
				Context("upc", upc).
				Build()
		}
	}
	if len(upc) < minUPCLength || len(upc) > maxUPCLength {
		return "", errors.Newf("invalid upc %q: length must be between %d and %d", upc, minUPCLength, maxUPCLength).
			Component("product").
			Category(errors.CategoryValidation).
			Context("upc", upc).
			Build()
	}
	return upc, nil
}
