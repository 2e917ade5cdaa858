package product

import (
	"encoding/csv"
	"io"
	"slices"
	"strings"

	"github.com/tphakala/upc-lookup/internal/errors"
)

const upcColumn = "upc"

// UPCBatch is the result of reading a batch file.
type UPCBatch struct {
	// Total counts distinct non-empty values in the upc column.
	Total int
	// Valid holds distinct normalized UPCs in file order.
	Valid []string
	// Invalid counts distinct values that are not valid UPCs.
	Invalid int
}

// ReadUPCColumn reads a CSV with a header row and collects the distinct
// values of its upc column. Other columns are ignored; the header match
// is case-insensitive.
func ReadUPCColumn(r io.Reader) (*UPCBatch, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, csvError(errors.NewStd("file is empty"))
		}
		return nil, csvError(err)
	}

	col := slices.IndexFunc(header, func(h string) bool {
		h = strings.TrimPrefix(h, "\ufeff")
		return strings.EqualFold(strings.TrimSpace(h), upcColumn)
	})
	if col < 0 {
		return nil, csvError(errors.NewStd(`CSV must contain a column named "upc"`))
	}

	out := &UPCBatch{}
	seen := make(map[string]struct{})
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, csvError(err)
		}
		if col >= len(row) {
			continue
		}
		raw := strings.TrimSpace(row[col])
		if raw == "" {
			continue
		}
		if _, dup := seen[raw]; dup {
			continue
		}
		seen[raw] = struct{}{}
		out.Total++

		upc, err := NormalizeUPC(raw)
		if err != nil {
			out.Invalid++
			continue
		}
		out.Valid = append(out.Valid, upc)
	}
	return out, nil
}

func csvError(err error) error {
	return errors.New(err).
		Component("product").
		Category(errors.CategoryValidation).
		Context("operation", "parse_batch_csv").
		Build()
}
