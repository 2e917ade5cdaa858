package product

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/upc-lookup/internal/errors"
)

func TestReadUPCColumn(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    *UPCBatch
		wantErr bool
	}{
		{
			name:  "single column",
			input: "upc\n012993441012\n123456789012\n",
			want:  &UPCBatch{Total: 2, Valid: []string{"012993441012", "123456789012"}},
		},
		{
			name:  "duplicates keep first position",
			input: "upc\n111111\n222222\n111111\n",
			want:  &UPCBatch{Total: 2, Valid: []string{"111111", "222222"}},
		},
		{
			name:  "header is case insensitive with bom",
			input: "\ufeffUPC, sku\n012993441012, A-1\n",
			want:  &UPCBatch{Total: 1, Valid: []string{"012993441012"}},
		},
		{
			name:  "invalid and blank values",
			input: "upc,name\nabc,x\n12,y\n,z\n012993441012,w\n",
			want:  &UPCBatch{Total: 3, Valid: []string{"012993441012"}, Invalid: 2},
		},
		{
			name:  "short rows are skipped",
			input: "name,upc\nonly-name\nok,123456\n",
			want:  &UPCBatch{Total: 1, Valid: []string{"123456"}},
		},
		{
			name:  "header only",
			input: "upc\n",
			want:  &UPCBatch{},
		},
		{
			name:    "missing column",
			input:   "sku\n123\n",
			wantErr: true,
		},
		{
			name:    "empty file",
			input:   "",
			wantErr: true,
		},
		{
			name:    "broken quoting",
			input:   "upc\n\"123456\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ReadUPCColumn(strings.NewReader(tt.input))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsValidation(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
