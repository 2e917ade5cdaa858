package buildinfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextGetters(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		ctx       *Context
		version   string
		buildDate string
	}{
		{name: "nil context", ctx: nil, version: UnknownValue, buildDate: UnknownValue},
		{name: "empty context", ctx: &Context{}, version: UnknownValue, buildDate: UnknownValue},
		{
			name:      "populated",
			ctx:       &Context{Version: "v1.2.0", BuildDate: "2026-05-01T12:00:00Z"},
			version:   "v1.2.0",
			buildDate: "2026-05-01T12:00:00Z",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.version, tt.ctx.GetVersion())
			assert.Equal(t, tt.buildDate, tt.ctx.GetBuildDate())
		})
	}
}

func TestUserAgent(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "upc-lookup/v1.2.0", (&Context{Version: "v1.2.0"}).UserAgent("upc-lookup"))
	assert.Equal(t, "upc-lookup/unknown", (*Context)(nil).UserAgent("upc-lookup"))
}
