// Package buildinfo carries build-time metadata, kept apart from user
// configuration.
package buildinfo

// UnknownValue is reported for metadata not injected at build time.
const UnknownValue = "unknown"

// Context contains build-time metadata set from ldflags in main.
type Context struct {
	// Version holds the Git version tag from build
	Version string

	// BuildDate is the time when the binary was built
	BuildDate string
}

// GetVersion returns the version, or UnknownValue.
func (c *Context) GetVersion() string {
	if c == nil || c.Version == "" {
		return UnknownValue
	}
	return c.Version
}

// GetBuildDate returns the build date, or UnknownValue.
func (c *Context) GetBuildDate() string {
	if c == nil || c.BuildDate == "" {
		return UnknownValue
	}
	return c.BuildDate
}

// UserAgent identifies outbound HTTP requests, e.g. "upc-lookup/1.2.0".
func (c *Context) UserAgent(app string) string {
	return app + "/" + c.GetVersion()
}
