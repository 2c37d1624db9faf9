package install

import "github.com/hashicorp/go-version"

// Context is the per-run installation context. It is built once after the
// environment and version stages and is read-only afterwards.
type Context struct {
	RunID     string
	PrefixDir string
	GameDir   string
	// PreviousVersion is nil on a first install.
	PreviousVersion *version.Version
}

// PreviousVersionString returns the previous version or "none".
func (c *Context) PreviousVersionString() string {
	if c == nil || c.PreviousVersion == nil {
		return "none"
	}
	return c.PreviousVersion.Original()
}
