package content

import (
	"net/url"
	"strings"
)

// URLBuilder produces public URLs for stored content files. When UseCDN is
// set the CDN base is preferred; otherwise files are addressed at the direct
// storage base. Path segments are percent-encoded individually so that '/'
// separators survive while spaces and unicode in names are escaped.
type URLBuilder struct {
	CDNBase    string
	DirectBase string
	UseCDN     bool
}

// Build returns the URL for filename under category. Category may be empty,
// in which case the file sits directly under the base.
func (b *URLBuilder) Build(filename, category string) string {
	base := b.DirectBase
	if b.UseCDN && b.CDNBase != "" {
		base = b.CDNBase
	}
	base = strings.TrimSuffix(base, "/")

	var parts []string
	if category != "" {
		parts = append(parts, category)
	}
	parts = append(parts, filename)
	return base + "/" + encodePath(strings.Join(parts, "/"))
}

// encodePath percent-encodes each path segment while preserving the '/'
// separators between them.
func encodePath(p string) string {
	segments := strings.Split(p, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}
