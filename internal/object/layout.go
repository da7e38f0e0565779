package object

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

// Layout decides where descriptors are stored, both remotely and locally.
type Layout struct {
	Scheme   string
	Host     string
	Bucket   string
	Prefix   string
	LocalDir string
}

// Basename returns `root-hash8ext` for the given identity.
//
// hash8 is the first 8 hex characters of SHA-256 over the raw identity, so the
// result depends only on the identity string and never on file contents.
func Basename(identity string) string {
	filename := lastSegment(identity)
	ext := path.Ext(filename)
	root := strings.TrimSuffix(filename, ext)
	sum := sha256.Sum256([]byte(identity))
	return root + "-" + hex.EncodeToString(sum[:])[:8] + ext
}

// Key returns the object-store key for the identity.
func (l Layout) Key(identity string) string {
	base := Basename(identity)
	prefix := strings.Trim(l.Prefix, "/")
	if prefix == "" {
		return base
	}
	return prefix + "/" + base
}

// New builds a descriptor for origin, keyed by origin itself.
func (l Layout) New(origin string, description map[string]any) Descriptor {
	return l.NewWithIdentity(origin, origin, description)
}

// NewWithIdentity builds a descriptor whose destination is derived from
// identity rather than origin. Sources whose origin changes between runs (for
// example presigned URLs) pass a stable identity here.
func (l Layout) NewWithIdentity(identity, origin string, description map[string]any) Descriptor {
	return Descriptor{
		Origin:      origin,
		Description: description,
		Destination: Destination{
			Scheme: l.Scheme,
			Host:   l.Host,
			Bucket: l.Bucket,
			Key:    l.Key(identity),
		},
		LocalFile: filepath.Join(l.LocalDir, Basename(identity)),
	}
}

func lastSegment(raw string) string {
	p := raw
	if u, err := url.Parse(raw); err == nil && u.Path != "" {
		p = u.Path
	}
	p = strings.TrimRight(p, "/")
	if i := strings.LastIndex(p, "/"); i >= 0 {
		p = p[i+1:]
	}
	if p == "" {
		return "object"
	}
	return p
}
