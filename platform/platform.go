// Package platform defines the closed set of publish destinations and the
// capability pair each one implements: exchanging user-supplied credential
// input for a stored record, and uploading a local video file with that record.
package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ID identifies one publish destination. The set is closed; every value is
// declared below and bound to its capabilities in the registry.
type ID string

const (
	YouTube   ID = "youtube"
	VK        ID = "vk"
	Instagram ID = "instagram"
	TikTok    ID = "tiktok"
)

// AllIDs lists every supported platform in display order.
func AllIDs() []ID { return []ID{YouTube, VK, Instagram, TikTok} }

// ErrUnknownPlatform indicates a lookup for an identifier outside the registry.
// This is a defensive check: it can only arise from malformed callback data.
var ErrUnknownPlatform = errors.New("unknown platform")

// ErrNotConfigured is returned by ConnectPrompt when the platform's OAuth
// settings are absent from the environment and connect must be refused.
var ErrNotConfigured = errors.New("platform not configured")

// Record is an opaque credential payload, platform-defined key/value pairs
// (access token, expiry, session blob). It is persisted by the credential
// store and handed back verbatim at upload time.
type Record map[string]string

// EncodeRecord serializes a record for storage.
func EncodeRecord(r Record) (string, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("encode credential record: %w", err)
	}
	return string(b), nil
}

// DecodeRecord parses a stored record payload.
func DecodeRecord(s string) (Record, error) {
	if s == "" {
		return Record{}, nil
	}
	var r Record
	if err := json.Unmarshal([]byte(s), &r); err != nil {
		return nil, fmt.Errorf("decode credential record: %w", err)
	}
	return r, nil
}

// Publisher is the capability pair one platform implements.
type Publisher interface {
	// ConnectPrompt returns the user-facing instructions for connecting
	// (authorization URL or credential format). ErrNotConfigured means the
	// connect action must be refused.
	ConnectPrompt() (string, error)

	// Exchange converts raw user input (OAuth code, pasted redirect URL,
	// "login password") into a credential record. No partial record is
	// produced on failure.
	Exchange(ctx context.Context, input string) (Record, error)

	// Upload publishes the local video file and returns a result reference
	// (typically a URL). The caller owns retry policy; Upload attempts once.
	Upload(ctx context.Context, path, title, description string, rec Record) (string, error)
}

// Descriptor binds an ID to its display metadata and capabilities.
type Descriptor struct {
	ID        ID
	Name      string
	Emoji     string
	Publisher Publisher
}

// Label renders the emoji-prefixed display name used in chat messages.
func (d Descriptor) Label() string { return d.Emoji + " " + d.Name }

// Registry is the static, read-only catalog of supported platforms.
type Registry struct {
	ordered []Descriptor
	byID    map[ID]Descriptor
}

// NewRegistry builds a registry preserving the given display order.
func NewRegistry(descriptors ...Descriptor) *Registry {
	r := &Registry{byID: make(map[ID]Descriptor, len(descriptors))}
	for _, d := range descriptors {
		r.ordered = append(r.ordered, d)
		r.byID[d.ID] = d
	}
	return r
}

// Lookup resolves an identifier. Unknown identifiers fail with ErrUnknownPlatform.
func (r *Registry) Lookup(id ID) (Descriptor, error) {
	d, ok := r.byID[id]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrUnknownPlatform, id)
	}
	return d, nil
}

// All returns the descriptors in display order.
func (r *Registry) All() []Descriptor { return r.ordered }
