package reconciler

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/gowebpki/jcs"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"golang.org/x/text/unicode/norm"

	"github.com/abraham-ai/mintmodifier/pkg/eden"
)

const (
	DefaultMetadataName    = "Eden Livemint"
	DefaultCreationBaseURL = "https://garden.eden.art/creation"
)

// Metadata is the token metadata document pinned for each minted creation.
type Metadata struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Image       string `json:"image"`
	Thumbnail   string `json:"thumbnail"`
	ExternalURL string `json:"external_url"`
}

const metadataSchemaURL = "https://mintmodifier.local/schemas/token-metadata.schema.json"

const metadataSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["name", "description", "image", "thumbnail", "external_url"],
  "additionalProperties": false,
  "properties": {
    "name":         {"type": "string", "minLength": 1},
    "description":  {"type": "string"},
    "image":        {"type": "string", "minLength": 1},
    "thumbnail":    {"type": "string", "minLength": 1},
    "external_url": {"type": "string", "minLength": 1}
  }
}`

var compiledMetadataSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(metadataSchemaURL, strings.NewReader(metadataSchema)); err != nil {
		return nil, fmt.Errorf("failed to load metadata schema: %w", err)
	}
	return c.Compile(metadataSchemaURL)
})

// BuildMetadata assembles the document for a creation whose artifact is
// served at artifactURI.
func BuildMetadata(name, creationBaseURL string, creation eden.Creation, artifactURI string) Metadata {
	return Metadata{
		Name:        name,
		Description: creation.Name,
		Image:       artifactURI,
		Thumbnail:   artifactURI,
		ExternalURL: strings.TrimRight(creationBaseURL, "/") + "/" + creation.ID,
	}
}

// Encode validates the document and returns its RFC 8785 canonical form, so
// equal documents always produce identical bytes.
func (m Metadata) Encode() ([]byte, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}

	schema, err := compiledMetadataSchema()
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	if err := schema.Validate(generic); err != nil {
		return nil, fmt.Errorf("metadata validation failed: %w", err)
	}

	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize metadata: %w", err)
	}
	return canonical, nil
}

// FilenameHint derives an upload name from the last path segment of a source
// locator. The segment is URL-unescaped and NFC-normalised; an empty segment
// falls back to fallback.
func FilenameHint(locator, fallback string) string {
	if i := strings.IndexAny(locator, "?#"); i >= 0 {
		locator = locator[:i]
	}
	seg := locator[strings.LastIndex(locator, "/")+1:]
	if unescaped, err := url.PathUnescape(seg); err == nil {
		seg = unescaped
	}
	seg = strings.NewReplacer("/", "_", `\`, "_").Replace(seg)
	seg = strings.TrimSpace(norm.NFC.String(seg))
	if seg == "" || seg == "." || seg == ".." {
		return fallback
	}
	return seg
}
