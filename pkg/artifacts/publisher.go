// Package artifacts publishes generated artifacts and their metadata documents
// to content-addressed storage: IPFS through Pinata, or a sha256 CAS store
// on the local filesystem, S3 or GCS.
package artifacts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
)

// DefaultMaxArtifactSize bounds how much of a source stream is buffered for upload.
const DefaultMaxArtifactSize = 64 << 20

// ErrArtifactTooLarge is returned when a source stream exceeds the size limit.
var ErrArtifactTooLarge = errors.New("artifact exceeds size limit")

// Publisher uploads artifacts and JSON documents and returns content ids.
type Publisher interface {
	// PublishBinary uploads the stream under the given file name hint.
	PublishBinary(ctx context.Context, r io.Reader, name string) (string, error)
	// PublishJSON uploads doc as JSON. json.RawMessage and []byte are sent verbatim.
	PublishJSON(ctx context.Context, doc any) (string, error)
	// GatewayURI turns a content id into a retrievable URI.
	GatewayURI(cid string) string
}

// CASPublisher publishes into a sha256 content-addressed Store.
type CASPublisher struct {
	store   Store
	gateway string
	maxSize int64
}

// NewCASPublisher wraps store. gateway is a host ("cas.example.com") or a base
// URL ("http://localhost:8080"); ids are served under <gateway>/sha256/<hex>.
func NewCASPublisher(store Store, gateway string, maxSize int64) *CASPublisher {
	if maxSize <= 0 {
		maxSize = DefaultMaxArtifactSize
	}
	return &CASPublisher{store: store, gateway: gatewayBase(gateway), maxSize: maxSize}
}

func (p *CASPublisher) PublishBinary(ctx context.Context, r io.Reader, name string) (string, error) {
	data, err := readLimited(r, p.maxSize)
	if err != nil {
		return "", fmt.Errorf("publish %s: %w", name, err)
	}
	id, err := p.store.Put(ctx, data, contentTypeOf(name, data))
	if err != nil {
		return "", fmt.Errorf("publish %s: %w", name, err)
	}
	return id, nil
}

func (p *CASPublisher) PublishJSON(ctx context.Context, doc any) (string, error) {
	data, err := jsonBytes(doc)
	if err != nil {
		return "", err
	}
	id, err := p.store.Put(ctx, data, "application/json")
	if err != nil {
		return "", fmt.Errorf("publish json: %w", err)
	}
	return id, nil
}

func (p *CASPublisher) GatewayURI(cid string) string {
	return p.gateway + "/sha256/" + strings.TrimPrefix(cid, contentIDPrefix)
}

// gatewayBase normalises a host or URL into a base URL without trailing slash.
func gatewayBase(gateway string) string {
	gateway = strings.TrimRight(gateway, "/")
	if !strings.Contains(gateway, "://") {
		gateway = "https://" + gateway
	}
	return gateway
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read source: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w (%d bytes)", ErrArtifactTooLarge, limit)
	}
	return data, nil
}

func jsonBytes(doc any) ([]byte, error) {
	switch v := doc.(type) {
	case json.RawMessage:
		return v, nil
	case []byte:
		return v, nil
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode json document: %w", err)
	}
	return data, nil
}

func contentTypeOf(name string, data []byte) string {
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	return http.DetectContentType(data)
}

var (
	_ Publisher = (*CASPublisher)(nil)
	_ Publisher = (*PinataPublisher)(nil)
	_ Store     = (*FileStore)(nil)
	_ Store     = (*S3Store)(nil)
)
