package artifacts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/abraham-ai/mintmodifier/pkg/util/resiliency"
)

const (
	DefaultPinataAPIURL  = "https://api.pinata.cloud"
	DefaultPinataGateway = "gateway.pinata.cloud"
)

// PinataConfig holds credentials and limits for the Pinata pinning API.
// Either JWT or the APIKey/APISecret pair must be set.
type PinataConfig struct {
	APIURL    string
	APIKey    string
	APISecret string
	JWT       string
	Gateway   string

	RatePerSecond float64
	Burst         int
	Timeout       time.Duration
	MaxSize       int64
}

// PinataError carries a non-2xx response from the pinning API.
type PinataError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *PinataError) Error() string {
	return fmt.Sprintf("pinata %s: status %d: %s", e.Op, e.StatusCode, e.Body)
}

// PinataPublisher pins artifacts to IPFS through Pinata.
type PinataPublisher struct {
	cfg     PinataConfig
	gateway string
	http    *resiliency.EnhancedClient
	limiter *rate.Limiter
}

func NewPinataPublisher(cfg PinataConfig, opts ...resiliency.Option) *PinataPublisher {
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultPinataAPIURL
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	if cfg.Gateway == "" {
		cfg.Gateway = DefaultPinataGateway
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 3
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 3
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultMaxArtifactSize
	}
	if cfg.Timeout > 0 {
		opts = append([]resiliency.Option{resiliency.WithTimeout(cfg.Timeout)}, opts...)
	}
	return &PinataPublisher{
		cfg:     cfg,
		gateway: gatewayBase(cfg.Gateway),
		http:    resiliency.NewEnhancedClient("pinata", opts...),
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
	}
}

// PublishBinary pins the stream with pinFileToIPFS. The stream is buffered so
// the multipart body can be replayed on retry.
func (p *PinataPublisher) PublishBinary(ctx context.Context, r io.Reader, name string) (string, error) {
	data, err := readLimited(r, p.cfg.MaxSize)
	if err != nil {
		return "", fmt.Errorf("pinata pin file %s: %w", name, err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	h.Set("Content-Type", contentTypeOf(name, data))
	part, err := mw.CreatePart(h)
	if err != nil {
		return "", fmt.Errorf("pinata pin file %s: %w", name, err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("pinata pin file %s: %w", name, err)
	}

	meta, err := json.Marshal(pinataMetadata{Name: name})
	if err != nil {
		return "", err
	}
	if err := mw.WriteField("pinataMetadata", string(meta)); err != nil {
		return "", fmt.Errorf("pinata pin file %s: %w", name, err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("pinata pin file %s: %w", name, err)
	}

	return p.pin(ctx, "pin file", "/pinning/pinFileToIPFS", mw.FormDataContentType(), body.Bytes())
}

// PublishJSON pins doc with pinJSONToIPFS.
func (p *PinataPublisher) PublishJSON(ctx context.Context, doc any) (string, error) {
	content, err := jsonBytes(doc)
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(struct {
		PinataContent json.RawMessage `json:"pinataContent"`
	}{PinataContent: content})
	if err != nil {
		return "", fmt.Errorf("pinata pin json: %w", err)
	}
	return p.pin(ctx, "pin json", "/pinning/pinJSONToIPFS", "application/json", body)
}

func (p *PinataPublisher) GatewayURI(cid string) string {
	return p.gateway + "/ipfs/" + cid
}

type pinataMetadata struct {
	Name string `json:"name"`
}

type pinResponse struct {
	IpfsHash  string `json:"IpfsHash"`
	PinSize   int64  `json:"PinSize"`
	Timestamp string `json:"Timestamp"`
}

func (p *PinataPublisher) pin(ctx context.Context, op, path, contentType string, body []byte) (string, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("pinata %s: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.APIURL+path, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("pinata %s: %w", op, err)
	}
	req.Header.Set("Content-Type", contentType)
	if p.cfg.JWT != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.JWT)
	} else {
		req.Header.Set("pinata_api_key", p.cfg.APIKey)
		req.Header.Set("pinata_secret_api_key", p.cfg.APISecret)
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("pinata %s: %w", op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", &PinataError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(excerpt))}
	}

	var out pinResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("pinata %s: decode response: %w", op, err)
	}
	if out.IpfsHash == "" {
		return "", fmt.Errorf("pinata %s: response has no IpfsHash", op)
	}
	return out.IpfsHash, nil
}
