package artifacts

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abraham-ai/mintmodifier/pkg/util/resiliency"
)

func newTestPinata(t *testing.T, cfg PinataConfig, h http.HandlerFunc) *PinataPublisher {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	cfg.APIURL = srv.URL
	cfg.RatePerSecond = 1000
	return NewPinataPublisher(cfg, resiliency.WithBaseDelay(time.Millisecond))
}

func TestPinata_PublishBinary(t *testing.T) {
	p := newTestPinata(t, PinataConfig{APIKey: "k", APISecret: "s"}, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/pinning/pinFileToIPFS", r.URL.Path)
		assert.Equal(t, "k", r.Header.Get("pinata_api_key"))
		assert.Equal(t, "s", r.Header.Get("pinata_secret_api_key"))
		assert.Empty(t, r.Header.Get("Authorization"))

		require.NoError(t, r.ParseMultipartForm(1<<20))
		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer func() { _ = f.Close() }()
		data, _ := io.ReadAll(f)
		assert.Equal(t, "img.png", hdr.Filename)
		assert.Equal(t, "image/png", hdr.Header.Get("Content-Type"))
		assert.Equal(t, "png-bytes", string(data))

		var meta pinataMetadata
		require.NoError(t, json.Unmarshal([]byte(r.FormValue("pinataMetadata")), &meta))
		assert.Equal(t, "img.png", meta.Name)

		_, _ = w.Write([]byte(`{"IpfsHash":"cidA","PinSize":9}`))
	})

	cid, err := p.PublishBinary(context.Background(), strings.NewReader("png-bytes"), "img.png")
	require.NoError(t, err)
	assert.Equal(t, "cidA", cid)
	assert.Equal(t, "https://gateway.pinata.cloud/ipfs/cidA", p.GatewayURI(cid))
}

func TestPinata_PublishJSONVerbatim(t *testing.T) {
	doc := json.RawMessage(`{"description":"Foo","name":"Eden Livemint"}`)
	p := newTestPinata(t, PinataConfig{JWT: "jwt"}, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/pinning/pinJSONToIPFS", r.URL.Path)
		assert.Equal(t, "Bearer jwt", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"pinataContent":{"description":"Foo","name":"Eden Livemint"}}`, string(body))
		_, _ = w.Write([]byte(`{"IpfsHash":"cidB"}`))
	})

	cid, err := p.PublishJSON(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, "cidB", cid)
}

func TestPinata_RetriesServerError(t *testing.T) {
	calls := 0
	p := newTestPinata(t, PinataConfig{JWT: "jwt"}, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		require.NoError(t, r.ParseMultipartForm(1<<20))
		_, _ = w.Write([]byte(`{"IpfsHash":"cidA"}`))
	})

	cid, err := p.PublishBinary(context.Background(), strings.NewReader("data"), "a.bin")
	require.NoError(t, err)
	assert.Equal(t, "cidA", cid)
	assert.Equal(t, 2, calls)
}

func TestPinata_ErrorCarriesStatus(t *testing.T) {
	p := newTestPinata(t, PinataConfig{JWT: "bad"}, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"NO_SCOPES_FOUND"}`))
	})

	_, err := p.PublishJSON(context.Background(), map[string]string{"a": "b"})
	var perr *PinataError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, http.StatusForbidden, perr.StatusCode)
	assert.Contains(t, perr.Body, "NO_SCOPES_FOUND")
}

func TestPinata_MissingHash(t *testing.T) {
	p := newTestPinata(t, PinataConfig{JWT: "jwt"}, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})

	_, err := p.PublishJSON(context.Background(), map[string]string{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no IpfsHash")
}

func TestPinata_TooLarge(t *testing.T) {
	p := newTestPinata(t, PinataConfig{JWT: "jwt", MaxSize: 4}, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})

	_, err := p.PublishBinary(context.Background(), strings.NewReader("too long"), "x.bin")
	assert.ErrorIs(t, err, ErrArtifactTooLarge)
}
