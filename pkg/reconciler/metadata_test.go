package reconciler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abraham-ai/mintmodifier/pkg/eden"
)

func TestBuildMetadata(t *testing.T) {
	m := BuildMetadata("Eden Livemint", "https://garden.eden.art/creation/", eden.Creation{ID: "c1", Name: "Foo"}, "https://gw/ipfs/cidA")

	assert.Equal(t, Metadata{
		Name:        "Eden Livemint",
		Description: "Foo",
		Image:       "https://gw/ipfs/cidA",
		Thumbnail:   "https://gw/ipfs/cidA",
		ExternalURL: "https://garden.eden.art/creation/c1",
	}, m)
}

func TestMetadataEncode_Canonical(t *testing.T) {
	m := BuildMetadata(DefaultMetadataName, DefaultCreationBaseURL, eden.Creation{ID: "c1", Name: "Café <night>"}, "https://gw/ipfs/cidA")

	a, err := m.Encode()
	require.NoError(t, err)
	b, err := m.Encode()
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t,
		`{"description":"Café <night>","external_url":"https://garden.eden.art/creation/c1","image":"https://gw/ipfs/cidA","name":"Eden Livemint","thumbnail":"https://gw/ipfs/cidA"}`,
		string(a))
}

func TestMetadataEncode_RejectsInvalid(t *testing.T) {
	m := BuildMetadata("", DefaultCreationBaseURL, eden.Creation{ID: "c1"}, "https://gw/ipfs/cidA")

	_, err := m.Encode()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "metadata validation failed")

	m = BuildMetadata(DefaultMetadataName, DefaultCreationBaseURL, eden.Creation{ID: "c1"}, "")
	_, err = m.Encode()
	assert.Error(t, err)
}

func TestFilenameHint(t *testing.T) {
	tests := []struct {
		name     string
		locator  string
		fallback string
		want     string
	}{
		{name: "plain", locator: "https://cdn.example/a/b/img.png", fallback: "c1", want: "img.png"},
		{name: "custom scheme", locator: "src://img.png", fallback: "c1", want: "img.png"},
		{name: "query dropped", locator: "https://cdn.example/img.png?sig=abc#frag", fallback: "c1", want: "img.png"},
		{name: "escaped", locator: "https://cdn.example/my%20image.jpg", fallback: "c1", want: "my image.jpg"},
		{name: "escaped slash", locator: "https://cdn.example/a%2Fb.png", fallback: "c1", want: "a_b.png"},
		{name: "nfc", locator: "https://cdn.example/café.png", fallback: "c1", want: "café.png"},
		{name: "trailing slash", locator: "https://cdn.example/dir/", fallback: "c1", want: "c1"},
		{name: "empty", locator: "", fallback: "c1", want: "c1"},
		{name: "dot dot", locator: "https://cdn.example/..", fallback: "c1", want: "c1"},
		{name: "bad escape kept", locator: "https://cdn.example/100%.png", fallback: "c1", want: "100%.png"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FilenameHint(tt.locator, tt.fallback))
		})
	}
}
