package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectPlatform(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want Platform
	}{
		{"instagram post", "https://www.instagram.com/p/abc123/", PlatformInstagram},
		{"youtube watch", "https://www.youtube.com/watch?v=dQw4w9WgXcQ", PlatformYouTube},
		{"youtube short link", "https://youtu.be/dQw4w9WgXcQ", PlatformYouTube},
		{"twitter status", "https://twitter.com/user/status/1", PlatformTwitter},
		{"x.com status", "https://x.com/user/status/1", PlatformTwitter},
		{"amazon product", "https://www.amazon.com/dp/B000000", PlatformShopping},
		{"amazon uk", "https://www.amazon.co.uk/dp/B000000", PlatformShopping},
		{"ebay listing", "https://www.ebay.com/itm/12345", PlatformShopping},
		{"etsy listing", "https://www.etsy.com/listing/12345", PlatformShopping},
		{"blog post", "https://example.com/posts/hello", PlatformArticle},
		{"uppercase host", "https://WWW.YOUTUBE.COM/watch?v=abc", PlatformYouTube},
		{"empty url", "", PlatformOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectPlatform(tt.url))
		})
	}
}

func TestPlatformValid(t *testing.T) {
	for _, p := range []Platform{PlatformInstagram, PlatformYouTube, PlatformTwitter,
		PlatformShopping, PlatformArticle, PlatformOther} {
		assert.True(t, p.Valid(), string(p))
	}
	assert.False(t, Platform("").Valid())
	assert.False(t, Platform("myspace").Valid())
}

// Search responses use camelCase matchedIds; everything else on the wire is
// snake_case. Clients depend on both.
func TestSearchResultJSONKeys(t *testing.T) {
	encoded, err := json.Marshal(SearchResult{Answer: "a", MatchedIDs: []string{"id-1"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"answer":"a","matchedIds":["id-1"]}`, string(encoded))
}

func TestEnrichmentResultEmpty(t *testing.T) {
	assert.True(t, EnrichmentResult{}.Empty())
	assert.False(t, EnrichmentResult{Title: "t"}.Empty())
	assert.False(t, EnrichmentResult{AITags: []string{"go"}}.Empty())
	assert.False(t, EnrichmentResult{Favicon: "https://example.com/favicon.ico"}.Empty())
}
