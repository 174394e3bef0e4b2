package metadata

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeviceSourceFromUserAgent(t *testing.T) {
	tests := []struct {
		name string
		ua   string
		want string
	}{
		{"empty", "", ""},
		{"crawler", "Googlebot/2.1 (+http://www.google.com/bot.html)", "bot"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeviceSourceFromUserAgent(tt.ua))
		})
	}

	t.Run("android handset reports its OS", func(t *testing.T) {
		ua := "Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Mobile Safari/537.36"
		assert.Contains(t, DeviceSourceFromUserAgent(ua), "Android")
	})
}

func TestClientMetadata(t *testing.T) {
	var got string
	h := ClientMetadata(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = DeviceSource(r.Context())
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/locations", nil)
	req.Header.Set("User-Agent", "Googlebot/2.1 (+http://www.google.com/bot.html)")
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "bot", got)
}
