// Package metadata derives the reporting device platform from the
// User-Agent header. Location samples are tagged with it.
package metadata

import (
	"context"
	"net/http"

	"github.com/mssola/useragent"
)

type deviceSourceKey struct{}

// ClientMetadata stores the caller's device source in the request context.
func ClientMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := WithDeviceSource(r.Context(), DeviceSourceFromUserAgent(r.Header.Get("User-Agent")))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// DeviceSource returns the source set by ClientMetadata, or "".
func DeviceSource(ctx context.Context) string {
	source, _ := ctx.Value(deviceSourceKey{}).(string)
	return source
}

func WithDeviceSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, deviceSourceKey{}, source)
}

// DeviceSourceFromUserAgent reduces a User-Agent to the reporting platform,
// e.g. "Android 14". Crawlers yield "bot" and an empty agent yields "".
func DeviceSourceFromUserAgent(ua string) string {
	if ua == "" {
		return ""
	}
	parsed := useragent.New(ua)
	if parsed.Bot() {
		return "bot"
	}
	if os := parsed.OS(); os != "" {
		return os
	}
	return parsed.Platform()
}
