// Package requestcontext carries the caller, the correlation id and a pinned
// clock through a context. The HTTP middleware sets them; services and the
// change-stream workers read them without importing net/http.
package requestcontext

import (
	"context"
	"time"

	id "kinwatch/pkg/domain"
)

type (
	subjectKey struct{}
	requestKey struct{}
	clockKey   struct{}
)

// SubjectID is the authenticated caller, or the nil ID.
func SubjectID(ctx context.Context) id.SubjectID {
	subjectID, _ := ctx.Value(subjectKey{}).(id.SubjectID)
	return subjectID
}

func WithSubjectID(ctx context.Context, subjectID id.SubjectID) context.Context {
	return context.WithValue(ctx, subjectKey{}, subjectID)
}

func RequestID(ctx context.Context) string {
	requestID, _ := ctx.Value(requestKey{}).(string)
	return requestID
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestKey{}, requestID)
}

// Now is the pinned time for ctx, or the wall clock when none was pinned.
// Rate-limit windows and sample-age checks all read time through here so
// tests can fix it.
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(clockKey{}).(time.Time); ok {
		return t
	}
	return time.Now()
}

func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, clockKey{}, t)
}
