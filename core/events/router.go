package events

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"waveloft/logger"

	"github.com/minio/minio-go/v7/pkg/notification"
)

// ObjectCreated is one object-created record, key already URL-decoded.
type ObjectCreated struct {
	Bucket       string
	Key          string
	Size         int64
	UserMetadata map[string]string
}

// Handler processes one object-created record.
type Handler interface {
	Handle(ctx context.Context, obj ObjectCreated) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, obj ObjectCreated) error

func (f HandlerFunc) Handle(ctx context.Context, obj ObjectCreated) error { return f(ctx, obj) }

// Route sends keys matching Match to Handler.
type Route struct {
	Name    string
	Match   func(key string) bool
	Handler Handler
}

// Router dispatches records to the first matching route.
type Router struct {
	routes []Route
}

// NewRouter creates a Router.
func NewRouter(routes ...Route) *Router {
	return &Router{routes: routes}
}

// Report counts dispatch outcomes.
type Report struct {
	Handled int      `json:"handled"`
	Skipped int      `json:"skipped"`
	Failed  int      `json:"failed"`
	Errors  []string `json:"errors,omitempty"`
}

// Dispatch handles every record in order. A failing record is logged and
// does not stop the rest.
func (r *Router) Dispatch(ctx context.Context, records []ObjectCreated) Report {
	var rep Report
	for _, rec := range records {
		route, ok := r.match(rec.Key)
		if !ok {
			logger.Debug("no route for object", logger.String("key", rec.Key))
			rep.Skipped++
			continue
		}
		if err := route.Handler.Handle(ctx, rec); err != nil {
			logger.Error("object handler failed",
				logger.String("route", route.Name),
				logger.String("key", rec.Key),
				logger.ErrorField(err))
			rep.Failed++
			rep.Errors = append(rep.Errors, fmt.Sprintf("%s: %v", rec.Key, err))
			continue
		}
		rep.Handled++
	}
	return rep
}

func (r *Router) match(key string) (Route, bool) {
	for _, rt := range r.routes {
		if rt.Match(key) {
			return rt, true
		}
	}
	return Route{}, false
}

// DecodeKey undoes the form encoding S3 applies to keys in notifications
// ("+" is a space).
func DecodeKey(raw string) string {
	key, err := url.QueryUnescape(raw)
	if err != nil {
		return raw
	}
	return key
}

// FromNotification extracts object-created records from a bucket
// notification; other event types are dropped.
func FromNotification(info notification.Info) []ObjectCreated {
	out := make([]ObjectCreated, 0, len(info.Records))
	for _, rec := range info.Records {
		if !strings.HasPrefix(rec.EventName, "s3:ObjectCreated:") && !strings.HasPrefix(rec.EventName, "ObjectCreated:") {
			continue
		}
		out = append(out, ObjectCreated{
			Bucket:       rec.S3.Bucket.Name,
			Key:          DecodeKey(rec.S3.Object.Key),
			Size:         rec.S3.Object.Size,
			UserMetadata: rec.S3.Object.UserMetadata,
		})
	}
	return out
}
