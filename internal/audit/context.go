package audit

import "context"

type ctxKey string

const requestInfoKey ctxKey = "audit_request_info"

// RequestInfo is the request metadata stamped onto every audit entry.
type RequestInfo struct {
	RequestID string
	ClientIP  string
	UserAgent string
	Path      string
}

// WithRequestInfo attaches request metadata to ctx.
func WithRequestInfo(ctx context.Context, info RequestInfo) context.Context {
	return context.WithValue(ctx, requestInfoKey, info)
}

// RequestInfoFrom returns the request metadata attached to ctx, if any.
func RequestInfoFrom(ctx context.Context) RequestInfo {
	if ctx == nil {
		return RequestInfo{}
	}
	info, _ := ctx.Value(requestInfoKey).(RequestInfo)
	return info
}
