package httpmw

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/simplesurance/biztracing/bizerr"
	"github.com/simplesurance/biztracing/principal"
	"github.com/simplesurance/biztracing/tracing"
)

const (
	TagMethod    = "http.method"
	TagURL       = "http.url"
	TagScheme    = "http.scheme"
	TagHost      = "http.host"
	TagTarget    = "http.target"
	TagUserAgent = "user_agent"

	TagUserID            = "user.id"
	TagUserAuthenticated = "user.authenticated"
	TagUserName          = "user.name"
	TagUserDomainID      = "user.domain_id"
	TagUserAuthID        = "user.auth_id"
	TagUserRoles         = "user.roles"

	TagRequestBodySize    = "http.request.body.size"
	TagRequestContentType = "http.request.content_type"
	TagRequestQueryCount  = "http.request.query.count"
	TagCategoryID         = "business.category_id"
	TagOperationID        = "business.operation_id"

	TagControllerName = "controller.name"
	TagActionName     = "action.name"
	TagOperationName  = "operation.name"
	TagOperationType  = "business.operation_type"

	// RouteTagPrefix prefixes the tags of route values.
	RouteTagPrefix = "route."

	TagResponseStatusCode  = "http.response.status_code"
	TagResponseBodySize    = "http.response.body.size"
	TagResponseContentType = "http.response.content_type"
	TagOperationSuccess    = "operation.success"

	TagErrorOccurred     = "error.occurred"
	TagErrorType         = "error.type"
	TagErrorMessage      = "error.message"
	TagBusinessErrorType = "business.error_type"

	TagStatusCode   = "http.status_code"
	TagResponseSize = "http.response_size"
)

// EventBusinessError is the name of the event that is added to the request
// span when the handler fails.
const EventBusinessError = "BusinessError"

// DefaultOperationType is the business operation type of controllers
// without an entry in ControllerOperationTypes.
const DefaultOperationType = "general"

const (
	queryCategoryID  = "categoryId"
	queryOperationID = "operationId"
)

func setRequestStartTags(span *tracing.Span, r *http.Request) {
	scheme := requestScheme(r)

	span.SetTags(
		tracing.String(TagMethod, r.Method),
		tracing.String(TagURL, scheme+"://"+r.Host+r.URL.RequestURI()),
		tracing.String(TagScheme, scheme),
		tracing.String(TagHost, r.Host),
		tracing.String(TagTarget, r.URL.Path),
		tracing.String(TagUserAgent, r.UserAgent()),
	)

	setUserTags(span, r)
	setRequestTags(span, r)
}

func requestScheme(r *http.Request) string {
	if r.URL.Scheme != "" {
		return r.URL.Scheme
	}

	if r.TLS != nil {
		return "https"
	}

	return "http"
}

func setUserTags(span *tracing.Span, r *http.Request) {
	p := principal.FromContext(r.Context())
	if p == nil {
		span.SetTag(tracing.Bool(TagUserAuthenticated, false))
		return
	}

	userID := p.Name
	if userID == "" {
		userID = p.Subject
	}

	span.SetTags(
		tracing.String(TagUserID, userID),
		tracing.Bool(TagUserAuthenticated, true),
		tracing.String(TagUserAuthID, p.Subject),
	)

	if p.Name != "" {
		span.SetTag(tracing.String(TagUserName, p.Name))
	}

	if p.DomainID != "" {
		span.SetTag(tracing.String(TagUserDomainID, p.DomainID))
	}

	if len(p.Roles) > 0 {
		span.SetTag(tracing.String(TagUserRoles, strings.Join(p.Roles, ",")))
	}
}

func setRequestTags(span *tracing.Span, r *http.Request) {
	if r.ContentLength > 0 {
		span.SetTag(tracing.Int64(TagRequestBodySize, r.ContentLength))
	}

	if ct := r.Header.Get("Content-Type"); ct != "" {
		span.SetTag(tracing.String(TagRequestContentType, ct))
	}

	q := r.URL.Query()
	if len(q) == 0 {
		return
	}

	span.SetTag(tracing.Int(TagRequestQueryCount, len(q)))

	if q.Has(queryCategoryID) {
		span.SetTag(tracing.String(TagCategoryID, q.Get(queryCategoryID)))
	}

	if q.Has(queryOperationID) {
		span.SetTag(tracing.String(TagOperationID, q.Get(queryOperationID)))
	}
}

func (m *Middleware) setRouteTags(span *tracing.Span, r *http.Request) RouteInfo {
	if m.resolver == nil {
		return RouteInfo{}
	}

	route, ok := m.resolver.Resolve(r)
	if !ok {
		return RouteInfo{}
	}

	span.SetTags(
		tracing.String(TagControllerName, route.Controller),
		tracing.String(TagActionName, route.Action),
		tracing.String(TagOperationName, route.Controller+"."+route.Action),
	)

	keys := make([]string, 0, len(route.Values))
	for k := range route.Values {
		if k == "controller" || k == "action" {
			continue
		}

		keys = append(keys, k)
	}

	sort.Strings(keys)

	for _, k := range keys {
		span.SetTag(tracing.String(RouteTagPrefix+k, route.Values[k]))
	}

	span.SetTag(tracing.String(TagOperationType, m.operationType(route.Controller)))

	return route
}

func (m *Middleware) operationType(controller string) string {
	if op, ok := m.controllerOps[strings.ToLower(controller)]; ok {
		return op
	}

	return DefaultOperationType
}

func setResponseTags(span *tracing.Span, h http.Header, status int) {
	span.SetTag(tracing.Int(TagResponseStatusCode, status))

	if n, ok := contentLength(h); ok {
		span.SetTag(tracing.Int64(TagResponseBodySize, n))
	}

	if ct := h.Get("Content-Type"); ct != "" {
		span.SetTag(tracing.String(TagResponseContentType, ct))
	}

	success := status >= 200 && status < 300
	span.SetTag(tracing.Bool(TagOperationSuccess, success))

	if success {
		span.SetStatus(tracing.StatusOK, "")
		return
	}

	span.SetStatus(tracing.StatusError, "HTTP "+strconv.Itoa(status))
}

func contentLength(h http.Header) (int64, bool) {
	v := h.Get("Content-Length")
	if v == "" {
		return 0, false
	}

	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}

	return n, true
}

// responseSize returns the Content-Length of the response, if it is not
// set the number of written body bytes.
func responseSize(h http.Header, written int64) int64 {
	if n, ok := contentLength(h); ok {
		return n
	}

	return written
}

// errorTypeName returns the kind of business errors and the Go type name of
// other errors.
func errorTypeName(err error) string {
	if kind := bizerr.KindOf(err); kind != bizerr.Unknown {
		return kind.String()
	}

	return fmt.Sprintf("%T", err)
}
