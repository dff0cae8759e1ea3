package httpmw

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"
)

// RouteInfo describes the route a request was dispatched to.
type RouteInfo struct {
	Controller string
	Action     string
	// Template is the path template of the route, e.g.
	// /operations/{id}.
	Template string
	Values   map[string]string
}

// RouteResolver resolves the route of a request before it is handled.
type RouteResolver interface {
	Resolve(r *http.Request) (RouteInfo, bool)
}

// MuxResolver resolves routes of a gorilla/mux router.
// Only named routes are resolved, the name must have the format
// "{controller}.{action}".
type MuxResolver struct {
	router *mux.Router
}

// NewMuxResolver returns a resolver for the routes of router. router can be
// nil when the middleware is registered via mux.Router.Use.
func NewMuxResolver(router *mux.Router) *MuxResolver {
	return &MuxResolver{router: router}
}

func (m *MuxResolver) Resolve(r *http.Request) (RouteInfo, bool) {
	route := mux.CurrentRoute(r)
	vars := mux.Vars(r)

	if route == nil && m.router != nil {
		var match mux.RouteMatch

		if m.router.Match(r, &match) && match.MatchErr == nil {
			route = match.Route
			vars = match.Vars
		}
	}

	if route == nil {
		return RouteInfo{}, false
	}

	controller, action, ok := strings.Cut(route.GetName(), ".")
	if !ok || controller == "" || action == "" {
		return RouteInfo{}, false
	}

	tmpl, _ := route.GetPathTemplate()

	return RouteInfo{
		Controller: controller,
		Action:     action,
		Template:   tmpl,
		Values:     vars,
	}, true
}

var _ RouteResolver = &MuxResolver{}
