package notifier

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultRoute is the target for notifications carrying no usable metadata.
const DefaultRoute = "/"

// builtinRoutes maps notification types to in-app routes.
var builtinRoutes = map[string]string{
	"task":       "/tasks",
	"payment":    "/transactions",
	"membership": "/membership",
	"complaint":  "/complaints",
}

// RouteResolver resolves the in-app target route for a notification.
// A direct data.url always wins over the type mapping; unrecognized or
// missing metadata falls back to DefaultRoute, so resolution is total.
type RouteResolver struct {
	routes map[string]string
}

// NewRouteResolver returns a resolver with the built-in type mapping.
func NewRouteResolver() *RouteResolver {
	routes := make(map[string]string, len(builtinRoutes))
	for k, v := range builtinRoutes {
		routes[k] = v
	}
	return &RouteResolver{routes: routes}
}

// LoadRouteResolver reads the optional route-overrides YAML file at filePath
// and returns a resolver with the overrides merged over the built-in
// mapping. A missing file yields the built-in mapping (not an error).
//
// File shape:
//
//	routes:
//	  task: /tasks/active
//	  promo: /membership
func LoadRouteResolver(filePath string) (*RouteResolver, error) {
	r := NewRouteResolver()

	data, err := os.ReadFile(filePath) //nolint:gosec // path is from admin-configured data dir
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, fmt.Errorf("reading route overrides %q: %w", filePath, err)
	}

	var raw struct {
		Routes map[string]string `yaml:"routes"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing route overrides %q: %w", filePath, err)
	}

	for typ, route := range raw.Routes {
		typ = strings.TrimSpace(typ)
		route = strings.TrimSpace(route)
		if typ == "" || route == "" {
			continue
		}
		r.routes[typ] = route
	}
	return r, nil
}

// Resolve returns the route target for the given notification metadata.
func (r *RouteResolver) Resolve(d Data) string {
	if d.URL != "" {
		return d.URL
	}
	if route, ok := r.routes[d.Type]; ok {
		return route
	}
	return DefaultRoute
}
