package urlcodec

import (
	"net/url"

	"github.com/k-yomo/kagu-miru/services/search/internal/domain"
)

// Route is the result of a shallow navigation to a search state.
//
// State carries every encoded key, searchFrom included, and lives only in the
// in-memory route. Shareable is the address-bar query string: searchFrom is
// stripped from it so a shared link always decodes with provenance URL.
type Route struct {
	State     url.Values
	Shareable string
}

// NewRoute encodes state into a Route.
func NewRoute(state domain.SearchState) Route {
	values := Encode(state)
	return Route{
		State:     values,
		Shareable: ShareableQuery(values),
	}
}

// ShareableQuery returns the query string of values without searchFrom.
func ShareableQuery(values url.Values) string {
	shareable := make(url.Values, len(values))
	for k, v := range values {
		if k == KeySearchFrom {
			continue
		}
		shareable[k] = append([]string(nil), v...)
	}
	return shareable.Encode()
}

// URL renders the shareable URL for the route under path.
func (r Route) URL(path string) string {
	if r.Shareable == "" {
		return path
	}
	return path + "?" + r.Shareable
}

// SearchState decodes the full in-memory route state.
func (r Route) SearchState() domain.SearchState {
	return Decode(r.State)
}
