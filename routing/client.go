// Package routing looks up rail services that match a captured journey.
package routing

import (
	"context"
	"strings"

	"github.com/goliatone/go-claimbot/core"
	"github.com/goliatone/go-claimbot/transport"
)

const pathRoutes = "/routes"

type Client struct {
	rest *transport.RESTAdapter
}

func NewClient(doer transport.HTTPDoer, baseURL string) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, core.ConfigurationError("routing: base url is required", nil)
	}
	return &Client{rest: transport.NewRESTAdapter(doer, baseURL)}, nil
}

type routesResponse struct {
	Routes []core.Route `json:"routes"`
}

// FindRoutes returns candidate services ordered by the matcher's ranking.
// The correlation id in ctx is forwarded to the matcher.
func (c *Client) FindRoutes(ctx context.Context, query core.RouteQuery) ([]core.Route, error) {
	var out routesResponse
	if err := c.rest.GetJSON(ctx, pathRoutes, map[string]string{
		"from": query.Origin,
		"to":   query.Destination,
		"date": query.TravelDate,
		"time": query.DepartureTime,
	}, &out); err != nil {
		return nil, err
	}
	routes := make([]core.Route, 0, len(out.Routes))
	for _, route := range out.Routes {
		if strings.TrimSpace(route.DepartureTime) == "" {
			continue
		}
		routes = append(routes, route)
	}
	return routes, nil
}

var _ core.JourneyMatcher = (*Client)(nil)
