package gateway

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"

	"github.com/InfurnusWolf/tripweave"
)

const geoapifyPlacesURL = "https://api.geoapify.com/v2/places"

// ActivitiesCriteria is the query projected from a trip request for the
// places search.
type ActivitiesCriteria struct {
	Destination string
	Categories  []string
}

// ActivitiesCriteriaFromRequest projects the request fields the
// provider understands. The traveller's interests become place
// categories.
func ActivitiesCriteriaFromRequest(req tripweave.TripRequest) ActivitiesCriteria {
	return ActivitiesCriteria{
		Destination: req.Destination,
		Categories:  req.Interests,
	}
}

// ActivitiesGateway searches local activities through the Geoapify
// places API.
type ActivitiesGateway struct {
	core
	apiKey string
}

// NewActivitiesGateway creates the local activities gateway.
func NewActivitiesGateway(apiKey string, options ...Option) *ActivitiesGateway {
	return &ActivitiesGateway{
		core:   newCore(geoapifyPlacesURL, options),
		apiKey: apiKey,
	}
}

// Name returns the provider name stages reference.
func (g *ActivitiesGateway) Name() string { return tripweave.GatewayActivities }

// Fetch retrieves places at the destination matching the traveller's
// interests.
func (g *ActivitiesGateway) Fetch(ctx context.Context, req tripweave.TripRequest) (json.RawMessage, error) {
	criteria := ActivitiesCriteriaFromRequest(req)

	query := url.Values{}
	query.Set("query", criteria.Destination)
	query.Set("categories", strings.Join(criteria.Categories, ","))

	payload, err := g.getJSON(ctx, query, map[string]string{"apikey": g.apiKey})
	if err != nil {
		return nil, tripweave.NewGatewayError(g.Name(), err)
	}
	return payload, nil
}
