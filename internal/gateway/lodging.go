package gateway

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"

	"github.com/InfurnusWolf/tripweave"
)

const (
	hotelsSearchURL  = "https://hotels-com-free.p.rapidapi.com/v1/search"
	hotelsSearchHost = "hotels-com-free.p.rapidapi.com"
)

// LodgingCriteria is the query projected from a trip request for the
// hotel search.
type LodgingCriteria struct {
	Destination string
	CheckIn     string
	CheckOut    string
	Adults      int
	PriceMin    float64
	PriceMax    float64
}

// LodgingCriteriaFromRequest projects the request fields the provider
// understands. Lodging is searched at the destination for the full
// travel window, bounded by the trip budget.
func LodgingCriteriaFromRequest(req tripweave.TripRequest) LodgingCriteria {
	return LodgingCriteria{
		Destination: req.Destination,
		CheckIn:     req.TravelDates.StartDate,
		CheckOut:    req.TravelDates.EndDate,
		Adults:      req.PartySize,
		PriceMin:    req.Budget.Min,
		PriceMax:    req.Budget.Max,
	}
}

// LodgingGateway searches hotel availability through the RapidAPI
// hotels endpoint.
type LodgingGateway struct {
	core
	apiKey string
}

// NewLodgingGateway creates the hotel search gateway.
func NewLodgingGateway(apiKey string, options ...Option) *LodgingGateway {
	return &LodgingGateway{
		core:   newCore(hotelsSearchURL, options),
		apiKey: apiKey,
	}
}

// Name returns the provider name stages reference.
func (g *LodgingGateway) Name() string { return tripweave.GatewayLodging }

// Fetch retrieves hotel options for the destination and travel window.
func (g *LodgingGateway) Fetch(ctx context.Context, req tripweave.TripRequest) (json.RawMessage, error) {
	criteria := LodgingCriteriaFromRequest(req)

	query := url.Values{}
	query.Set("query", criteria.Destination)
	query.Set("checkin_date", criteria.CheckIn)
	query.Set("checkout_date", criteria.CheckOut)
	query.Set("adults", strconv.Itoa(criteria.Adults))
	query.Set("price_min", strconv.FormatFloat(criteria.PriceMin, 'f', -1, 64))
	query.Set("price_max", strconv.FormatFloat(criteria.PriceMax, 'f', -1, 64))

	headers := map[string]string{
		"X-RapidAPI-Key":  g.apiKey,
		"X-RapidAPI-Host": hotelsSearchHost,
	}

	payload, err := g.getJSON(ctx, query, headers)
	if err != nil {
		return nil, tripweave.NewGatewayError(g.Name(), err)
	}
	return payload, nil
}
