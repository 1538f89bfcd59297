package gateway

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"

	"github.com/InfurnusWolf/tripweave"
)

const amadeusFlightOffersURL = "https://api.amadeus.com/v1/shopping/flight-offers"

// FlightCriteria is the query projected from a trip request for the
// flight offers search.
type FlightCriteria struct {
	Origin        string
	Destination   string
	DepartureDate string
	ReturnDate    string
	Adults        int
}

// FlightCriteriaFromRequest projects the request fields the provider
// understands.
func FlightCriteriaFromRequest(req tripweave.TripRequest) FlightCriteria {
	return FlightCriteria{
		Origin:        req.Origin,
		Destination:   req.Destination,
		DepartureDate: req.TravelDates.StartDate,
		ReturnDate:    req.TravelDates.EndDate,
		Adults:        req.PartySize,
	}
}

// FlightsGateway fetches round-trip flight offers from the Amadeus
// flight offers API.
type FlightsGateway struct {
	core
	apiKey string
}

// NewFlightsGateway creates the flight offers gateway.
func NewFlightsGateway(apiKey string, options ...Option) *FlightsGateway {
	return &FlightsGateway{
		core:   newCore(amadeusFlightOffersURL, options),
		apiKey: apiKey,
	}
}

// Name returns the provider name stages reference.
func (g *FlightsGateway) Name() string { return tripweave.GatewayFlights }

// Fetch retrieves flight offers for the request's route and dates.
func (g *FlightsGateway) Fetch(ctx context.Context, req tripweave.TripRequest) (json.RawMessage, error) {
	criteria := FlightCriteriaFromRequest(req)

	query := url.Values{}
	query.Set("originLocationCode", criteria.Origin)
	query.Set("destinationLocationCode", criteria.Destination)
	query.Set("departureDate", criteria.DepartureDate)
	query.Set("returnDate", criteria.ReturnDate)
	query.Set("adults", strconv.Itoa(criteria.Adults))

	payload, err := g.getJSON(ctx, query, map[string]string{"apikey": g.apiKey})
	if err != nil {
		return nil, tripweave.NewGatewayError(g.Name(), err)
	}
	return payload, nil
}
