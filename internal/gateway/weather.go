package gateway

import (
	"context"
	"encoding/json"
	"net/url"

	"github.com/InfurnusWolf/tripweave"
)

const openWeatherForecastURL = "https://api.openweathermap.org/data/2.5/forecast"

// WeatherGateway fetches the destination forecast from OpenWeatherMap.
// The provider only forecasts a few days ahead; the capability is told
// to treat the payload as indicative, not as day-by-day truth.
type WeatherGateway struct {
	core
	apiKey string
}

// NewWeatherGateway creates the forecast gateway.
func NewWeatherGateway(apiKey string, options ...Option) *WeatherGateway {
	return &WeatherGateway{
		core:   newCore(openWeatherForecastURL, options),
		apiKey: apiKey,
	}
}

// Name returns the provider name stages reference.
func (g *WeatherGateway) Name() string { return tripweave.GatewayWeather }

// Fetch retrieves the metric forecast for the destination.
func (g *WeatherGateway) Fetch(ctx context.Context, req tripweave.TripRequest) (json.RawMessage, error) {
	query := url.Values{}
	query.Set("q", req.Destination)
	query.Set("units", "metric")
	query.Set("appid", g.apiKey)

	payload, err := g.getJSON(ctx, query, nil)
	if err != nil {
		return nil, tripweave.NewGatewayError(g.Name(), err)
	}
	return payload, nil
}
