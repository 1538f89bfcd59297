package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/InfurnusWolf/tripweave"
)

func gatewayRequest() tripweave.TripRequest {
	return tripweave.TripRequest{
		Origin:      "Hyderabad, India",
		Destination: "Pondicherry, India",
		Budget:      tripweave.BudgetRange{Min: 800, Max: 1500},
		PartySize:   2,
		TravelDates: tripweave.TravelWindow{StartDate: "2026-10-02", EndDate: "2026-10-08"},
		Interests:   []string{"beaches", "heritage"},
	}
}

func TestFlightsGateway_Fetch(t *testing.T) {
	var captured *http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = r.Clone(context.Background())
		w.Write([]byte(`{"data":[{"id":"offer-1"}]}`))
	}))
	defer srv.Close()

	gw := NewFlightsGateway("flights-key", WithBaseURL(srv.URL))
	require.Equal(t, tripweave.GatewayFlights, gw.Name())

	payload, err := gw.Fetch(context.Background(), gatewayRequest())
	require.NoError(t, err)
	assert.JSONEq(t, `{"data":[{"id":"offer-1"}]}`, string(payload))

	q := captured.URL.Query()
	assert.Equal(t, "Hyderabad, India", q.Get("originLocationCode"))
	assert.Equal(t, "Pondicherry, India", q.Get("destinationLocationCode"))
	assert.Equal(t, "2026-10-02", q.Get("departureDate"))
	assert.Equal(t, "2026-10-08", q.Get("returnDate"))
	assert.Equal(t, "2", q.Get("adults"))
	assert.Equal(t, "flights-key", captured.Header.Get("apikey"))
}

func TestLodgingGateway_Fetch(t *testing.T) {
	var captured *http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = r.Clone(context.Background())
		w.Write([]byte(`{"results":[]}`))
	}))
	defer srv.Close()

	gw := NewLodgingGateway("lodging-key", WithBaseURL(srv.URL))
	require.Equal(t, tripweave.GatewayLodging, gw.Name())

	payload, err := gw.Fetch(context.Background(), gatewayRequest())
	require.NoError(t, err)
	// An empty result set is data, not an error.
	assert.JSONEq(t, `{"results":[]}`, string(payload))

	q := captured.URL.Query()
	assert.Equal(t, "Pondicherry, India", q.Get("query"))
	assert.Equal(t, "2026-10-02", q.Get("checkin_date"))
	assert.Equal(t, "2026-10-08", q.Get("checkout_date"))
	assert.Equal(t, "800", q.Get("price_min"))
	assert.Equal(t, "1500", q.Get("price_max"))
	assert.Equal(t, "lodging-key", captured.Header.Get("X-RapidAPI-Key"))
	assert.Equal(t, hotelsSearchHost, captured.Header.Get("X-RapidAPI-Host"))
}

func TestActivitiesGateway_Fetch(t *testing.T) {
	var captured *http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = r.Clone(context.Background())
		w.Write([]byte(`{"features":[]}`))
	}))
	defer srv.Close()

	gw := NewActivitiesGateway("places-key", WithBaseURL(srv.URL))
	require.Equal(t, tripweave.GatewayActivities, gw.Name())

	_, err := gw.Fetch(context.Background(), gatewayRequest())
	require.NoError(t, err)

	q := captured.URL.Query()
	assert.Equal(t, "Pondicherry, India", q.Get("query"))
	assert.Equal(t, "beaches,heritage", q.Get("categories"))
	assert.Equal(t, "places-key", captured.Header.Get("apikey"))
}

func TestWeatherGateway_Fetch(t *testing.T) {
	var captured *http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = r.Clone(context.Background())
		w.Write([]byte(`{"list":[{"main":{"temp":29.4}}]}`))
	}))
	defer srv.Close()

	gw := NewWeatherGateway("weather-key", WithBaseURL(srv.URL))
	require.Equal(t, tripweave.GatewayWeather, gw.Name())

	_, err := gw.Fetch(context.Background(), gatewayRequest())
	require.NoError(t, err)

	q := captured.URL.Query()
	assert.Equal(t, "Pondicherry, India", q.Get("q"))
	assert.Equal(t, "metric", q.Get("units"))
	assert.Equal(t, "weather-key", q.Get("appid"))
}

func TestGateway_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"quota exceeded"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	gw := NewWeatherGateway("key", WithBaseURL(srv.URL))
	_, err := gw.Fetch(context.Background(), gatewayRequest())
	require.Error(t, err)
	assert.True(t, tripweave.IsGatewayError(err))
	assert.Contains(t, err.Error(), "429")
}

func TestGateway_InvalidJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>not json</html>"))
	}))
	defer srv.Close()

	gw := NewFlightsGateway("key", WithBaseURL(srv.URL))
	_, err := gw.Fetch(context.Background(), gatewayRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid JSON")
}

func TestGateway_ContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	gw := NewWeatherGateway("key", WithBaseURL(srv.URL))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := gw.Fetch(ctx, gatewayRequest())
	assert.Error(t, err)
}

func TestWithHTTPClient(t *testing.T) {
	custom := &http.Client{}
	c := newCore("https://example.com", []Option{WithHTTPClient(custom)})
	assert.Same(t, custom, c.client)

	c = newCore("https://example.com", []Option{WithHTTPClient(nil)})
	assert.Same(t, defaultHTTPClient, c.client)
}
