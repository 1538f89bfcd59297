// Command server exposes the tripweave runtime over HTTP. Runs are
// asynchronous: a POST starts a run and returns its ID, and the caller
// polls for status and fetches the plan when complete.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/InfurnusWolf/tripweave"
	"github.com/InfurnusWolf/tripweave/internal/assembler"
	"github.com/InfurnusWolf/tripweave/internal/capability"
	"github.com/InfurnusWolf/tripweave/internal/gateway"
	"github.com/InfurnusWolf/tripweave/internal/orchestrator"
)

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	model := flag.String("model", "gemini-2.5-flash", "model backing the reasoning stages")
	offline := flag.Bool("offline", false, "use the scripted capability and skip all providers")
	cleanupAfter := flag.Duration("cleanup-after", time.Hour, "drop finished runs older than this")
	flag.Parse()

	_ = godotenv.Load()

	ctx := context.Background()
	planner, err := buildPlanner(ctx, *model, *offline)
	if err != nil {
		log.Fatalf("Failed to build planner: %v", err)
	}
	defer planner.Close()

	srv := &http.Server{
		Addr:    *addr,
		Handler: newHandler(planner),
	}

	// Periodically drop finished runs so the run map doesn't grow
	// without bound.
	cleanupDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-cleanupDone:
				return
			case <-ticker.C:
				if removed := planner.CleanupRuns(*cleanupAfter); removed > 0 {
					log.Printf("Cleaned up finished runs (count: %d)", removed)
				}
			}
		}
	}()

	go func() {
		log.Printf("Listening on %s", *addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	close(cleanupDone)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
}

func buildPlanner(ctx context.Context, model string, offline bool) (*tripweave.Planner, error) {
	var stageCapability tripweave.Capability
	var orchestratorOpts []orchestrator.Option

	if offline {
		stageCapability = capability.NewScriptedCapability(nil)
	} else {
		var err error
		stageCapability, err = capability.NewGeminiCapability(ctx, model)
		if err != nil {
			return nil, err
		}
		if key := os.Getenv("AMADEUS_API_KEY"); key != "" {
			orchestratorOpts = append(orchestratorOpts, orchestrator.WithGateway(gateway.NewFlightsGateway(key)))
		}
		if key := os.Getenv("RAPIDAPI_KEY"); key != "" {
			orchestratorOpts = append(orchestratorOpts, orchestrator.WithGateway(gateway.NewLodgingGateway(key)))
		}
		if key := os.Getenv("GEOAPIFY_API_KEY"); key != "" {
			orchestratorOpts = append(orchestratorOpts, orchestrator.WithGateway(gateway.NewActivitiesGateway(key)))
		}
		if key := os.Getenv("OPENWEATHER_API_KEY"); key != "" {
			orchestratorOpts = append(orchestratorOpts, orchestrator.WithGateway(gateway.NewWeatherGateway(key)))
		}
	}

	orch, err := orchestrator.New(stageCapability, orchestratorOpts...)
	if err != nil {
		return nil, err
	}

	return tripweave.New(
		tripweave.WithOrchestrator(orch),
		tripweave.WithAssembler(assembler.New()),
	)
}

func newHandler(planner *tripweave.Planner) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	r.Route("/runs", func(r chi.Router) {
		r.Post("/", handleStartRun(planner))
		r.Get("/", handleListRuns(planner))
		r.Get("/{id}", handleRunStatus(planner))
		r.Get("/{id}/plan", handleRunResult(planner))
		r.Delete("/{id}", handleCancelRun(planner))
	})
	return r
}

func handleStartRun(planner *tripweave.Planner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var request tripweave.TripRequest
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("malformed request body: %w", err))
			return
		}
		// Reject malformed requests before starting a run; the run's own
		// validation would only surface the error on the first poll.
		if err := request.Validate(); err != nil {
			writeError(w, http.StatusUnprocessableEntity, err)
			return
		}

		runID, err := planner.StartRun(r.Context(), request)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
	}
}

func handleListRuns(planner *tripweave.Planner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, planner.ListRuns())
	}
}

func handleRunStatus(planner *tripweave.Planner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := planner.RunStatus(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeJSON(w, http.StatusOK, status)
	}
}

func handleRunResult(planner *tripweave.Planner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runID := chi.URLParam(r, "id")
		plan, err := planner.RunResult(runID)
		if err != nil {
			status, statusErr := planner.RunStatus(runID)
			switch {
			case statusErr != nil:
				writeError(w, http.StatusNotFound, err)
			case !status.IsComplete && !status.HasError:
				writeError(w, http.StatusConflict, err)
			default:
				writeError(w, http.StatusUnprocessableEntity, err)
			}
			return
		}
		writeJSON(w, http.StatusOK, plan)
	}
}

func handleCancelRun(planner *tripweave.Planner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cancelled, err := planner.CancelRun(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"cancelled": cancelled})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
