package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/InfurnusWolf/tripweave"
	"github.com/InfurnusWolf/tripweave/internal/assembler"
	"github.com/InfurnusWolf/tripweave/internal/capability"
	"github.com/InfurnusWolf/tripweave/internal/gateway"
	"github.com/InfurnusWolf/tripweave/internal/orchestrator"
	"github.com/spf13/cobra"
)

var (
	planRequestPath  string
	planOutputPath   string
	planPipelinePath string
	planModel        string
	planOffline      bool
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Generate a trip plan from a request file",
	Long: `Reads a trip request from a JSON file, executes the stage pipeline
against the configured model and whichever data providers have API keys
available, and writes the assembled plan to the output file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPlan(cmd.Context())
	},
}

func init() {
	planCmd.Flags().StringVarP(&planRequestPath, "request", "r", "", "path to the trip request JSON file (required)")
	planCmd.Flags().StringVarP(&planOutputPath, "output", "o", "trip_plan.json", "path for the assembled plan")
	planCmd.Flags().StringVarP(&planPipelinePath, "pipeline", "p", "", "optional pipeline YAML (defaults to the built-in five-stage pipeline)")
	planCmd.Flags().StringVarP(&planModel, "model", "m", "gemini-2.5-flash", "model backing the reasoning stages")
	planCmd.Flags().BoolVar(&planOffline, "offline", false, "use the scripted capability and skip all providers")
	planCmd.MarkFlagRequired("request")
	rootCmd.AddCommand(planCmd)
}

func runPlan(ctx context.Context) error {
	request, err := loadRequest(planRequestPath)
	if err != nil {
		return err
	}

	pipeline, err := loadPipeline(planPipelinePath)
	if err != nil {
		return err
	}

	var stageCapability tripweave.Capability
	var orchestratorOpts []orchestrator.Option

	if planOffline {
		stageCapability = capability.NewScriptedCapability(nil)
	} else {
		stageCapability, err = capability.NewGeminiCapability(ctx, planModel)
		if err != nil {
			return err
		}
		orchestratorOpts = orchestratorGateways(os.Getenv)
	}

	orch, err := orchestrator.New(stageCapability, orchestratorOpts...)
	if err != nil {
		return err
	}

	planner, err := tripweave.New(
		tripweave.WithOrchestrator(orch),
		tripweave.WithAssembler(assembler.New()),
		tripweave.WithWriter(assembler.NewFileWriter(planOutputPath)),
		tripweave.WithPipeline(pipeline),
	)
	if err != nil {
		return err
	}
	defer planner.Close()

	plan, err := planner.Plan(ctx, request)
	if err != nil {
		return err
	}

	fmt.Printf("Plan written to %s (status: %s", planOutputPath, plan.RunStatus)
	if len(plan.FailedStages) > 0 {
		fmt.Printf(", failed stages: %v", plan.FailedStages)
	}
	fmt.Println(")")
	return nil
}

func loadRequest(path string) (tripweave.TripRequest, error) {
	var request tripweave.TripRequest
	data, err := os.ReadFile(path)
	if err != nil {
		return request, fmt.Errorf("failed to read request file: %w", err)
	}
	if err := json.Unmarshal(data, &request); err != nil {
		return request, fmt.Errorf("failed to parse request file: %w", err)
	}
	return request, nil
}

func loadPipeline(path string) (*tripweave.Pipeline, error) {
	if path == "" {
		return tripweave.DefaultPipeline(), nil
	}
	return orchestrator.LoadAndValidatePipeline(path)
}

// orchestratorGateways registers every provider whose API key is
// available. A missing key simply leaves that provider out; the
// affected stages run without external data.
func orchestratorGateways(getenv func(string) string) []orchestrator.Option {
	if getenv == nil {
		return nil
	}
	opts := []orchestrator.Option{}
	if key := getenv("AMADEUS_API_KEY"); key != "" {
		opts = append(opts, orchestrator.WithGateway(gateway.NewFlightsGateway(key)))
	}
	if key := getenv("RAPIDAPI_KEY"); key != "" {
		opts = append(opts, orchestrator.WithGateway(gateway.NewLodgingGateway(key)))
	}
	if key := getenv("GEOAPIFY_API_KEY"); key != "" {
		opts = append(opts, orchestrator.WithGateway(gateway.NewActivitiesGateway(key)))
	}
	if key := getenv("OPENWEATHER_API_KEY"); key != "" {
		opts = append(opts, orchestrator.WithGateway(gateway.NewWeatherGateway(key)))
	}
	return opts
}
