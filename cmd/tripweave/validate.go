package main

import (
	"encoding/json"
	"fmt"

	"github.com/InfurnusWolf/tripweave/internal/orchestrator"
	"github.com/spf13/cobra"
)

var (
	validatePipelinePath string
	validateRequestPath  string
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a pipeline file and/or a request file for consistency",
	Long: `Validates a pipeline YAML (stage graph, conditions, terminal stage)
and/or a trip request JSON without executing anything.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runValidate()
	},
}

func init() {
	validateCmd.Flags().StringVarP(&validatePipelinePath, "pipeline", "p", "", "pipeline YAML to validate")
	validateCmd.Flags().StringVarP(&validateRequestPath, "request", "r", "", "trip request JSON to validate")
	rootCmd.AddCommand(validateCmd)
}

func runValidate() error {
	if validatePipelinePath == "" && validateRequestPath == "" {
		return fmt.Errorf("nothing to validate: pass --pipeline and/or --request")
	}

	if validatePipelinePath != "" {
		p, err := orchestrator.LoadAndValidatePipeline(validatePipelinePath)
		if err != nil {
			return err
		}
		fmt.Printf("Pipeline %q is valid: %d stages, terminal stage %q\n", p.Name, len(p.Stages), p.TerminalID)
		for _, s := range p.Stages {
			deps := "none"
			if len(s.DependsOn) > 0 {
				b, _ := json.Marshal(s.DependsOn)
				deps = string(b)
			}
			fmt.Printf("  %s (depends on: %s)\n", s.ID, deps)
		}
	}

	if validateRequestPath != "" {
		request, err := loadRequest(validateRequestPath)
		if err != nil {
			return err
		}
		if err := request.Validate(); err != nil {
			return err
		}
		fmt.Printf("Request is valid: %s -> %s, %d traveller(s)\n",
			request.Origin, request.Destination, request.PartySize)
	}

	return nil
}
