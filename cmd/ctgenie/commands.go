package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ctgenie-cds-server/internal/api"
	"github.com/ctgenie-cds-server/internal/domain"
	"github.com/ctgenie-cds-server/internal/mcp"
	"github.com/ctgenie-cds-server/internal/service"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(false)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := signalContext(a.Logger)
			defer cancel()

			if err := api.NewServer(a).Start(ctx); err != nil {
				return fmt.Errorf("server failed: %w", err)
			}
			a.Logger.Info("Server stopped")
			return nil
		},
	}
}

func mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP server on stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(true)
			if err != nil {
				return err
			}
			defer a.Close()

			server, err := mcp.NewServer(a)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext(a.Logger)
			defer cancel()
			return server.Start(ctx)
		},
	}
}

func predictCmd() *cobra.Command {
	var (
		features     map[string]string
		featuresFile string
	)

	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Classify one CTG feature vector and print the full prediction",
		RunE: func(cmd *cobra.Command, args []string) error {
			query, err := readFeatures(features, featuresFile)
			if err != nil {
				return err
			}

			a, err := buildApp(true)
			if err != nil {
				return err
			}
			defer a.Close()

			resp, err := a.Predictor.Predict(cmd.Context(), &domain.PredictionRequest{Features: query})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}

	cmd.Flags().StringToStringVar(&features, "feature", nil, "feature value, e.g. --feature LB=135,ASTV=55")
	cmd.Flags().StringVar(&featuresFile, "features-file", "", "JSON object of feature values")
	return cmd
}

func similarCmd() *cobra.Command {
	var (
		features     map[string]string
		featuresFile string
		topK         int
	)

	cmd := &cobra.Command{
		Use:   "similar",
		Short: "Find historical cases similar to a CTG feature vector",
		RunE: func(cmd *cobra.Command, args []string) error {
			query, err := readFeatures(features, featuresFile)
			if err != nil {
				return err
			}

			a, err := buildApp(true)
			if err != nil {
				return err
			}
			defer a.Close()

			return printJSON(cmd.OutOrStdout(), a.Predictor.Cases().SimilarCases(query, topK))
		},
	}

	cmd.Flags().StringToStringVar(&features, "feature", nil, "feature value, e.g. --feature LB=135,ASTV=55")
	cmd.Flags().StringVar(&featuresFile, "features-file", "", "JSON object of feature values")
	cmd.Flags().IntVarP(&topK, "top-k", "k", service.DefaultSimilarCasesK, "number of cases to return")
	return cmd
}

func explainCmd() *cobra.Command {
	var (
		indexDir string
		topK     int
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "explain <evidence.json>",
		Short: "Generate caregiver and clinician explanations for an evidence file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(args[0])
			if err != nil {
				return err
			}

			a, err := buildApp(true)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Explainer.CheckCredential(); err != nil {
				return err
			}
			evidence, err := service.DecodeEvidence(data)
			if err != nil {
				return err
			}

			opts := a.ExplainOptions()
			if indexDir != "" {
				opts.IndexDir = indexDir
			}
			if topK > 0 {
				opts.TopK = topK
			}

			result, err := a.Explainer.GenerateExplanations(cmd.Context(), evidence, opts)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), result)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "=== PARENT ===\n%s\n\n=== DOCTOR ===\n%s\n", result.ParentText, result.DoctorText)
			return nil
		},
	}

	cmd.Flags().StringVar(&indexDir, "rag-index-dir", "", "reference index directory used to ground the clinician explanation")
	cmd.Flags().IntVar(&topK, "rag-top-k", 0, "number of passages to retrieve")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	return cmd
}

// readFeatures merges a JSON features file with --feature flags; flags win.
func readFeatures(flags map[string]string, path string) (domain.FeatureVector, error) {
	features := domain.FeatureVector{}
	if path != "" {
		data, err := readInput(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, &features); err != nil {
			return nil, fmt.Errorf("invalid features file %s: %w", path, err)
		}
	}
	for key, raw := range flags {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid value for feature %s: %q", key, raw)
		}
		features[key] = v
	}
	if len(features) == 0 {
		return nil, fmt.Errorf("no features given; use --feature or --features-file")
	}
	return features, nil
}

// readInput reads a file, or stdin when path is "-".
func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
