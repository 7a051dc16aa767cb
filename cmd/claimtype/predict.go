package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"

	"github.com/banshee-data/claimtype/internal/claim"
	"github.com/banshee-data/claimtype/internal/config"
	"github.com/banshee-data/claimtype/internal/features"
	"github.com/banshee-data/claimtype/internal/grpcapi"
	"github.com/banshee-data/claimtype/internal/httputil"
	"github.com/banshee-data/claimtype/internal/predictor"
	"github.com/banshee-data/claimtype/internal/render"
	"github.com/banshee-data/claimtype/internal/security"
)

const remoteTimeout = 30 * time.Second

type predictOptions struct {
	sets     []string
	jsonFile string
	chart    string
	server   string
	grpcAddr string
	format   string
	barWidth int
}

func newPredictCmd(g *globalFlags) *cobra.Command {
	o := &predictOptions{}
	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Run one prediction and print the result",
		Long: "predict builds a form state from the defaults, an optional JSON file and\n" +
			"--set overrides, then predicts locally or against a running server.",
		Example: "  claimtype predict --set attorney_representative=true --set birth_year=1975\n" +
			"  claimtype predict --json claim.json --chart claim.png\n" +
			"  claimtype predict --server http://localhost:8080 --format json",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPredict(cmd, g, o)
		},
	}
	f := cmd.Flags()
	f.StringArrayVar(&o.sets, "set", nil, "Field override as key=value (repeatable)")
	f.StringVar(&o.jsonFile, "json", "", "JSON form state file, or - for stdin")
	f.StringVar(&o.chart, "chart", "", "Write a PNG probability chart to this path")
	f.StringVar(&o.server, "server", "", "Predict against a running HTTP server at this base URL")
	f.StringVar(&o.grpcAddr, "grpc", "", "Predict against a running gRPC server at this address")
	f.StringVar(&o.format, "format", "text", "Output format: text or json")
	f.IntVar(&o.barWidth, "bar-width", 40, "Width of the text probability bars")
	cmd.MarkFlagsMutuallyExclusive("server", "grpc")
	return cmd
}

// buildState applies the JSON file and then the --set overrides to the
// defaults. The result is validated like any untrusted input.
func buildState(v *claim.Validator, stdin io.Reader, o *predictOptions) (claim.FormState, error) {
	state := v.Defaults()
	if o.jsonFile != "" {
		var (
			data []byte
			err  error
		)
		if o.jsonFile == "-" {
			data, err = io.ReadAll(io.LimitReader(stdin, httputil.MaxBodyBytes))
		} else {
			data, err = os.ReadFile(o.jsonFile)
		}
		if err != nil {
			return state, fmt.Errorf("read form state: %w", err)
		}
		if state, err = v.Decode(data); err != nil {
			return state, err
		}
	}
	for _, kv := range o.sets {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			return state, fmt.Errorf("%w: --set %q is not key=value", claim.ErrInvalid, kv)
		}
		if err := state.Set(strings.TrimSpace(key), value); err != nil {
			return state, fmt.Errorf("%w: %v", claim.ErrInvalid, err)
		}
	}
	return state, v.Check(state)
}

func runPredict(cmd *cobra.Command, g *globalFlags, o *predictOptions) error {
	switch o.format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown output format %q", o.format)
	}
	if o.chart != "" {
		if err := security.ValidateExportPath(o.chart); err != nil {
			return fmt.Errorf("chart path: %w", err)
		}
	}

	cfg, err := g.resolve(nil)
	if err != nil {
		return err
	}
	v, err := claim.NewValidator(features.DefaultTables().Choices())
	if err != nil {
		return err
	}
	state, err := buildState(v, cmd.InOrStdin(), o)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	var res *predictor.Result
	switch {
	case o.server != "":
		res, err = predictHTTP(ctx, o.server, state)
	case o.grpcAddr != "":
		res, err = predictGRPC(ctx, o.grpcAddr, state)
	default:
		res, err = predictLocal(ctx, cfg, state)
	}
	if err != nil {
		return err
	}

	if o.chart != "" {
		if err := writeChart(o.chart, res.Probabilities); err != nil {
			return err
		}
	}
	return printResult(cmd.OutOrStdout(), res, o)
}

func predictLocal(ctx context.Context, cfg *config.Config, state claim.FormState) (*predictor.Result, error) {
	res, err := predictor.Load(ctx, predictorConfig(cfg))
	if err != nil {
		return nil, err
	}
	defer res.Close()
	return predictor.New(res).Predict(ctx, state, attribute.String("surface", "cli"))
}

func predictHTTP(ctx context.Context, baseURL string, state claim.FormState) (*predictor.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, remoteTimeout)
	defer cancel()

	body, err := json.Marshal(state)
	if err != nil {
		return nil, err
	}
	var res predictor.Result
	if err := httputil.NewClient(nil, baseURL).PostJSON(ctx, "/api/predict", body, &res); err != nil {
		var serr *httputil.StatusError
		if errors.As(err, &serr) {
			return nil, fmt.Errorf("prediction failed: %w", serr)
		}
		return nil, fmt.Errorf("request %s: %w", baseURL, err)
	}
	return &res, nil
}

func predictGRPC(ctx context.Context, addr string, state claim.FormState) (*predictor.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, remoteTimeout)
	defer cancel()

	client, conn, err := grpcapi.Dial(addr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	out, err := client.PredictState(ctx, state)
	if err != nil {
		return nil, fmt.Errorf("prediction failed: %w", err)
	}
	data, err := json.Marshal(out.AsMap())
	if err != nil {
		return nil, err
	}
	var res predictor.Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return &res, nil
}

func writeChart(path string, probs []predictor.Probability) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create chart file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return render.PNG(f, probs, 0, 0)
}

func printResult(w io.Writer, res *predictor.Result, o *predictOptions) error {
	if o.format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	fmt.Fprintf(w, "Predicted Claim Type: %s\n\n", res.Label)
	_, err := io.WriteString(w, render.TextBars(res.Probabilities, o.barWidth))
	return err
}
