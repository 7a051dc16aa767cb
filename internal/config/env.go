package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CLAIMTYPE_"

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are ignored.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// FromEnv builds a Config from CLAIMTYPE_* variables, e.g.
// CLAIMTYPE_MODEL_PATH or CLAIMTYPE_OTLP_INSECURE.
func FromEnv(getenv func(string) string) (*Config, error) {
	c := Empty()
	str := func(key string, dst **string) {
		if v, ok := lookup(getenv, key); ok {
			*dst = ptrString(v)
		}
	}
	str("MODEL_PATH", &c.ModelPath)
	str("MODEL_FORMAT", &c.ModelFormat)
	str("ONNX_LIBRARY_PATH", &c.ONNXLibraryPath)
	str("ONNX_INPUT_NAME", &c.ONNXInputName)
	str("ONNX_LABEL_OUTPUT", &c.ONNXLabelOutput)
	str("ONNX_PROBA_OUTPUT", &c.ONNXProbaOutput)
	str("LISTEN", &c.Listen)
	str("GRPC_LISTEN", &c.GRPCListen)
	str("HISTORY_DB", &c.HistoryDB)
	str("OTLP_ENDPOINT", &c.OTLPEndpoint)
	str("SERVICE_NAME", &c.ServiceName)
	str("CHART_ASSETS_HOST", &c.ChartAssetsHost)

	if v, ok := lookup(getenv, "OTLP_INSECURE"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("%sOTLP_INSECURE: %w", EnvPrefix, err)
		}
		c.OTLPInsecure = ptrBool(b)
	}
	if v, ok := lookup(getenv, "HISTORY_LIMIT"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("%sHISTORY_LIMIT: %w", EnvPrefix, err)
		}
		c.HistoryLimit = ptrInt(n)
	}
	return c, nil
}

func lookup(getenv func(string) string, key string) (string, bool) {
	v := strings.TrimSpace(getenv(EnvPrefix + key))
	return v, v != ""
}

// Resolve layers the sources in increasing precedence: defaults, the JSON
// file (if path is non-empty), then the environment. Flags are merged on top
// by the caller.
func Resolve(path string, getenv func(string) string) (*Config, error) {
	cfg := Empty()
	if path != "" {
		fileCfg, err := Load(path)
		if err != nil {
			return nil, err
		}
		cfg.Merge(fileCfg)
	}
	envCfg, err := FromEnv(getenv)
	if err != nil {
		return nil, err
	}
	cfg.Merge(envCfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
