// Package config loads the claimtype service configuration from a JSON file,
// the environment and an optional .env file.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
)

// Defaults for fields omitted from every source.
const (
	DefaultModelPath    = "tuned_XGB.json"
	DefaultModelFormat  = "auto"
	DefaultListen       = ":8080"
	DefaultServiceName  = "claimtype"
	DefaultHistoryLimit = 50
)

// Config is the root configuration. Pointer fields distinguish "unset" from
// zero values so sources can be layered; use the Get* accessors to read.
type Config struct {
	ModelPath       *string `json:"model_path,omitempty"`
	ModelFormat     *string `json:"model_format,omitempty"` // auto, xgboost-json or onnx
	ONNXLibraryPath *string `json:"onnx_library_path,omitempty"`
	ONNXInputName   *string `json:"onnx_input_name,omitempty"`
	ONNXLabelOutput *string `json:"onnx_label_output,omitempty"`
	ONNXProbaOutput *string `json:"onnx_proba_output,omitempty"`

	Listen     *string `json:"listen,omitempty"`
	GRPCListen *string `json:"grpc_listen,omitempty"`

	// History is off unless a database path is given.
	HistoryDB    *string `json:"history_db,omitempty"`
	HistoryLimit *int    `json:"history_limit,omitempty"`

	OTLPEndpoint *string `json:"otlp_endpoint,omitempty"`
	OTLPInsecure *bool   `json:"otlp_insecure,omitempty"`
	ServiceName  *string `json:"service_name,omitempty"`

	ChartAssetsHost *string `json:"chart_assets_host,omitempty"`
}

func ptrString(v string) *string { return &v }
func ptrBool(v bool) *bool       { return &v }
func ptrInt(v int) *int          { return &v }

// Empty returns a Config with every field unset.
func Empty() *Config {
	return &Config{}
}

// Load reads a Config from a JSON file. The file must have a .json extension
// and be under 1MB. Omitted fields keep their defaults.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Empty()
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Merge copies every field set in o over c.
func (c *Config) Merge(o *Config) {
	if o == nil {
		return
	}
	mergeString(&c.ModelPath, o.ModelPath)
	mergeString(&c.ModelFormat, o.ModelFormat)
	mergeString(&c.ONNXLibraryPath, o.ONNXLibraryPath)
	mergeString(&c.ONNXInputName, o.ONNXInputName)
	mergeString(&c.ONNXLabelOutput, o.ONNXLabelOutput)
	mergeString(&c.ONNXProbaOutput, o.ONNXProbaOutput)
	mergeString(&c.Listen, o.Listen)
	mergeString(&c.GRPCListen, o.GRPCListen)
	mergeString(&c.HistoryDB, o.HistoryDB)
	mergeString(&c.OTLPEndpoint, o.OTLPEndpoint)
	mergeString(&c.ServiceName, o.ServiceName)
	mergeString(&c.ChartAssetsHost, o.ChartAssetsHost)
	if o.HistoryLimit != nil {
		c.HistoryLimit = ptrInt(*o.HistoryLimit)
	}
	if o.OTLPInsecure != nil {
		c.OTLPInsecure = ptrBool(*o.OTLPInsecure)
	}
}

func mergeString(dst **string, src *string) {
	if src != nil {
		*dst = ptrString(*src)
	}
}

// Validate checks that the configuration values are valid.
func (c *Config) Validate() error {
	if c.ModelPath != nil && strings.TrimSpace(*c.ModelPath) == "" {
		return fmt.Errorf("model_path must not be empty")
	}
	if c.ModelFormat != nil {
		switch *c.ModelFormat {
		case "", "auto", "xgboost-json", "onnx":
		default:
			return fmt.Errorf("model_format must be auto, xgboost-json or onnx, got %q", *c.ModelFormat)
		}
	}
	for name, addr := range map[string]*string{"listen": c.Listen, "grpc_listen": c.GRPCListen, "otlp_endpoint": c.OTLPEndpoint} {
		if addr == nil || *addr == "" {
			continue
		}
		if _, _, err := net.SplitHostPort(*addr); err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, *addr, err)
		}
	}
	if c.HistoryLimit != nil && (*c.HistoryLimit < 1 || *c.HistoryLimit > 1000) {
		return fmt.Errorf("history_limit must be between 1 and 1000, got %d", *c.HistoryLimit)
	}
	return nil
}

func getString(p *string, def string) string {
	if p == nil || *p == "" {
		return def
	}
	return *p
}

// GetModelPath returns the model artifact path or the default.
func (c *Config) GetModelPath() string { return getString(c.ModelPath, DefaultModelPath) }

// GetModelFormat returns the artifact format or "auto".
func (c *Config) GetModelFormat() string { return getString(c.ModelFormat, DefaultModelFormat) }

func (c *Config) GetONNXLibraryPath() string { return getString(c.ONNXLibraryPath, "") }
func (c *Config) GetONNXInputName() string   { return getString(c.ONNXInputName, "") }
func (c *Config) GetONNXLabelOutput() string { return getString(c.ONNXLabelOutput, "") }
func (c *Config) GetONNXProbaOutput() string { return getString(c.ONNXProbaOutput, "") }

// GetListen returns the HTTP listen address or the default.
func (c *Config) GetListen() string { return getString(c.Listen, DefaultListen) }

// GetGRPCListen returns the gRPC listen address; empty disables gRPC.
func (c *Config) GetGRPCListen() string { return getString(c.GRPCListen, "") }

// GetHistoryDB returns the history database path; empty disables history.
func (c *Config) GetHistoryDB() string { return getString(c.HistoryDB, "") }

// GetHistoryLimit returns how many rows /api/history returns by default.
func (c *Config) GetHistoryLimit() int {
	if c.HistoryLimit == nil {
		return DefaultHistoryLimit
	}
	return *c.HistoryLimit
}

// GetOTLPEndpoint returns the collector address; empty disables export.
func (c *Config) GetOTLPEndpoint() string { return getString(c.OTLPEndpoint, "") }

// GetOTLPInsecure reports whether to skip TLS to the collector.
func (c *Config) GetOTLPInsecure() bool {
	if c.OTLPInsecure == nil {
		return false
	}
	return *c.OTLPInsecure
}

// GetServiceName returns the telemetry service name or the default.
func (c *Config) GetServiceName() string { return getString(c.ServiceName, DefaultServiceName) }

// GetChartAssetsHost returns the echarts asset host; empty uses the
// renderer default.
func (c *Config) GetChartAssetsHost() string { return getString(c.ChartAssetsHost, "") }
