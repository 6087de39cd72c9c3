// SPDX-License-Identifier: AGPL-3.0-or-later
package types

// Config is the resolved kfpt configuration: defaults, config file,
// KFPT_* environment and command-line flags merged in that order.
type Config struct {
	// On-cluster Kubeflow Pipelines API server.
	Endpoint          string `mapstructure:"endpoint" yaml:"endpoint"`
	IAPClientID       string `mapstructure:"iap_client_id" yaml:"iap_client_id"`
	APINamespace      string `mapstructure:"api_namespace" yaml:"api_namespace"`
	OtherClientID     string `mapstructure:"other_client_id" yaml:"other_client_id"`
	OtherClientSecret string `mapstructure:"other_client_secret" yaml:"other_client_secret"`
	Namespace         string `mapstructure:"namespace" yaml:"namespace"`

	// Shared by both backends.
	PipelineRoot   string `mapstructure:"pipeline_root" yaml:"pipeline_root"`
	ServiceAccount string `mapstructure:"service_account" yaml:"service_account"`

	// Vertex AI Pipelines.
	EncryptionSpecKeyName string `mapstructure:"encryption_spec_key_name" yaml:"encryption_spec_key_name"`
	Project               string `mapstructure:"project" yaml:"project"`
	Location              string `mapstructure:"location" yaml:"location"`
	Network               string `mapstructure:"network" yaml:"network"`

	Parser  ParserConfig  `mapstructure:"parser" yaml:"parser"`
	History HistoryConfig `mapstructure:"history" yaml:"history"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
	DataDir string        `mapstructure:"data_dir" yaml:"data_dir"`
}

// ParserConfig controls artifact parsing.
type ParserConfig struct {
	Strict bool `mapstructure:"strict" yaml:"strict"`
}

// HistoryConfig controls the local submission history.
type HistoryConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Keep bounds the number of retained rows; 0 keeps everything.
	Keep int `mapstructure:"keep" yaml:"keep"`
}

type LogConfig struct {
	Format string `mapstructure:"format" yaml:"format"` // text|json
	Level  string `mapstructure:"level" yaml:"level"`   // debug|info|warn|error
}
