// Package config loads llmq configuration. Default() is the baseline, Load
// reads JSON or YAML, FromEnv overlays LLMQ_* variables and Validate checks
// cross-field constraints such as scaling threshold ordering.
//
// Example:
//
//	cfg, err := config.Load("/etc/llmq.yaml")
//	if err != nil {
//	    return err
//	}
//	config.FromEnv(&cfg)
//	if err := cfg.Validate(); err != nil {
//	    return err
//	}
package config
