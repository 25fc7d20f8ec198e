//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the checkpointctl configuration file.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Log       LogConfig       `yaml:"log"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// DatabaseConfig selects the checkpoint database.
type DatabaseConfig struct {
	Dialect     string `yaml:"dialect" validate:"required,oneof=postgres sqlite"`
	DSN         string `yaml:"dsn" validate:"required"`
	SkipMigrate bool   `yaml:"skip_migrate"`
}

// LogConfig sets the log level.
type LogConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error fatal"`
}

// TelemetryConfig enables OTLP export of traces and metrics when Endpoint
// is set.
type TelemetryConfig struct {
	Endpoint string `yaml:"endpoint"`
	Protocol string `yaml:"protocol" validate:"omitempty,oneof=grpc http"`
}

var validate = validator.New()

func defaultConfig() Config {
	return Config{
		Database:  DatabaseConfig{Dialect: "postgres"},
		Log:       LogConfig{Level: "info"},
		Telemetry: TelemetryConfig{Protocol: "grpc"},
	}
}

// loadConfig reads path over the defaults. An empty path yields the defaults.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Errorf("invalid config: %s failed on %q", fe.Namespace(), fe.Tag())
	}
	return fmt.Errorf("invalid config: %w", err)
}
