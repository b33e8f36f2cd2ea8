// Copyright (C) 2026 ChatRelay Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"errors"
	"io/fs"
	"log"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// Config is the relayctl configuration, read from config.yaml in the
// working directory. Every field is optional; flags and environment
// variables override it.
type Config struct {
	// OrchestratorURL is the base URL of the chatrelay server.
	OrchestratorURL string `yaml:"orchestrator_url"`

	// Token is the bearer credential sent on /v1 requests.
	Token string `yaml:"token"`

	// Model and Mode are default request parameters.
	Model string `yaml:"model"`
	Mode  string `yaml:"mode"`
}

var config Config

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}

func init() {
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		configPath := "config.yaml"
		yamlFile, err := os.ReadFile(configPath)
		if errors.Is(err, fs.ErrNotExist) {
			return // defaults only
		}
		if err != nil {
			log.Fatalf("Error reading config.yaml: %v", err)
		}

		if err := yaml.Unmarshal(yamlFile, &config); err != nil {
			log.Fatalf("Error parsing config.yaml: %v", err)
		}
	}
}
