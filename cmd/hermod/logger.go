// Copyright 2025 Peerex, Ltd.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"os"

	"github.com/peerex/hermod/pkg/config"
	"github.com/peerex/hermod/pkg/logger"
)

const (
	// LogLevelEnvVar overrides the log level when no CLI flag is given.
	LogLevelEnvVar = "LOG_LEVEL"
	// LogFileEnvVar overrides the log file when no CLI flag is given.
	LogFileEnvVar = "LOG_FILE"
	// LogFormatEnvVar overrides the log format when no CLI flag is given.
	LogFormatEnvVar = "LOG_FORMAT"
	// DefaultLogFormat is used when nothing selects a format.
	DefaultLogFormat = "simple"
)

// initLoggerFromCLI initializes logging before any config is loaded.
// Priority per field: CLI flag > env var > default.
func initLoggerFromCLI(cliLogLevel, cliLogFile, cliLogFormat string) (func(), error) {
	logLevel := firstNonEmpty(cliLogLevel, os.Getenv(LogLevelEnvVar), "info")
	logFile := firstNonEmpty(cliLogFile, os.Getenv(LogFileEnvVar))
	logFormat := firstNonEmpty(cliLogFormat, os.Getenv(LogFormatEnvVar), DefaultLogFormat)

	level, err := logger.ParseLevel(logLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	output, cleanup, err := openLogOutput(logFile)
	if err != nil {
		return nil, err
	}

	logger.Init(level, output, logFormat)
	return cleanup, nil
}

// applyLoggerConfig re-initializes logging once the config is known.
// CLI flags and env vars keep priority per field; the config fills the
// gaps and is the only source of redaction keys.
func applyLoggerConfig(cli *CLI, cfg *config.LoggerConfig) (func(), error) {
	logLevel := firstNonEmpty(cli.LogLevel, os.Getenv(LogLevelEnvVar), cfg.Level, "info")
	logFile := firstNonEmpty(cli.LogFile, os.Getenv(LogFileEnvVar), cfg.File)
	logFormat := firstNonEmpty(cli.LogFormat, os.Getenv(LogFormatEnvVar), cfg.Format, DefaultLogFormat)

	level, err := logger.ParseLevel(logLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	output, cleanup, err := openLogOutput(logFile)
	if err != nil {
		return nil, err
	}

	logger.InitWithOptions(level, output, logFormat, cfg.RedactKeys)
	return cleanup, nil
}

func openLogOutput(logFile string) (*os.File, func(), error) {
	if logFile == "" {
		return os.Stderr, nil, nil
	}
	file, cleanup, err := logger.OpenLogFile(logFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return file, cleanup, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
