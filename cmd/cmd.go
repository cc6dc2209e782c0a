package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// These variables are set using -ldflags
	version string
	commit  string
	date    string
)

var (
	log      *zap.SugaredLogger
	conf     *Config
	cpath    string
	jsonLogs bool
)

// Cmd is the entry point for the CLI
func Cmd() {
	if err := rootCmd().Execute(); err != nil {
		log.Fatalf("%s", err)
	}
}

func rootCmd() *cobra.Command {
	log = newLogger(false).Sugar()

	cobra.EnableCommandSorting = false
	c := &cobra.Command{
		Use:   "aggjin",
		Short: BuildDetails(),
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if jsonLogs {
				log = newLogger(true).Sugar()
			}
		},
		SilenceUsage: true,
	}

	c.PersistentFlags().StringVar(&cpath,
		"path", "./config", "path to config files")
	c.PersistentFlags().BoolVar(&jsonLogs,
		"json-logs", false, "log in json format")

	c.AddCommand(compileCmd())
	c.AddCommand(runCmd())
	c.AddCommand(servCmd())
	c.AddCommand(schemaCmd())
	c.AddCommand(versionCmd())
	return c
}

// setup reads the config file for the current environment. A missing
// config directory leaves the defaults in place.
func setup(cpath string) error {
	if conf != nil {
		return nil
	}

	cp, err := filepath.Abs(cpath)
	if err != nil {
		return err
	}

	if _, err := os.Stat(cp); os.IsNotExist(err) {
		conf, err = NewConfig()
		return err
	}

	conf, err = ReadInConfig(filepath.Join(cp, GetConfigName()))
	return err
}

// newLogger creates a new logger
func newLogger(json bool) *zap.Logger {
	return newLoggerWithOutput(json, os.Stderr)
}

// newLoggerWithOutput creates a new logger with a custom output
func newLoggerWithOutput(json bool, output zapcore.WriteSyncer) *zap.Logger {
	econf := zapcore.EncoderConfig{
		MessageKey:     "msg",
		LevelKey:       "level",
		NameKey:        "logger",
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	}

	var core zapcore.Core

	if json {
		core = zapcore.NewCore(zapcore.NewJSONEncoder(econf), output, zap.DebugLevel)
	} else {
		econf.EncodeLevel = zapcore.CapitalColorLevelEncoder
		core = zapcore.NewCore(zapcore.NewConsoleEncoder(econf), output, zap.DebugLevel)
	}
	return zap.New(core)
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), BuildDetails())
		},
	}
}

// BuildDetails returns the version, commit and build date of the binary
func BuildDetails() string {
	if version == "" {
		return "AggJin (unknown version)"
	}

	return fmt.Sprintf(`AggJin %v
For documentation, visit https://github.com/dosco/aggjin

Commit SHA-1          : %v
Commit timestamp      : %v
Go version            : %v

Licensed under the Apache Public License 2.0`,
		version, commit, date, runtime.Version())
}
