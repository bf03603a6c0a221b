package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/moffa90/go-mbin/config"
	"github.com/moffa90/go-mbin/retcode"
)

func exitIfSet(errs ...error) {
	for _, err := range errs {
		if err != nil {
			exitWithError(err)
		}
	}
}

// exitWithError exits with the bootloader code carried by err, or 1.
func exitWithError(err error) {
	_, _ = fmt.Fprintf(os.Stderr, "Error: %s\n", err)

	if retcode.IsError(err) {
		os.Exit(int(retcode.Of(err)))
	}
	os.Exit(1)
}

// loadConfig loads the board profile. The default profile is used when the
// file does not exist and required is false.
func loadConfig(path string, required bool) (*config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) && !required {
		return config.Default(), nil
	}
	return cfg, err
}

func newLogger(verbose bool) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		DisableTimestamp: true,
	})
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	}
	return logger
}
