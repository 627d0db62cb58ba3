// Package logging configures the process wide logrus logger.
package logging

import (
	"fmt"
	"io"

	log "github.com/sirupsen/logrus"
)

type Options struct {
	Level        string
	Format       string
	ReportCaller bool
	// Output defaults to stderr.
	Output io.Writer
}

// Setup applies opts to the standard logger.
func Setup(opts Options) error {
	level := log.InfoLevel
	if opts.Level != "" {
		var err error
		if level, err = log.ParseLevel(opts.Level); err != nil {
			return err
		}
	}

	var formatter log.Formatter
	switch opts.Format {
	case "", "text":
		formatter = &log.TextFormatter{FullTimestamp: true}
	case "json":
		formatter = &log.JSONFormatter{}
	default:
		return fmt.Errorf("unknown log format %q", opts.Format)
	}

	log.SetLevel(level)
	log.SetFormatter(formatter)
	log.SetReportCaller(opts.ReportCaller)
	if opts.Output != nil {
		log.SetOutput(opts.Output)
	}
	return nil
}
