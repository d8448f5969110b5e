package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/grafana/loki-client-go/loki"
	"github.com/prometheus/common/model"
	"github.com/rs/zerolog"

	"github.com/timzifer/parkgate/config"
)

// DefaultConsoleFile receives logs while the operator console owns the
// terminal and no file is configured.
const DefaultConsoleFile = "parkgate.log"

// Setup creates a zerolog logger according to the provided configuration.
// With console set, nothing is written to stdout.
func Setup(cfg config.LoggingConfig, console bool) (zerolog.Logger, func(), error) {
	level := zerolog.InfoLevel
	if cfg.Level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
		if err != nil {
			return zerolog.Logger{}, nil, fmt.Errorf("parse log level: %w", err)
		}
		level = parsed
	}
	text := strings.EqualFold(cfg.Format, "text")

	var writers []io.Writer
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if !console {
		var stdout io.Writer = os.Stdout
		if text {
			stdout = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		}
		writers = append(writers, stdout)
	}

	path := cfg.File
	if path == "" && console {
		path = DefaultConsoleFile
	}
	if path != "" {
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return zerolog.Logger{}, nil, fmt.Errorf("open log file: %w", err)
		}
		var out io.Writer = file
		if text {
			out = zerolog.ConsoleWriter{Out: file, NoColor: true, TimeFormat: time.RFC3339}
		}
		writers = append(writers, out)
		closers = append(closers, func() { file.Close() })
	}

	if cfg.Loki.Enabled {
		lokiWriter, closer, err := newLokiWriter(cfg.Loki)
		if err != nil {
			cleanup()
			return zerolog.Logger{}, nil, err
		}
		writers = append(writers, lokiWriter)
		closers = append(closers, closer)
	}

	multi := zerolog.MultiLevelWriter(writers...)
	logger := zerolog.New(multi).With().Timestamp().Logger().Level(level)
	return logger, cleanup, nil
}

func newLokiWriter(cfg config.LokiConfig) (io.Writer, func(), error) {
	if cfg.URL == "" {
		return nil, nil, fmt.Errorf("loki url is required")
	}
	lokiCfg, err := loki.NewDefaultConfig(cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("prepare loki config: %w", err)
	}
	client, err := loki.New(lokiCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("create loki client: %w", err)
	}

	writer := &lokiWriter{client: client, labels: lokiLabels(cfg.Labels)}
	return writer, client.Stop, nil
}

func lokiLabels(configured map[string]string) model.LabelSet {
	labels := model.LabelSet{}
	for k, v := range configured {
		labels[model.LabelName(k)] = model.LabelValue(v)
	}
	if _, ok := labels["app"]; !ok {
		labels["app"] = "parkgate"
	}
	return labels
}

type lokiWriter struct {
	client *loki.Client
	labels model.LabelSet
}

func (l *lokiWriter) Write(p []byte) (int, error) {
	entry := strings.TrimSpace(string(p))
	if entry == "" {
		return len(p), nil
	}
	err := l.client.Handle(l.labels, time.Now(), entry)
	return len(p), err
}
