package config

import (
	"context"
	"io"

	"github.com/a8m/envsubst"
	"github.com/pkg/errors"
	"github.com/yosuke-furukawa/json5/encoding/json5"

	"go.viam.com/omnidrive/logging"
)

// Read reads a config from the given file. ${VAR} references are replaced from the environment
// before parsing, and the file may use JSON5 comments.
func Read(ctx context.Context, filePath string, logger logging.Logger) (*Config, error) {
	buf, err := envsubst.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read config %s", filePath)
	}
	cfg, err := fromBytes(buf, logger)
	if err != nil {
		return nil, err
	}
	cfg.ConfigFilePath = filePath
	return cfg, nil
}

// FromReader reads a config from r. Environment references are not expanded.
func FromReader(ctx context.Context, r io.Reader, logger logging.Logger) (*Config, error) {
	buf, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config")
	}
	return fromBytes(buf, logger)
}

func fromBytes(buf []byte, logger logging.Logger) (*Config, error) {
	var cfg Config
	if err := json5.Unmarshal(buf, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to decode Config from json5")
	}
	if err := cfg.Validate(""); err != nil {
		return nil, err
	}
	logger.Debugw("config loaded",
		"mode", cfg.Mode, "decoder_policy", cfg.DecoderPolicy, "wheels", cfg.WheelIDs(), "sample_period_ms", cfg.SamplePeriodMs)
	return &cfg, nil
}
