package main

import (
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/jo-hoe/potd/internal/core"
	"github.com/jo-hoe/potd/internal/logging"
)

const defaultConfigPath = "config.yaml"

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *core.ServiceConfig
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

// ensureConfig loads the configuration once. Without an explicit path a
// missing ./config.yaml falls back to the defaults.
func (c *commandContext) ensureConfig(logOutput io.Writer) (*core.ServiceConfig, error) {
	c.configOnce.Do(func() {
		path, explicit := c.configPath()
		cfg, err := core.LoadConfig(path)
		if err != nil {
			if explicit || !errors.Is(err, fs.ErrNotExist) {
				c.configErr = err
				return
			}
			cfg = core.DefaultConfig()
		}
		logger, err := logging.New(cfg.Logging, logOutput)
		if err != nil {
			c.configErr = err
			return
		}
		slog.SetDefault(logger)
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) configPath() (string, bool) {
	if c.configFlag != nil {
		if path := strings.TrimSpace(*c.configFlag); path != "" {
			return path, true
		}
	}
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		return path, true
	}
	return defaultConfigPath, false
}

func (c *commandContext) withCore(fn func(*core.ServiceConfig, *core.CoreService) error) error {
	cfg, err := c.ensureConfig(os.Stderr)
	if err != nil {
		return err
	}
	coreService, err := core.NewCoreService(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := coreService.Close(); cerr != nil {
			slog.Error("failed to close core service", "error", cerr)
		}
	}()
	return fn(cfg, coreService)
}
