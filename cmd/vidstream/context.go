package main

import (
	"os"
	"strings"
	"sync"

	"github.com/vidstream/vidstream/internal/config"
	"github.com/vidstream/vidstream/internal/logging"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) configPath() string {
	if c.configFlag != nil {
		if path := strings.TrimSpace(*c.configFlag); path != "" {
			return path
		}
	}
	return strings.TrimSpace(os.Getenv("VIDSTREAM_CONFIG"))
}

// ensureConfig loads the configuration once and installs the logger it
// describes.
func (c *commandContext) ensureConfig() (config.Config, error) {
	c.configOnce.Do(func() {
		cfg, err := config.Load(c.configPath())
		if err != nil {
			c.configErr = err
			return
		}
		logging.Setup(os.Stderr, cfg.LogLevel, cfg.LogFormat)
		c.config = cfg
	})
	return c.config, c.configErr
}
