package main

import (
	"fmt"
	"strings"
	"sync"

	"github.com/samber/do/v2"
	"github.com/spf13/viper"

	"github.com/listenupapp/listenup-reader/internal/config"
	"github.com/listenupapp/listenup-reader/internal/di"
	"github.com/listenupapp/listenup-reader/internal/service"
)

type commandContext struct {
	viper      *viper.Viper
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(v *viper.Viper, configFlag *string) *commandContext {
	return &commandContext{
		viper:      v,
		configFlag: configFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, err := config.Load(c.viper, path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// withLibrary opens the library for the duration of fn. The data directory
// stays locked until fn returns.
func (c *commandContext) withLibrary(fn func(*service.LibraryService) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}

	injector := di.NewContainer(cfg)
	defer shutdown(injector)

	library, err := di.Library(injector)
	if err != nil {
		return fmt.Errorf("open library: %w", err)
	}
	return fn(library)
}

func shutdown(injector *do.RootScope) {
	if err := injector.Shutdown(); err != nil {
		di.Logger(injector).Error("Shutdown error", "error", err)
	}
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
