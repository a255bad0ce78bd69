// go-synclock
// Copyright (c) 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of go-synclock.
//
// go-synclock is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// go-synclock is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with go-synclock.  If not, see <http://www.gnu.org/licenses/>.

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"time"

	"github.com/ZaparooProject/go-synclock/pkg/synclock"
	"github.com/go-playground/validator/v10"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

const (
	SchemaVersion = 1
	CfgEnv        = "SYNCLOCKD_CFG"
	CfgFile       = "synclockd.toml"
)

var (
	ErrSchemaMismatch = errors.New("schema version mismatch")
	ErrInvalidConfig  = errors.New("invalid config")
)

type Values struct {
	Datastore    Datastore `toml:"datastore"`
	API          API       `toml:"api"`
	Locks        Locks     `toml:"locks"`
	Workers      Workers   `toml:"workers"`
	ConfigSchema int       `toml:"config_schema"`
	DebugLogging bool      `toml:"debug_logging"`
}

type Locks struct {
	// DeadlockTimeout of 0 waits forever.
	DeadlockTimeout Duration `toml:"deadlock_timeout" validate:"gte=0"`
}

type Datastore struct {
	Path string `toml:"path" validate:"required"`
}

type API struct {
	Listen      string   `toml:"listen" validate:"required,hostname_port"`
	CORSOrigins []string `toml:"cors_origins,omitempty"`
	AllowedIPs  []string `toml:"allowed_ips,omitempty" validate:"dive,cidr|ip"`
}

type Workers struct {
	Sources             int      `toml:"sources" validate:"min=1,max=64"`
	Handlers            int      `toml:"handlers" validate:"min=0,max=256"`
	MaintenanceInterval Duration `toml:"maintenance_interval" validate:"gt=0"`
	Retention           Duration `toml:"retention" validate:"gt=0"`
}

var BaseDefaults = Values{
	ConfigSchema: SchemaVersion,
	Locks: Locks{
		DeadlockTimeout: Duration{synclock.DefaultTimeout},
	},
	Datastore: Datastore{
		Path: "devices.db",
	},
	API: API{
		Listen:      "127.0.0.1:7600",
		CORSOrigins: []string{"*"},
	},
	Workers: Workers{
		Sources:             4,
		Handlers:            8,
		MaintenanceInterval: Duration{10 * time.Second},
		Retention:           Duration{time.Hour},
	},
}

// Instance is the loaded config file. All access goes through mu.
type Instance struct {
	fs       afero.Fs
	mu       *synclock.Mutex
	validate *validator.Validate
	cfgPath  string
	vals     Values
	defaults Values
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(Duration); ok {
			return int64(d.Duration)
		}
		return nil
	}, Duration{})
	return v
}

// NewConfig loads the config file from configDir, writing defaults first if
// it does not exist. The CfgEnv environment variable overrides the path.
//
//nolint:gocritic // config struct copied for immutability
func NewConfig(fs afero.Fs, configDir string, defaults Values) (*Instance, error) {
	cfgPath := os.Getenv(CfgEnv)
	log.Debug().Msgf("env config path: %s", cfgPath)

	if cfgPath == "" {
		cfgPath = filepath.Join(configDir, CfgFile)
	}

	cfg := &Instance{
		fs:       fs,
		mu:       synclock.New(synclock.WithName("config")),
		validate: newValidator(),
		cfgPath:  cfgPath,
		vals:     defaults,
		defaults: defaults,
	}

	exists, err := afero.Exists(fs, cfgPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if !exists {
		log.Info().Msg("saving new default config to disk")

		err := fs.MkdirAll(filepath.Dir(cfgPath), 0o750)
		if err != nil {
			return nil, fmt.Errorf("failed to create config directory: %w", err)
		}

		err = cfg.Save()
		if err != nil {
			return nil, err
		}
	}

	err = cfg.Load()
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// Lock returns the config lock, for diagnostics.
func (c *Instance) Lock() *synclock.Mutex {
	return c.mu
}

func (c *Instance) Path() string {
	return c.cfgPath
}

// Load replaces the current values with the file contents layered over
// the defaults.
func (c *Instance) Load() error {
	l, err := synclock.NewLocker(c.mu)
	if err != nil {
		return err
	}
	defer l.Release()

	data, err := afero.ReadFile(c.fs, c.cfgPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	newVals := c.defaults
	newVals.API.CORSOrigins = slices.Clone(c.defaults.API.CORSOrigins)
	err = toml.Unmarshal(data, &newVals)
	if err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if newVals.ConfigSchema != SchemaVersion {
		log.Error().Msgf(
			"schema version mismatch: got %d, expecting %d",
			newVals.ConfigSchema,
			SchemaVersion,
		)
		return ErrSchemaMismatch
	}

	if err := c.validate.Struct(&newVals); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	c.vals = newVals
	return nil
}

func (c *Instance) Save() error {
	l, err := synclock.NewLocker(c.mu)
	if err != nil {
		return err
	}
	defer l.Release()

	c.vals.ConfigSchema = SchemaVersion

	data, err := toml.Marshal(&c.vals)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := afero.WriteFile(c.fs, c.cfgPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func (c *Instance) DebugLogging() bool {
	c.mu.RLock()
	defer synclock.NewSharedUnlocker(c.mu).Release()
	return c.vals.DebugLogging
}

func (c *Instance) SetDebugLogging(enabled bool) {
	c.mu.Lock()
	defer synclock.NewUnlocker(c.mu).Release()
	c.vals.DebugLogging = enabled
}

// DeadlockTimeout is the bound applied to the service's locks.
func (c *Instance) DeadlockTimeout() time.Duration {
	c.mu.RLock()
	defer synclock.NewSharedUnlocker(c.mu).Release()
	return c.vals.Locks.DeadlockTimeout.Duration
}

func (c *Instance) SetDeadlockTimeout(d time.Duration) {
	c.mu.Lock()
	defer synclock.NewUnlocker(c.mu).Release()
	c.vals.Locks.DeadlockTimeout = Duration{d}
}

func (c *Instance) DatastorePath() string {
	c.mu.RLock()
	defer synclock.NewSharedUnlocker(c.mu).Release()
	return c.vals.Datastore.Path
}

func (c *Instance) APIListen() string {
	c.mu.RLock()
	defer synclock.NewSharedUnlocker(c.mu).Release()
	return c.vals.API.Listen
}

func (c *Instance) CORSOrigins() []string {
	c.mu.RLock()
	defer synclock.NewSharedUnlocker(c.mu).Release()
	return slices.Clone(c.vals.API.CORSOrigins)
}

func (c *Instance) AllowedIPs() []string {
	c.mu.RLock()
	defer synclock.NewSharedUnlocker(c.mu).Release()
	return slices.Clone(c.vals.API.AllowedIPs)
}

func (c *Instance) Workers() Workers {
	c.mu.RLock()
	defer synclock.NewSharedUnlocker(c.mu).Release()
	return c.vals.Workers
}
