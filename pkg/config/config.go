// FlowMon Core
// Copyright (c) 2026 The FlowMon Project Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of FlowMon Core.
//
// FlowMon Core is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// FlowMon Core is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with FlowMon Core.  If not, see <http://www.gnu.org/licenses/>.

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/FlowMonProject/flowmon-core/pkg/helpers/syncutil"
	"github.com/google/uuid"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	SchemaVersion = 1
	CfgEnv        = "FLOWMON_CFG"
)

type Values struct {
	Serial       Serial  `toml:"serial,omitempty"`
	Monitor      Monitor `toml:"monitor,omitempty"`
	Service      Service `toml:"service,omitempty"`
	ConfigSchema int     `toml:"config_schema"`
	DebugLogging bool    `toml:"debug_logging"`
}

type Serial struct {
	Device   string `toml:"device,omitempty"`
	BaudRate int    `toml:"baud_rate"`
}

type Monitor struct {
	BufferCapacity       int     `toml:"buffer_capacity"`
	StaleTimeoutSecs     int     `toml:"stale_timeout_secs"`
	ReconnectTimeoutSecs int     `toml:"reconnect_timeout_secs"`
	ReconnectBackoffSecs int     `toml:"reconnect_backoff_secs"`
	RenderIntervalMs     int     `toml:"render_interval_ms"`
	FlowRateMin          float64 `toml:"flow_rate_min"`
	FlowRateMax          float64 `toml:"flow_rate_max"`
}

type Service struct {
	DeviceID string `toml:"device_id,omitempty"`
	APIPort  int    `toml:"api_port"`
}

var BaseDefaults = Values{
	ConfigSchema: SchemaVersion,
	Serial: Serial{
		BaudRate: 9600,
	},
	Monitor: Monitor{
		BufferCapacity:       500,
		StaleTimeoutSecs:     5,
		ReconnectTimeoutSecs: 15,
		ReconnectBackoffSecs: 5,
		RenderIntervalMs:     100,
		FlowRateMin:          0.0,
		FlowRateMax:          50.0,
	},
	Service: Service{
		APIPort: 7497,
	},
}

type Instance struct {
	cfgPath  string
	vals     Values
	defaults Values
	mu       syncutil.RWMutex
}

//nolint:gocritic // config struct copied for immutability
func NewConfig(configDir string, defaults Values) (*Instance, error) {
	cfgPath := os.Getenv(CfgEnv)
	log.Debug().Msgf("env config path: %s", cfgPath)

	if cfgPath == "" {
		cfgPath = filepath.Join(configDir, CfgFile)
	}

	cfg := Instance{
		mu:       syncutil.RWMutex{},
		cfgPath:  cfgPath,
		vals:     defaults,
		defaults: defaults,
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		log.Info().Msg("saving new default config to disk")

		err := os.MkdirAll(filepath.Dir(cfgPath), 0o750)
		if err != nil {
			return nil, fmt.Errorf("failed to create config directory: %w", err)
		}

		err = cfg.Save()
		if err != nil {
			return nil, err
		}
	}

	err := cfg.Load()
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Instance) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cfgPath == "" {
		return errors.New("config path not set")
	}

	data, err := os.ReadFile(c.cfgPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	// Start with defaults, then unmarshal file values on top.
	// This ensures fields not present in the file retain their default values.
	newVals := c.defaults
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
		return errors.New("schema version mismatch")
	}

	c.vals = newVals

	return nil
}

func (c *Instance) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cfgPath == "" {
		return errors.New("config path not set")
	}

	c.vals.ConfigSchema = SchemaVersion

	// generate a device id if one doesn't exist
	if c.vals.Service.DeviceID == "" {
		newID := uuid.New().String()
		c.vals.Service.DeviceID = newID
		log.Info().Msgf("generated new device id: %s", newID)
	}

	data, err := toml.Marshal(&c.vals)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.cfgPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func (c *Instance) SerialDevice() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Serial.Device
}

func (c *Instance) SetSerialDevice(device string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.Serial.Device = device
}

func (c *Instance) BaudRate() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Serial.BaudRate
}

func (c *Instance) BufferCapacity() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Monitor.BufferCapacity
}

func (c *Instance) StaleTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.vals.Monitor.StaleTimeoutSecs) * time.Second
}

func (c *Instance) ReconnectTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.vals.Monitor.ReconnectTimeoutSecs) * time.Second
}

func (c *Instance) ReconnectBackoff() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.vals.Monitor.ReconnectBackoffSecs) * time.Second
}

func (c *Instance) RenderInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.vals.Monitor.RenderIntervalMs) * time.Millisecond
}

func (c *Instance) FlowRateBounds() (minRate, maxRate float64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Monitor.FlowRateMin, c.vals.Monitor.FlowRateMax
}

func (c *Instance) APIPort() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Service.APIPort
}

func (c *Instance) DeviceID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Service.DeviceID
}

func (c *Instance) DebugLogging() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.DebugLogging
}

func (c *Instance) SetDebugLogging(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.DebugLogging = enabled
	if enabled {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
