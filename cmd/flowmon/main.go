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

package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/FlowMonProject/flowmon-core/pkg/api"
	"github.com/FlowMonProject/flowmon-core/pkg/config"
	"github.com/FlowMonProject/flowmon-core/pkg/helpers"
	"github.com/FlowMonProject/flowmon-core/pkg/service"
	"github.com/adrg/xdg"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := run(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func run() error {
	device := flag.String(
		"device",
		"",
		"serial device of the flow sensor (skips auto-detect)",
	)
	listPorts := flag.Bool(
		"list",
		false,
		"list available serial ports and exit",
	)
	version := flag.Bool(
		"version",
		false,
		"print version and exit",
	)
	flag.Parse()

	if *version {
		_, _ = fmt.Printf("FlowMon v%s\n", config.AppVersion)
		return nil
	}

	if *listPorts {
		return printPortList()
	}

	cfg, err := setup()
	if err != nil {
		return err
	}

	defer func() {
		if err := recover(); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Panic: %s\n", err)
			log.Fatal().Msgf("panic: %v", err)
		}
	}()

	selected := *device
	if selected == "" {
		selected = cfg.SerialDevice()
	}
	if selected == "" {
		selected, err = autoSelectDevice()
		if err != nil {
			return err
		}
	}

	svc := service.NewService(cfg, nil, nil)
	svc.Start()
	defer svc.Stop()

	if err := svc.Connect(selected); err != nil {
		log.Error().Err(err).Str("device", selected).Msg("error connecting to sensor")
		return fmt.Errorf("error connecting to %s: %w", selected, err)
	}

	go api.Start(cfg, svc, svc.Notifications())

	sigs := make(chan os.Signal, 1)
	defer close(sigs)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs

	log.Info().Msg("shutting down")
	return nil
}

func setup() (*config.Instance, error) {
	logDir := filepath.Join(xdg.StateHome, config.AppName)
	if err := helpers.InitLogging(logDir, []io.Writer{os.Stderr}); err != nil {
		return nil, fmt.Errorf("error initializing logging: %w", err)
	}

	configDir := filepath.Join(xdg.ConfigHome, config.AppName)
	cfg, err := config.NewConfig(configDir, config.BaseDefaults)
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}

	if cfg.DebugLogging() {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	return cfg, nil
}

func printPortList() error {
	ports, err := helpers.GetSerialPortList()
	if err != nil {
		return err
	}

	if len(ports) == 0 {
		_, _ = fmt.Println("No serial ports found.")
		return nil
	}

	for _, p := range ports {
		_, _ = fmt.Printf("%-20s %-12s %s\n", p.Device, p.Type, p.Description)
	}
	return nil
}

func autoSelectDevice() (string, error) {
	ports, err := helpers.GetSerialPortList()
	if err != nil {
		return "", fmt.Errorf("error scanning serial ports: %w", err)
	}

	if len(ports) == 0 {
		return "", errors.New("no serial ports found, connect the sensor and try again")
	}

	selected, candidates := helpers.AutoSelectPort(ports)
	if selected != "" {
		log.Info().Str("device", selected).Msg("auto-selected sensor port")
		return selected, nil
	}

	_, _ = fmt.Fprintln(os.Stderr, "Could not auto-detect the sensor. Available ports:")
	for _, p := range candidates {
		_, _ = fmt.Fprintf(os.Stderr, "  %-20s %-12s %s\n", p.Device, p.Type, p.Description)
	}
	return "", errors.New("select a port explicitly with -device")
}
