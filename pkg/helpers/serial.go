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

package helpers

import (
	"fmt"
	"sort"
	"strings"

	"go.bug.st/serial/enumerator"
)

type PortType string

const (
	PortTypeArduino   PortType = "arduino"
	PortTypeUSBSerial PortType = "usb-serial"
	PortTypeUSB       PortType = "usb"
	PortTypeUnknown   PortType = "unknown"
)

// PortInfo describes one enumerated serial device.
type PortInfo struct {
	Device      string
	Description string
	Type        PortType
}

// Arduino boards either report a recognizable product string or one of
// the common USB-serial bridge chips used by clones.
var arduinoKeywords = []string{"ARDUINO", "UNO", "NANO", "MEGA"}

var bridgeKeywords = []string{"CH340", "CH341", "FTDI", "CP210"}

// Arduino LLC and Arduino SRL vendor ids.
var arduinoVendorIDs = []string{"2341", "2a03"}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

// ClassifyPort categorizes a serial device by its description and USB
// identifiers so auto-detection can prefer sensor hardware.
func ClassifyPort(description, vid string, isUSB bool) PortType {
	descriptor := strings.ToUpper(description)

	for _, v := range arduinoVendorIDs {
		if strings.EqualFold(vid, v) {
			return PortTypeArduino
		}
	}

	switch {
	case containsAny(descriptor, arduinoKeywords):
		return PortTypeArduino
	case containsAny(descriptor, bridgeKeywords):
		return PortTypeUSBSerial
	case isUSB || strings.Contains(descriptor, "USB"):
		return PortTypeUSB
	default:
		return PortTypeUnknown
	}
}

// GetSerialPortList enumerates serial devices with classification,
// sorted with Arduino-class devices first.
func GetSerialPortList() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
	}

	ports := make([]PortInfo, 0, len(details))
	for _, d := range details {
		desc := d.Product
		if desc == "" {
			desc = d.Name
		}
		ports = append(ports, PortInfo{
			Device:      d.Name,
			Description: desc,
			Type:        ClassifyPort(desc, d.VID, d.IsUSB),
		})
	}

	sort.SliceStable(ports, func(i, j int) bool {
		if (ports[i].Type == PortTypeArduino) != (ports[j].Type == PortTypeArduino) {
			return ports[i].Type == PortTypeArduino
		}
		return ports[i].Device < ports[j].Device
	})

	return ports, nil
}

// AutoSelectPort picks a device without prompting when exactly one
// Arduino-class port exists. Otherwise it returns the full candidate
// list so the caller can surface an explicit selection.
func AutoSelectPort(ports []PortInfo) (string, []PortInfo) {
	var matches []PortInfo
	for _, p := range ports {
		if p.Type == PortTypeArduino {
			matches = append(matches, p)
		}
	}

	if len(matches) == 1 {
		return matches[0].Device, nil
	}

	return "", ports
}
