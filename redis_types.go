package main

import (
	"fmt"
	"strings"

	"door-service/interlock"
)

// Payloads accepted on the door-control command channel:
//
//	open-left | open-right | open-all
//	close-left | close-right | close-all
//	emergency-evac
//	mode:<normal|manual|emergency|diagnostic|degraded>
const modePayloadPrefix = "mode:"

// ParseIPCCommand converts a command channel payload into a controller request
func ParseIPCCommand(payload string) (interlock.Request, error) {
	payload = strings.TrimSpace(payload)

	if strings.HasPrefix(payload, modePayloadPrefix) {
		mode, err := interlock.ParseMode(strings.TrimPrefix(payload, modePayloadPrefix))
		if err != nil {
			return interlock.Request{}, fmt.Errorf("unknown mode in %q: %w", payload, err)
		}
		return interlock.ModeRequest(mode), nil
	}

	cmd, err := interlock.ParseDriverCommand(payload)
	if err != nil || cmd == interlock.DriverCmdNone {
		return interlock.Request{}, fmt.Errorf("unknown door command %q: %w", payload, interlock.ErrInvalidParameter)
	}
	return interlock.CommandRequest(cmd), nil
}

// VehicleState is the train-level state published in the "vehicle" hash
type VehicleState int

const (
	VehicleStateInService VehicleState = iota
	VehicleStateDegraded
	VehicleStateMaintenance
	VehicleStateEvacuation
)

var vehicleStateNames = map[string]VehicleState{
	"in-service":  VehicleStateInService,
	"degraded":    VehicleStateDegraded,
	"maintenance": VehicleStateMaintenance,
	"evacuation":  VehicleStateEvacuation,
}

// ParseVehicleState maps the hash value to a VehicleState. Unknown values
// are treated as in service.
func ParseVehicleState(s string) VehicleState {
	if state, ok := vehicleStateNames[s]; ok {
		return state
	}
	return VehicleStateInService
}

func (s VehicleState) String() string {
	for name, state := range vehicleStateNames {
		if state == s {
			return name
		}
	}
	return "unknown"
}
