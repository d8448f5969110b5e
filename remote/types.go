package remote

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
)

// placeholder is what the firmware emits for values it does not know yet.
const placeholder = "--"

// StatusSnapshot is one complete reading of the gate controller.
//
// Every field is optional: firmware revisions differ in what they report and
// a nil field means "unknown this cycle", never false or zero.
type StatusSnapshot struct {
	RFIDUID             *string
	Distance            *float64
	BarrierEntranceOpen *bool
	BarrierExitOpen     *bool
	Slot1Occupied       *bool
	Slot2Occupied       *bool
	EntryTime1          *string
	ExitTime1           *string
	EntryTime2          *string
	ExitTime2           *string

	Available     *int
	UptimeSeconds *int64
	Temperature   *float64
	Firmware      *string
	IP            *string
}

type statusWire struct {
	RFIDUID      *string  `json:"rfidUID"`
	Distancia    *float64 `json:"distancia"`
	PlumaEntrada *bool    `json:"plumaEntrada"`
	PlumaSalida  *bool    `json:"plumaSalida"`
	Cajon1       *bool    `json:"cajon1"`
	Cajon2       *bool    `json:"cajon2"`
	EntryTime1   *string  `json:"entryTime1"`
	ExitTime1    *string  `json:"exitTime1"`
	EntryTime2   *string  `json:"entryTime2"`
	ExitTime2    *string  `json:"exitTime2"`
	Disponibles  *int     `json:"disponibles"`
	Uptime       *int64   `json:"uptime"`
	Temp         *float64 `json:"temp"`
	Firmware     *string  `json:"firmware"`
	IP           *string  `json:"ip"`
}

// DecodeStatus parses a getStatus body.
func DecodeStatus(body []byte) (*StatusSnapshot, error) {
	var wire statusWire
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return &StatusSnapshot{
		RFIDUID:             known(wire.RFIDUID),
		Distance:            wire.Distancia,
		BarrierEntranceOpen: wire.PlumaEntrada,
		BarrierExitOpen:     wire.PlumaSalida,
		Slot1Occupied:       wire.Cajon1,
		Slot2Occupied:       wire.Cajon2,
		EntryTime1:          known(wire.EntryTime1),
		ExitTime1:           known(wire.ExitTime1),
		EntryTime2:          known(wire.EntryTime2),
		ExitTime2:           known(wire.ExitTime2),
		Available:           wire.Disponibles,
		UptimeSeconds:       wire.Uptime,
		Temperature:         wire.Temp,
		Firmware:            known(wire.Firmware),
		IP:                  known(wire.IP),
	}, nil
}

// MarshalJSON renders the snapshot using the device's field names.
func (s StatusSnapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(statusWire{
		RFIDUID:      s.RFIDUID,
		Distancia:    s.Distance,
		PlumaEntrada: s.BarrierEntranceOpen,
		PlumaSalida:  s.BarrierExitOpen,
		Cajon1:       s.Slot1Occupied,
		Cajon2:       s.Slot2Occupied,
		EntryTime1:   s.EntryTime1,
		ExitTime1:    s.ExitTime1,
		EntryTime2:   s.EntryTime2,
		ExitTime2:    s.ExitTime2,
		Disponibles:  s.Available,
		Uptime:       s.UptimeSeconds,
		Temp:         s.Temperature,
		Firmware:     s.Firmware,
		IP:           s.IP,
	})
}

func known(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" || trimmed == placeholder {
		return nil
	}
	return &trimmed
}

// ParameterSet maps device parameter names to integer values.
type ParameterSet map[string]int

// DecodeParameters parses a getParams body. Keys whose values are not
// integers are left out: the device simply does not expose them as tunables.
func DecodeParameters(body []byte) (ParameterSet, []string, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, nil, fmt.Errorf("decode parameters: %w", err)
	}
	if raw == nil {
		return nil, nil, fmt.Errorf("decode parameters: body is not an object")
	}
	set := make(ParameterSet, len(raw))
	var skipped []string
	for name, value := range raw {
		v, ok := integerValue(value)
		if !ok {
			skipped = append(skipped, name)
			continue
		}
		set[name] = v
	}
	sort.Strings(skipped)
	return set, skipped, nil
}

func integerValue(raw json.RawMessage) (int, bool) {
	var number json.Number
	if err := json.Unmarshal(raw, &number); err != nil {
		return 0, false
	}
	if v, err := number.Int64(); err == nil {
		if v > math.MaxInt32 || v < math.MinInt32 {
			return 0, false
		}
		return int(v), true
	}
	f, err := number.Float64()
	if err != nil || f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return 0, false
	}
	return int(f), true
}

// Names returns the parameter names in stable order.
func (p ParameterSet) Names() []string {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns an independent copy.
func (p ParameterSet) Clone() ParameterSet {
	if p == nil {
		return nil
	}
	out := make(ParameterSet, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Equal reports whether both sets hold the same names and values.
func (p ParameterSet) Equal(other ParameterSet) bool {
	if len(p) != len(other) {
		return false
	}
	for k, v := range p {
		if ov, ok := other[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// Ack is the device's acceptance of a setParams request.
type Ack struct {
	Status  string
	Message string
	// Params holds the parameter values echoed back by firmwares that do so.
	Params ParameterSet
}

// HasEcho reports whether the device echoed parameter values.
func (a Ack) HasEcho() bool {
	return len(a.Params) > 0
}

func decodeAck(body []byte, sent ParameterSet) Ack {
	var raw map[string]json.RawMessage
	if len(body) == 0 || json.Unmarshal(body, &raw) != nil {
		return Ack{}
	}
	var ack Ack
	echo := func(name string, value json.RawMessage) {
		v, ok := integerValue(value)
		if !ok {
			return
		}
		if ack.Params == nil {
			ack.Params = make(ParameterSet)
		}
		ack.Params[name] = v
	}
	for name, value := range raw {
		switch name {
		case "status":
			_ = json.Unmarshal(value, &ack.Status)
		case "message":
			_ = json.Unmarshal(value, &ack.Message)
		case "params":
			var nested map[string]json.RawMessage
			if json.Unmarshal(value, &nested) == nil {
				for k, v := range nested {
					echo(k, v)
				}
			}
		default:
			if _, ok := sent[name]; ok {
				echo(name, value)
			}
		}
	}
	return ack
}
