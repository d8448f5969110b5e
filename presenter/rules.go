package presenter

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/rs/zerolog"

	"github.com/timzifer/parkgate/config"
	"github.com/timzifer/parkgate/remote"
)

// Alert is a rule that matched the latest snapshot.
type Alert struct {
	ID      string `json:"id"`
	Level   string `json:"level"`
	Message string `json:"message"`
}

type rule struct {
	id      string
	level   string
	message string
	when    string
	program *vm.Program
}

// Rules evaluates operator-defined alert expressions against snapshots.
//
// Expressions see the snapshot as variables; absent fields are nil, so rules
// guard them explicitly, e.g. `distance != nil && distance < 5`.
type Rules struct {
	rules  []rule
	logger zerolog.Logger
}

// NewRules compiles the configured alert rules.
func NewRules(cfgs []config.AlertConfig, logger zerolog.Logger) (*Rules, error) {
	compiled := make([]rule, 0, len(cfgs))
	for _, cfg := range cfgs {
		id := strings.TrimSpace(cfg.ID)
		when := strings.TrimSpace(cfg.When)
		if id == "" {
			return nil, fmt.Errorf("alert id must not be empty")
		}
		if when == "" {
			return nil, fmt.Errorf("alert %s: when must not be empty", id)
		}
		program, err := expr.Compile(when, expr.Env(map[string]interface{}{}), expr.AllowUndefinedVariables(), expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("alert %s: compile: %w", id, err)
		}
		level := strings.ToLower(strings.TrimSpace(cfg.Level))
		if level == "" {
			level = "warning"
		}
		message := cfg.Message
		if message == "" {
			message = id
		}
		compiled = append(compiled, rule{id: id, level: level, message: message, when: when, program: program})
	}
	return &Rules{rules: compiled, logger: logger.With().Str("component", "alerts").Logger()}, nil
}

// Evaluate returns the alerts whose expression holds for snap.
func (r *Rules) Evaluate(snap *remote.StatusSnapshot) []Alert {
	if r == nil || len(r.rules) == 0 || snap == nil {
		return nil
	}
	env := Env(snap)
	var alerts []Alert
	for _, rule := range r.rules {
		out, err := expr.Run(rule.program, env)
		if err != nil {
			r.logger.Debug().Err(err).Str("alert", rule.id).Msg("alert evaluation failed")
			continue
		}
		if matched, ok := out.(bool); ok && matched {
			alerts = append(alerts, Alert{ID: rule.id, Level: rule.level, Message: rule.message})
		}
	}
	return alerts
}

// Env exposes a snapshot to alert expressions.
func Env(snap *remote.StatusSnapshot) map[string]interface{} {
	env := map[string]interface{}{
		"distance":     nil,
		"rfid":         nil,
		"entranceOpen": nil,
		"exitOpen":     nil,
		"slot1":        nil,
		"slot2":        nil,
		"available":    nil,
		"temperature":  nil,
		"uptime":       nil,
	}
	if snap == nil {
		return env
	}
	if snap.Distance != nil {
		env["distance"] = *snap.Distance
	}
	if snap.RFIDUID != nil {
		env["rfid"] = *snap.RFIDUID
	}
	if snap.BarrierEntranceOpen != nil {
		env["entranceOpen"] = *snap.BarrierEntranceOpen
	}
	if snap.BarrierExitOpen != nil {
		env["exitOpen"] = *snap.BarrierExitOpen
	}
	if snap.Slot1Occupied != nil {
		env["slot1"] = *snap.Slot1Occupied
	}
	if snap.Slot2Occupied != nil {
		env["slot2"] = *snap.Slot2Occupied
	}
	if count, ok := availableSlots(snap); ok {
		env["available"] = count
	}
	if snap.Temperature != nil {
		env["temperature"] = *snap.Temperature
	}
	if snap.UptimeSeconds != nil {
		env["uptime"] = *snap.UptimeSeconds
	}
	return env
}
