package params

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/timzifer/parkgate/remote"
)

// DefaultLabels names the parameters known from the firmware revisions seen
// in the field. Parameters outside this list are shown with their raw key.
var DefaultLabels = map[string]string{
	"TIEMPO_APERTURA_MS":    "Tiempo de apertura (ms)",
	"SALIDA_DELAY_MS":       "Retardo de salida (ms)",
	"ULTRASONIC_THRESHOLD":  "Umbral ultrasónico (cm)",
	"ULTRASONIC_TIMEOUT_MS": "Timeout ultrasónico (ms)",
	"LOWER_BARRIER_WAIT_MS": "Espera para bajar pluma (ms)",
	"DISPLAY_MESSAGE_MS":    "Duración de mensajes (ms)",
}

// Field is one editable parameter as the operator sees it.
type Field struct {
	Name    string `json:"name"`
	Label   string `json:"label"`
	Text    string `json:"text"`
	Remote  *int   `json:"remote,omitempty"`
	Focused bool   `json:"focused"`
	Dirty   bool   `json:"dirty"`
}

// Sync reconciles the edit buffer against the values confirmed by the device.
//
// The edit buffer only exists once the first parameter set arrived. It is
// replaced wholesale from the device values, and only while no field is
// focused. A Sync is not safe for concurrent use.
type Sync struct {
	guard  *Guard
	schema *Schema
	labels map[string]string

	remote  remote.ParameterSet
	buffer  map[string]string
	lastSeq uint64
}

// NewSync builds a reconciler. labels override DefaultLabels.
func NewSync(guard *Guard, schema *Schema, labels map[string]string) *Sync {
	if guard == nil {
		guard = NewGuard()
	}
	merged := make(map[string]string, len(DefaultLabels)+len(labels))
	for k, v := range DefaultLabels {
		merged[k] = v
	}
	for k, v := range labels {
		merged[k] = v
	}
	return &Sync{guard: guard, schema: schema, labels: merged}
}

// Guard returns the edit guard consulted before every reconciliation.
func (s *Sync) Guard() *Guard {
	return s.guard
}

// Reconcile applies a device parameter set without ordering information.
func (s *Sync) Reconcile(set remote.ParameterSet) bool {
	overwritten, _ := s.Apply(0, set)
	return overwritten
}

// Apply records set as the confirmed device values and, unless a field is
// focused, replaces the whole edit buffer with them. seq orders responses:
// a response older than the last applied one is discarded and reported as
// stale. seq 0 is always applied.
func (s *Sync) Apply(seq uint64, set remote.ParameterSet) (overwritten bool, stale bool) {
	if seq != 0 {
		if seq < s.lastSeq {
			return false, true
		}
		s.lastSeq = seq
	}
	s.remote = set.Clone()
	if s.guard.IsEditing() {
		return false, false
	}
	buffer := make(map[string]string, len(set))
	for name, value := range set {
		buffer[name] = strconv.Itoa(value)
	}
	s.buffer = buffer
	return true, false
}

// SetField stores operator text for a parameter. Unknown names are ignored.
func (s *Sync) SetField(name, text string) bool {
	if s.buffer == nil {
		return false
	}
	if _, ok := s.buffer[name]; !ok {
		return false
	}
	s.buffer[name] = text
	return true
}

// Ready reports whether the edit buffer exists.
func (s *Sync) Ready() bool {
	return s.buffer != nil
}

// Buffer returns a copy of the edit buffer.
func (s *Sync) Buffer() map[string]string {
	if s.buffer == nil {
		return nil
	}
	out := make(map[string]string, len(s.buffer))
	for k, v := range s.buffer {
		out[k] = v
	}
	return out
}

// Remote returns a copy of the last confirmed device values.
func (s *Sync) Remote() remote.ParameterSet {
	return s.remote.Clone()
}

// Fields lists the editable parameters in stable order.
func (s *Sync) Fields() []Field {
	names := make([]string, 0, len(s.buffer))
	for name := range s.buffer {
		names = append(names, name)
	}
	sort.Strings(names)
	fields := make([]Field, 0, len(names))
	for _, name := range names {
		field := Field{
			Name:    name,
			Label:   s.Label(name),
			Text:    s.buffer[name],
			Focused: s.guard.Has(name),
		}
		if v, ok := s.remote[name]; ok {
			value := v
			field.Remote = &value
			field.Dirty = strings.TrimSpace(field.Text) != strconv.Itoa(v)
		}
		fields = append(fields, field)
	}
	return fields
}

// Label returns the human label for a parameter name.
func (s *Sync) Label(name string) string {
	if label, ok := s.labels[name]; ok && label != "" {
		return label
	}
	return name
}

// Prepare converts the edit buffer into a parameter set. It never touches
// the network; invalid input yields a *ValidationError.
func (s *Sync) Prepare() (remote.ParameterSet, error) {
	if s.buffer == nil {
		return nil, &ValidationError{Reason: "parameters have not been loaded from the device yet"}
	}
	set := make(remote.ParameterSet, len(s.buffer))
	names := make([]string, 0, len(s.buffer))
	for name := range s.buffer {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		text := strings.TrimSpace(s.buffer[name])
		value, err := strconv.ParseInt(text, 10, 32)
		if errors.Is(err, strconv.ErrRange) {
			return nil, &ValidationError{Field: name, Value: s.buffer[name], Reason: "out of 32-bit range"}
		}
		if err != nil {
			return nil, &ValidationError{Field: name, Value: s.buffer[name], Reason: "not an integer"}
		}
		set[name] = int(value)
	}
	if err := s.schema.Validate(set); err != nil {
		return nil, err
	}
	return set, nil
}

// Confirm records an accepted save: the guard is cleared and, when the
// device echoed the stored values, they are reconciled right away. The
// return value reports whether the caller still has to fetch the values.
func (s *Sync) Confirm(seq uint64, ack remote.Ack) (needsFetch bool) {
	s.guard.Reset()
	if !ack.HasEcho() {
		return true
	}
	merged := s.remote.Clone()
	if merged == nil {
		merged = make(remote.ParameterSet, len(ack.Params))
	}
	for k, v := range ack.Params {
		merged[k] = v
	}
	s.Apply(seq, merged)
	return false
}

// Save validates the buffer, submits it and reconciles from the values the
// device acknowledged. On failure the buffer is left as typed.
func (s *Sync) Save(ctx context.Context, device remote.Device) (remote.Ack, error) {
	set, err := s.Prepare()
	if err != nil {
		return remote.Ack{}, err
	}
	ack, err := device.SetParams(ctx, set)
	if err != nil {
		return remote.Ack{}, fmt.Errorf("save parameters: %w", err)
	}
	if s.Confirm(0, ack) {
		confirmed, err := device.GetParams(ctx)
		if err != nil {
			// The save went through; the next poll picks the values up.
			return ack, nil
		}
		s.Apply(0, confirmed)
	}
	return ack, nil
}
