// Package devicesim serves a simulated parking gate over the device HTTP API.
package devicesim

import (
	"encoding/json"
	"fmt"
	mathrand "math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/timzifer/parkgate/remote"
)

// Limit bounds a parameter. Values outside are clamped on setParams.
type Limit struct {
	Min int
	Max int
}

// DefaultParams are the values a freshly flashed gate reports.
var DefaultParams = remote.ParameterSet{
	"ULTRASONIC_THRESHOLD":  30,
	"ULTRASONIC_TIMEOUT_MS": 5000,
	"LOWER_BARRIER_WAIT_MS": 3000,
	"DISPLAY_MESSAGE_MS":    3000,
}

// DefaultLimits mirror the sensor range the firmware accepts.
var DefaultLimits = map[string]Limit{
	"ULTRASONIC_THRESHOLD":  {Min: 2, Max: 400},
	"ULTRASONIC_TIMEOUT_MS": {Min: 100, Max: 60000},
	"LOWER_BARRIER_WAIT_MS": {Min: 0, Max: 60000},
	"DISPLAY_MESSAGE_MS":    {Min: 500, Max: 60000},
}

// Options configure a simulated device.
type Options struct {
	Seed     *int64
	Params   remote.ParameterSet
	Limits   map[string]Limit
	Firmware string
	IP       string
	// Echo makes setParams answer with the stored values.
	Echo bool
}

// Device is an in-memory parking gate. It is safe for concurrent use.
type Device struct {
	mu       sync.Mutex
	rng      *mathrand.Rand
	params   remote.ParameterSet
	limits   map[string]Limit
	firmware string
	ip       string
	echo     bool
	started  time.Time

	distance  float64
	entrance  bool
	exit      bool
	slots     [2]bool
	rfid      string
	times     [4]string
	omit      map[string]bool
	failNext  int
	offline   bool
	statusHit int
	setHit    int
}

// New creates a device with a closed gate and two free slots.
func New(opts Options) *Device {
	var src mathrand.Source
	if opts.Seed != nil {
		src = mathrand.NewSource(*opts.Seed)
	} else {
		src = mathrand.NewSource(time.Now().UnixNano())
	}
	params := opts.Params
	if params == nil {
		params = DefaultParams
	}
	limits := opts.Limits
	if limits == nil {
		limits = DefaultLimits
	}
	firmware := opts.Firmware
	if firmware == "" {
		firmware = "v1.0.0"
	}
	ip := opts.IP
	if ip == "" {
		ip = "192.168.4.1"
	}
	return &Device{
		rng:      mathrand.New(src),
		params:   params.Clone(),
		limits:   limits,
		firmware: firmware,
		ip:       ip,
		echo:     opts.Echo,
		started:  time.Now(),
		distance: 200,
		times:    [4]string{"--", "--", "--", "--"},
		omit:     make(map[string]bool),
	}
}

// SetSlots sets the occupancy of both slots.
func (d *Device) SetSlots(slot1, slot2 bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.slots = [2]bool{slot1, slot2}
}

// SetBarriers sets the barrier positions.
func (d *Device) SetBarriers(entrance, exit bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entrance, d.exit = entrance, exit
}

// SetDistance sets the ultrasonic reading in centimetres.
func (d *Device) SetDistance(cm float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.distance = cm
}

// Omit drops a status field from subsequent responses, as firmware builds
// without the corresponding sensor do.
func (d *Device) Omit(field string, omit bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.omit[field] = omit
}

// SetOffline makes every endpoint answer 503.
func (d *Device) SetOffline(offline bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.offline = offline
}

// FailNext makes the next n requests answer 503.
func (d *Device) FailNext(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failNext = n
}

// Params returns the stored parameters.
func (d *Device) Params() remote.ParameterSet {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.params.Clone()
}

// SetParam changes a stored parameter as if it was edited on the device.
func (d *Device) SetParam(name string, value int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.params[name] = value
}

// Hits reports how many getStatus and setParams requests were served.
func (d *Device) Hits() (status, set int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.statusHit, d.setHit
}

// Step advances the simulated traffic by one sensor cycle.
func (d *Device) Step() {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := time.Now().Format("15:04:05")
	for i := range d.slots {
		if d.rng.Float64() < 0.1 {
			d.slots[i] = !d.slots[i]
			if d.slots[i] {
				d.times[i*2] = now
			} else {
				d.times[i*2+1] = now
			}
		}
	}
	d.entrance = d.rng.Float64() < 0.15
	d.exit = d.rng.Float64() < 0.1
	if d.entrance {
		d.rfid = randomUID(d.rng)
		d.distance = 5 + d.rng.Float64()*25
	} else {
		d.distance = 30 + d.rng.Float64()*370
	}
}

func randomUID(rng *mathrand.Rand) string {
	const alphabet = "0123456789ABCDEF"
	var b strings.Builder
	for i := 0; i < 8; i++ {
		b.WriteByte(alphabet[rng.Intn(len(alphabet))])
	}
	return b.String()
}

// Handler serves the device API.
func (d *Device) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(remote.StatusPath, d.handleStatus)
	mux.HandleFunc(remote.ParamsPath, d.handleGetParams)
	mux.HandleFunc(remote.SetParamsPath, d.handleSetParams)
	return mux
}

func (d *Device) unavailable(w http.ResponseWriter) bool {
	if d.offline {
		http.Error(w, "device offline", http.StatusServiceUnavailable)
		return true
	}
	if d.failNext > 0 {
		d.failNext--
		http.Error(w, "device busy", http.StatusServiceUnavailable)
		return true
	}
	return false
}

func (d *Device) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	d.mu.Lock()
	d.statusHit++
	if d.unavailable(w) {
		d.mu.Unlock()
		return
	}
	free := 0
	for _, occupied := range d.slots {
		if !occupied {
			free++
		}
	}
	rfid := d.rfid
	if rfid == "" {
		rfid = "--"
	}
	doc := map[string]interface{}{
		"rfidUID":      rfid,
		"distancia":    d.distance,
		"plumaEntrada": d.entrance,
		"plumaSalida":  d.exit,
		"cajon1":       d.slots[0],
		"cajon2":       d.slots[1],
		"disponibles":  free,
		"entryTime1":   d.times[0],
		"exitTime1":    d.times[1],
		"entryTime2":   d.times[2],
		"exitTime2":    d.times[3],
		"uptime":       int64(time.Since(d.started) / time.Second),
		"temp":         38 + d.rng.Intn(8),
		"firmware":     d.firmware,
		"ip":           d.ip,
	}
	for field, omit := range d.omit {
		if omit {
			delete(doc, field)
		}
	}
	d.mu.Unlock()
	writeJSON(w, http.StatusOK, doc)
}

func (d *Device) handleGetParams(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	d.mu.Lock()
	if d.unavailable(w) {
		d.mu.Unlock()
		return
	}
	params := d.params.Clone()
	d.mu.Unlock()
	writeJSON(w, http.StatusOK, params)
}

func (d *Device) handleSetParams(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var body map[string]json.Number
	decoder := json.NewDecoder(r.Body)
	decoder.UseNumber()
	if err := decoder.Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "JSON inválido"})
		return
	}

	d.mu.Lock()
	d.setHit++
	if d.unavailable(w) {
		d.mu.Unlock()
		return
	}
	for name, raw := range body {
		// Unknown keys are ignored like the firmware does.
		if _, ok := d.params[name]; !ok {
			continue
		}
		value, err := raw.Int64()
		if err != nil {
			continue
		}
		d.params[name] = d.clamp(name, int(value))
	}
	resp := map[string]interface{}{
		"status":  "success",
		"message": "Parámetros actualizados",
	}
	if d.echo {
		resp["params"] = d.params.Clone()
	}
	d.mu.Unlock()
	writeJSON(w, http.StatusOK, resp)
}

func (d *Device) clamp(name string, value int) int {
	limit, ok := d.limits[name]
	if !ok {
		return value
	}
	if value < limit.Min {
		return limit.Min
	}
	if value > limit.Max {
		return limit.Max
	}
	return value
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		fmt.Fprintf(w, `{"error":%q}`, err.Error())
	}
}
