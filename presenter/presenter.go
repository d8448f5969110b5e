package presenter

import (
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/timzifer/parkgate/remote"
)

// SlotCount is the number of parking slots the gate manages.
const SlotCount = 2

// Placeholder is rendered for values the device did not report.
const Placeholder = "--"

// Labels shown for boolean device state.
const (
	LabelOpen     = "Abierta"
	LabelClosed   = "Cerrada"
	LabelOccupied = "Ocupado"
	LabelFree     = "Libre"
)

// Connectivity is the health of the link to the device, derived from the
// most recent status poll only.
type Connectivity string

const (
	ConnectivityUnknown      Connectivity = "unknown"
	ConnectivityConnected    Connectivity = "connected"
	ConnectivityDisconnected Connectivity = "disconnected"
)

// Label returns the badge text for the connectivity state.
func (c Connectivity) Label() string {
	switch c {
	case ConnectivityConnected:
		return "✓ Conectado"
	case ConnectivityDisconnected:
		return "✗ Desconectado"
	default:
		return "… Conectando"
	}
}

// Display is the rendered device state.
type Display struct {
	Connectivity    Connectivity `json:"connectivity"`
	RFID            string       `json:"rfid"`
	Distance        string       `json:"distance"`
	EntranceBarrier string       `json:"entrance_barrier"`
	ExitBarrier     string       `json:"exit_barrier"`
	Slot1           string       `json:"slot1"`
	Slot2           string       `json:"slot2"`
	Available       string       `json:"available"`
	EntryTime1      string       `json:"entry_time1"`
	ExitTime1       string       `json:"exit_time1"`
	EntryTime2      string       `json:"entry_time2"`
	ExitTime2       string       `json:"exit_time2"`
	Temperature     string       `json:"temperature"`
	Uptime          string       `json:"uptime"`
	Firmware        string       `json:"firmware"`
	IP              string       `json:"ip"`
	Alerts          []Alert      `json:"alerts,omitempty"`
	// Missing lists the device fields absent from the last snapshot.
	Missing   []string  `json:"missing,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
	LastError string    `json:"last_error,omitempty"`
}

// Blank returns the display shown before the first poll completes.
func Blank() Display {
	return Display{
		Connectivity:    ConnectivityUnknown,
		RFID:            Placeholder,
		Distance:        Placeholder,
		EntranceBarrier: Placeholder,
		ExitBarrier:     Placeholder,
		Slot1:           Placeholder,
		Slot2:           Placeholder,
		Available:       Placeholder + " / 2",
		EntryTime1:      Placeholder,
		ExitTime1:       Placeholder,
		EntryTime2:      Placeholder,
		ExitTime2:       Placeholder,
		Temperature:     Placeholder,
		Uptime:          Placeholder,
		Firmware:        Placeholder,
		IP:              Placeholder,
	}
}

// Presenter maps status poll outcomes onto the display.
type Presenter struct {
	precision int32
	rules     *Rules
	logger    zerolog.Logger

	current Display
	lastSeq uint64
}

// New creates a presenter rendering distances with precision decimals.
func New(precision int32, rules *Rules, logger zerolog.Logger) *Presenter {
	return &Presenter{
		precision: precision,
		rules:     rules,
		logger:    logger.With().Str("component", "presenter").Logger(),
		current:   Blank(),
	}
}

// Current returns the display as last applied.
func (p *Presenter) Current() Display {
	return p.current
}

// Apply renders a poll outcome unless a newer one was applied already.
// seq 0 is always applied.
func (p *Presenter) Apply(seq uint64, snap *remote.StatusSnapshot, err error, now time.Time) (Display, bool) {
	if seq != 0 {
		if seq < p.lastSeq {
			p.logger.Debug().Uint64("seq", seq).Uint64("applied", p.lastSeq).Msg("discarding stale status response")
			return p.current, false
		}
		p.lastSeq = seq
	}
	p.current = p.Render(p.current, snap, err, now)
	return p.current, true
}

// Render maps a poll outcome onto a display. On failure the sensor values
// of prev are kept and only the connectivity flips to disconnected.
func (p *Presenter) Render(prev Display, snap *remote.StatusSnapshot, err error, now time.Time) Display {
	if err != nil || snap == nil {
		next := prev
		next.Connectivity = ConnectivityDisconnected
		if err != nil {
			next.LastError = err.Error()
		}
		return next
	}

	d := Display{
		Connectivity:    ConnectivityConnected,
		RFID:            text(snap.RFIDUID),
		Distance:        p.distance(snap.Distance),
		EntranceBarrier: pair(snap.BarrierEntranceOpen, LabelOpen, LabelClosed),
		ExitBarrier:     pair(snap.BarrierExitOpen, LabelOpen, LabelClosed),
		Slot1:           pair(snap.Slot1Occupied, LabelOccupied, LabelFree),
		Slot2:           pair(snap.Slot2Occupied, LabelOccupied, LabelFree),
		Available:       available(snap),
		EntryTime1:      text(snap.EntryTime1),
		ExitTime1:       text(snap.ExitTime1),
		EntryTime2:      text(snap.EntryTime2),
		ExitTime2:       text(snap.ExitTime2),
		Temperature:     Placeholder,
		Uptime:          Placeholder,
		Firmware:        text(snap.Firmware),
		IP:              text(snap.IP),
		Missing:         missing(snap),
		UpdatedAt:       now,
	}
	if snap.Temperature != nil {
		d.Temperature = decimal.NewFromFloat(*snap.Temperature).StringFixed(1) + " °C"
	}
	if snap.UptimeSeconds != nil {
		d.Uptime = (time.Duration(*snap.UptimeSeconds) * time.Second).String()
	}
	d.Alerts = p.rules.Evaluate(snap)
	return d
}

func (p *Presenter) distance(v *float64) string {
	if v == nil {
		return Placeholder
	}
	return decimal.NewFromFloat(*v).StringFixed(p.precision) + " cm"
}

// AvailableSlots returns the number of free slots when both slots are known.
func AvailableSlots(snap *remote.StatusSnapshot) (int, bool) {
	return availableSlots(snap)
}

func availableSlots(snap *remote.StatusSnapshot) (int, bool) {
	if snap == nil || snap.Slot1Occupied == nil || snap.Slot2Occupied == nil {
		return 0, false
	}
	occupied := 0
	if *snap.Slot1Occupied {
		occupied++
	}
	if *snap.Slot2Occupied {
		occupied++
	}
	return SlotCount - occupied, true
}

func available(snap *remote.StatusSnapshot) string {
	count, ok := availableSlots(snap)
	if !ok {
		return Placeholder + " / 2"
	}
	return strconv.Itoa(count) + " / 2"
}

func pair(v *bool, yes, no string) string {
	if v == nil {
		return Placeholder
	}
	if *v {
		return yes
	}
	return no
}

func text(v *string) string {
	if v == nil || *v == "" {
		return Placeholder
	}
	return *v
}

func missing(snap *remote.StatusSnapshot) []string {
	var out []string
	check := func(name string, present bool) {
		if !present {
			out = append(out, name)
		}
	}
	check("distancia", snap.Distance != nil)
	check("plumaEntrada", snap.BarrierEntranceOpen != nil)
	check("plumaSalida", snap.BarrierExitOpen != nil)
	check("cajon1", snap.Slot1Occupied != nil)
	check("cajon2", snap.Slot2Occupied != nil)
	return out
}
