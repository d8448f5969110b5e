package session

import (
	"time"

	"github.com/timzifer/parkgate/params"
	"github.com/timzifer/parkgate/presenter"
	"github.com/timzifer/parkgate/scheduler"
)

// NoticeKind classifies operator notices.
type NoticeKind string

const (
	NoticeSuccess NoticeKind = "success"
	NoticeError   NoticeKind = "error"
)

// Notice is a time-limited message for the operator.
type Notice struct {
	Text    string     `json:"text"`
	Kind    NoticeKind `json:"kind"`
	Expires time.Time  `json:"expires"`
}

// View is an immutable copy of everything the operator sees. Views are
// rebuilt after every state change and never mutated afterwards.
type View struct {
	Device      string            `json:"device"`
	Display     presenter.Display `json:"display"`
	Fields      []params.Field    `json:"fields"`
	ParamsReady bool              `json:"params_ready"`
	ParamsError string            `json:"params_error,omitempty"`
	Editing     bool              `json:"editing"`
	Saving      bool              `json:"saving"`
	// Saves counts accepted saves. Each one clears the edit guard.
	Saves     uint64           `json:"saves"`
	Notice    *Notice          `json:"notice,omitempty"`
	Scheduler scheduler.Status `json:"scheduler"`
	Version   uint64           `json:"version"`
}

// Field returns the field called name.
func (v View) Field(name string) (params.Field, bool) {
	for _, f := range v.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return params.Field{}, false
}
