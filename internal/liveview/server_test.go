package liveview

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/timzifer/parkgate/params"
	"github.com/timzifer/parkgate/presenter"
	"github.com/timzifer/parkgate/session"
)

type staticSource struct {
	view      session.View
	refreshes int
}

func (s *staticSource) Current() session.View { return s.view }
func (s *staticSource) Refresh()              { s.refreshes++ }

func newSource() *staticSource {
	display := presenter.Blank()
	display.Connectivity = presenter.ConnectivityConnected
	display.Slot1 = "Ocupado"
	display.Available = "1 / 2"
	return &staticSource{view: session.View{
		Device:      "http://192.168.4.1",
		Display:     display,
		ParamsReady: true,
		Fields:      []params.Field{{Name: "ULTRASONIC_THRESHOLD", Label: "Umbral ultrasónico (cm)", Text: "30"}},
	}}
}

func TestStateEndpointReturnsView(t *testing.T) {
	source := newSource()
	srv := httptest.NewServer(NewHandler(source, nil, zerolog.Nop()))
	defer srv.Close()

	res, err := http.Get(srv.URL + "/api/state")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var got map[string]interface{}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&got))
	display := got["display"].(map[string]interface{})
	require.Equal(t, "connected", display["connectivity"])
	require.Equal(t, "Ocupado", display["slot1"])
	require.Equal(t, "1 / 2", display["available"])
	require.Len(t, got["fields"], 1)
}

func TestStateRejectsPost(t *testing.T) {
	srv := httptest.NewServer(NewHandler(newSource(), nil, zerolog.Nop()))
	defer srv.Close()
	res, err := http.Post(srv.URL+"/api/state", "application/json", nil)
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, res.StatusCode)
}

func TestRefreshEndpoint(t *testing.T) {
	source := newSource()
	srv := httptest.NewServer(NewHandler(source, nil, zerolog.Nop()))
	defer srv.Close()
	res, err := http.Post(srv.URL+"/api/refresh", "application/json", nil)
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusAccepted, res.StatusCode)
	require.Equal(t, 1, source.refreshes)
}

func TestIndexRendersView(t *testing.T) {
	srv := httptest.NewServer(NewHandler(newSource(), nil, zerolog.Nop()))
	defer srv.Close()
	res, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "✓ Conectado")
	require.Contains(t, string(body), "Umbral ultrasónico (cm)")

	missing, err := http.Get(srv.URL + "/nope")
	require.NoError(t, err)
	missing.Body.Close()
	require.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "parkgate_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	srv := httptest.NewServer(NewHandler(newSource(), reg, zerolog.Nop()))
	defer srv.Close()
	res, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "parkgate_test_total 1")
}

func TestStartAndClose(t *testing.T) {
	server, err := Start("127.0.0.1:0", newSource(), nil, zerolog.Nop())
	require.NoError(t, err)
	require.NotEmpty(t, server.Addr())

	res, err := http.Get("http://" + server.Addr() + "/api/state")
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	server.Close()
}
