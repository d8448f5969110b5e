package remote

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/timzifer/parkgate/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := New(config.DeviceConfig{Host: srv.URL, Timeout: config.Duration{Duration: time.Second}}, zerolog.New(io.Discard))
	require.NoError(t, err)
	return client
}

func TestNewRequiresHost(t *testing.T) {
	_, err := New(config.DeviceConfig{}, zerolog.Nop())
	require.Error(t, err)
}

func TestGetStatusDecodesDeviceFields(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, StatusPath, r.URL.Path)
		require.Equal(t, http.MethodGet, r.Method)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"rfidUID":"A1B2C3D4","distancia":12.5,"plumaEntrada":true,"plumaSalida":false,"cajon1":true,"cajon2":false,"entryTime1":"10:15:02","exitTime1":"--","disponibles":1,"uptime":3600,"temp":41,"firmware":"v1.0.0","ip":"192.168.4.1"}`)
	})

	snap, err := client.GetStatus(context.Background())
	require.NoError(t, err)
	require.Equal(t, "A1B2C3D4", *snap.RFIDUID)
	require.InDelta(t, 12.5, *snap.Distance, 1e-9)
	require.True(t, *snap.BarrierEntranceOpen)
	require.False(t, *snap.BarrierExitOpen)
	require.True(t, *snap.Slot1Occupied)
	require.False(t, *snap.Slot2Occupied)
	require.Equal(t, "10:15:02", *snap.EntryTime1)
	require.Nil(t, snap.ExitTime1, "placeholder must decode as unknown")
	require.Nil(t, snap.EntryTime2)
	require.Equal(t, 1, *snap.Available)
	require.Equal(t, int64(3600), *snap.UptimeSeconds)
	require.Equal(t, "v1.0.0", *snap.Firmware)
}

func TestGetStatusKeepsAbsentFieldsUnknown(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"distancia":30,"cajon1":false}`)
	})

	snap, err := client.GetStatus(context.Background())
	require.NoError(t, err)
	require.NotNil(t, snap.Slot1Occupied)
	require.False(t, *snap.Slot1Occupied)
	require.Nil(t, snap.Slot2Occupied)
	require.Nil(t, snap.BarrierEntranceOpen)
	require.Nil(t, snap.RFIDUID)
}

func TestFailuresCollapseToTransportError(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"status": func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		},
		"malformed": func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `{"distancia":`)
		},
		"wrong type": func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `{"cajon1":"yes"}`)
		},
	}
	for name, handler := range cases {
		t.Run(name, func(t *testing.T) {
			client := newTestClient(t, handler)
			_, err := client.GetStatus(context.Background())
			require.Error(t, err)
			require.True(t, IsTransport(err))
		})
	}
}

func TestUnreachableDeviceIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client, err := New(config.DeviceConfig{Host: url, Timeout: config.Duration{Duration: 200 * time.Millisecond}}, zerolog.Nop())
	require.NoError(t, err)
	_, err = client.GetParams(context.Background())
	require.True(t, IsTransport(err))
	var te *TransportError
	require.ErrorAs(t, err, &te)
	require.Equal(t, "getParams", te.Op)
}

func TestGetParamsSkipsNonIntegerValues(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, ParamsPath, r.URL.Path)
		_, _ = io.WriteString(w, `{"ULTRASONIC_THRESHOLD":30,"ULTRASONIC_TIMEOUT_MS":5000.0,"MODE":"auto","RATIO":0.5}`)
	})

	params, err := client.GetParams(context.Background())
	require.NoError(t, err)
	require.Equal(t, ParameterSet{"ULTRASONIC_THRESHOLD": 30, "ULTRASONIC_TIMEOUT_MS": 5000}, params)
}

func TestGetParamsRejectsNonObject(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `null`)
	})
	_, err := client.GetParams(context.Background())
	require.True(t, IsTransport(err))
}

func TestSetParamsPostsJSONAndAcceptsAnySuccess(t *testing.T) {
	var received map[string]int
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, SetParamsPath, r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		_, _ = io.WriteString(w, `{"status":"success","message":"Parámetros actualizados"}`)
	})

	ack, err := client.SetParams(context.Background(), ParameterSet{"DISPLAY_MESSAGE_MS": 2500})
	require.NoError(t, err)
	require.Equal(t, map[string]int{"DISPLAY_MESSAGE_MS": 2500}, received)
	require.Equal(t, "success", ack.Status)
	require.False(t, ack.HasEcho())
}

func TestSetParamsCapturesEcho(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"status":"success","code":7,"ULTRASONIC_THRESHOLD":400}`)
	})

	ack, err := client.SetParams(context.Background(), ParameterSet{"ULTRASONIC_THRESHOLD": 900})
	require.NoError(t, err)
	require.Equal(t, ParameterSet{"ULTRASONIC_THRESHOLD": 400}, ack.Params)
}

func TestSetParamsAcceptsEmptyBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	_, err := client.SetParams(context.Background(), ParameterSet{"SALIDA_DELAY_MS": 100})
	require.NoError(t, err)
}

func TestSetParamsRejectedByDevice(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":"JSON inválido"}`)
	})
	_, err := client.SetParams(context.Background(), ParameterSet{"SALIDA_DELAY_MS": 100})
	var te *TransportError
	require.ErrorAs(t, err, &te)
	require.Equal(t, http.StatusBadRequest, te.Status)
}
