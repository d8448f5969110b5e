package devicesim

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/timzifer/parkgate/config"
	"github.com/timzifer/parkgate/remote"
)

func newClient(t *testing.T, host string) *remote.Client {
	t.Helper()
	client, err := remote.New(config.DeviceConfig{Host: host, Timeout: config.Duration{Duration: time.Second}}, zerolog.Nop())
	require.NoError(t, err)
	return client
}

func TestStatusSpeaksTheDeviceContract(t *testing.T) {
	device := New(Options{})
	device.SetSlots(true, false)
	device.SetDistance(12.5)
	srv := httptest.NewServer(device.Handler())
	defer srv.Close()

	snap, err := newClient(t, srv.URL).GetStatus(context.Background())
	require.NoError(t, err)
	require.Equal(t, 12.5, *snap.Distance)
	require.True(t, *snap.Slot1Occupied)
	require.False(t, *snap.Slot2Occupied)
	require.False(t, *snap.BarrierEntranceOpen)
	require.Equal(t, 1, *snap.Available)
	require.Nil(t, snap.RFIDUID)
	require.Nil(t, snap.EntryTime1)
	require.Equal(t, "v1.0.0", *snap.Firmware)
}

func TestOmittedFieldsAreAbsent(t *testing.T) {
	device := New(Options{})
	device.Omit("distancia", true)
	srv := httptest.NewServer(device.Handler())
	defer srv.Close()

	snap, err := newClient(t, srv.URL).GetStatus(context.Background())
	require.NoError(t, err)
	require.Nil(t, snap.Distance)
	require.NotNil(t, snap.Slot1Occupied)
}

func TestSetParamsClampsAndIgnoresUnknownKeys(t *testing.T) {
	device := New(Options{})
	srv := httptest.NewServer(device.Handler())
	defer srv.Close()
	client := newClient(t, srv.URL)

	ack, err := client.SetParams(context.Background(), remote.ParameterSet{"ULTRASONIC_THRESHOLD": 900, "BOGUS": 1})
	require.NoError(t, err)
	require.Equal(t, "success", ack.Status)
	require.False(t, ack.HasEcho())

	params, err := client.GetParams(context.Background())
	require.NoError(t, err)
	require.Equal(t, 400, params["ULTRASONIC_THRESHOLD"])
	require.NotContains(t, params, "BOGUS")
}

func TestEchoReturnsStoredValues(t *testing.T) {
	device := New(Options{Echo: true})
	srv := httptest.NewServer(device.Handler())
	defer srv.Close()

	ack, err := newClient(t, srv.URL).SetParams(context.Background(), remote.ParameterSet{"ULTRASONIC_THRESHOLD": 1})
	require.NoError(t, err)
	require.True(t, ack.HasEcho())
	require.Equal(t, 2, ack.Params["ULTRASONIC_THRESHOLD"])
}

func TestFailuresAnswerServiceUnavailable(t *testing.T) {
	device := New(Options{})
	srv := httptest.NewServer(device.Handler())
	defer srv.Close()
	client := newClient(t, srv.URL)

	device.FailNext(2)
	for i := 0; i < 2; i++ {
		_, err := client.GetStatus(context.Background())
		var terr *remote.TransportError
		require.ErrorAs(t, err, &terr)
		require.Equal(t, 503, terr.Status)
	}
	_, err := client.GetStatus(context.Background())
	require.NoError(t, err)

	device.SetOffline(true)
	_, err = client.GetParams(context.Background())
	require.Error(t, err)
}

func TestStepIsDeterministicForASeed(t *testing.T) {
	seed := int64(7)
	a := New(Options{Seed: &seed})
	b := New(Options{Seed: &seed})
	for i := 0; i < 20; i++ {
		a.Step()
		b.Step()
	}
	require.Equal(t, a.slots, b.slots)
	require.Equal(t, a.distance, b.distance)
	require.Equal(t, a.rfid, b.rfid)
}

func TestServeListensAndCloses(t *testing.T) {
	srv, err := Serve("127.0.0.1:0", New(Options{}), time.Millisecond, zerolog.Nop())
	require.NoError(t, err)

	snap, err := newClient(t, srv.Addr()).GetStatus(context.Background())
	require.NoError(t, err)
	require.NotNil(t, snap.Slot1Occupied)
	require.NoError(t, srv.Close())
}
