package params

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/timzifer/parkgate/remote"
)

const thresholdSchema = `
ULTRASONIC_THRESHOLD?: int & >=2 & <=400
DISPLAY_MESSAGE_MS?:   int & >=500
`

func TestEmptySchemaAcceptsEverything(t *testing.T) {
	schema, err := NewSchema("  ")
	require.NoError(t, err)
	require.Nil(t, schema)
	require.NoError(t, schema.Validate(remote.ParameterSet{"X": -1}))
}

func TestSchemaCompileError(t *testing.T) {
	_, err := NewSchema("ULTRASONIC_THRESHOLD: int &")
	require.Error(t, err)
}

func TestSchemaValidatesRanges(t *testing.T) {
	schema, err := NewSchema(thresholdSchema)
	require.NoError(t, err)

	require.NoError(t, schema.Validate(remote.ParameterSet{"ULTRASONIC_THRESHOLD": 30, "OTHER": 1}))

	err = schema.Validate(remote.ParameterSet{"ULTRASONIC_THRESHOLD": 401})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "ULTRASONIC_THRESHOLD", verr.Field)
	require.Equal(t, "401", verr.Value)
	require.NotEmpty(t, verr.Reason)
}

func TestSaveBlockedBySchema(t *testing.T) {
	schema, err := NewSchema(thresholdSchema)
	require.NoError(t, err)
	sync := NewSync(nil, schema, nil)
	sync.Reconcile(remote.ParameterSet{"DISPLAY_MESSAGE_MS": 3000})
	sync.SetField("DISPLAY_MESSAGE_MS", "100")

	device := &fakeDevice{}
	_, err = sync.Save(context.Background(), device)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "DISPLAY_MESSAGE_MS", verr.Field)
	require.Empty(t, device.sets)
}
