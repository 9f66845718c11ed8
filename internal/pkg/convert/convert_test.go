package convert

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToFloat64(t *testing.T) {
	assert.Equal(t, 1.5, ToFloat64("1.5"))
	assert.Equal(t, 2.0, ToFloat64(json.Number("2")))
	assert.Equal(t, 0.0, ToFloat64(struct{}{}))
	assert.Equal(t, int64(42), ToInt64("42"))
	assert.Equal(t, int64(3), ToInt64(3.9))
	assert.True(t, ToBool("true"))
	assert.True(t, ToBool(1.0))
	assert.False(t, ToBool("0"))
}

func TestTimestampRoundTrip(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Shanghai")
	require.NoError(t, err)
	ts, err := ParseTimestamp("2024-03-01 10:15:00", loc)
	require.NoError(t, err)
	assert.Equal(t, 10, ts.Hour())
	assert.Equal(t, "2024-03-01 10:15:00", FormatTimestamp(ts.UTC(), loc))

	_, err = ParseTimestamp("yesterday", loc)
	assert.Error(t, err)
}
