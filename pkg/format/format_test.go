package format

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBytes(t *testing.T) {
	assert.Equal(t, "512 B", Bytes(512))
	assert.Equal(t, "1.00 KB", Bytes(1024))
	assert.Equal(t, "2.50 MB", Bytes(2621440))
}

func TestDuration(t *testing.T) {
	assert.Equal(t, "500ms", Duration(500*time.Millisecond))
	assert.Equal(t, "42s", Duration(42*time.Second))
	assert.Equal(t, "2m5s", Duration(125*time.Second))
	assert.Equal(t, "1h1m5s", Duration(time.Hour+65*time.Second))
}

func TestPercentage(t *testing.T) {
	assert.Equal(t, "0%", Percentage(0))
	assert.Equal(t, "100%", Percentage(100))
	assert.Equal(t, "12.5%", Percentage(12.5))
}

func TestLatency(t *testing.T) {
	assert.Equal(t, "0us", Latency(0))
	assert.Equal(t, "250us", Latency(250))
	assert.Equal(t, "1.5ms", Latency(1500))
	assert.Equal(t, "2.1s", Latency(2100000))
}
