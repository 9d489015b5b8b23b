package statsd

import (
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		prefix, name, want string
	}{
		{"", " auth/operation ", "auth_operation"},
		{"mindguard", "guard..decision", "mindguard.guard.decision"},
		{"mindguard", "", ""},
		{"", ".api.request.", "api.request"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, joinName(tt.prefix, tt.name))
	}
}

func TestEncodeTags(t *testing.T) {
	t.Parallel()

	global := map[string]string{"env": "prod", " service ": " web "}
	local := map[string]string{"result": " success ", "": "ignored", "env": "stage"}

	assert.Equal(t, "|#env:stage,result:success,service:web", encodeTags(global, local))
	assert.Empty(t, encodeTags(nil, nil))
}

func TestClientDisabledDropsMetrics(t *testing.T) {
	t.Parallel()

	c, err := NewClient(Config{Enabled: false, Address: "127.0.0.1:8125"})
	require.NoError(t, err)
	assert.False(t, c.Enabled())

	c.Count("auth.operation", 1, nil)
	require.NoError(t, c.Close())

	var nilClient *Client
	nilClient.Count("x", 1, nil)
	assert.False(t, nilClient.Enabled())
}

func TestClientWritesDatagram(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()

	c, err := NewClient(Config{
		Enabled:    true,
		Address:    pc.LocalAddr().String(),
		Prefix:     "mindguard.",
		GlobalTags: map[string]string{"env": "test"},
	})
	require.NoError(t, err)
	defer c.Close()

	c.Timing("api.request", 1500*time.Microsecond, map[string]string{"status": "2xx"})

	require.NoError(t, pc.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 512)
	n, _, err := pc.ReadFrom(buf)
	require.NoError(t, err)

	line := string(buf[:n])
	assert.True(t, strings.HasPrefix(line, "mindguard.api.request:1.5|ms"), line)
	assert.True(t, strings.HasSuffix(line, "|#env:test,status:2xx"), line)
}

func TestRecorderNamed(t *testing.T) {
	t.Parallel()

	var r Recorder
	r.Count("a", 2, nil)
	r.Gauge("b", 1.5, nil)
	r.Count("a", 1, map[string]string{"k": "v"})

	got := r.Named("a")
	require.Len(t, got, 2)
	assert.InDelta(t, 2.0, got[0].Value, 0.0001)
	assert.Len(t, r.Samples(), 3)
}
