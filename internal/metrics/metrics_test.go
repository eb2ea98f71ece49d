package metrics

import (
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flight_radar/internal/logging"
)

func listen(t *testing.T) net.PacketConn {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = pc.Close() })
	return pc
}

func readAll(t *testing.T, pc net.PacketConn) string {
	t.Helper()
	var sb strings.Builder
	buf := make([]byte, 4096)
	for {
		_ = pc.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		n, _, err := pc.ReadFrom(buf)
		if err != nil {
			return sb.String()
		}
		sb.Write(buf[:n])
		sb.WriteByte('\n')
	}
}

func TestJobRunMetrics(t *testing.T) {
	pc := listen(t)
	r := New(pc.LocalAddr().String(), "flightradar", logging.Discard())
	defer r.Close()

	r.JobRun("data_upload", 1500*time.Millisecond, nil)
	r.JobRun("indicator", 20*time.Millisecond, errors.New("no flight data available"))
	r.Count("flights.inserted", 42)
	r.Gauge("archive.rows", uint64(1003))
	r.Flush()

	got := readAll(t, pc)
	assert.Contains(t, got, "flightradar.job.data_upload.duration:1500|ms")
	assert.Contains(t, got, "flightradar.job.data_upload.success:1|c")
	assert.Contains(t, got, "flightradar.job.indicator.failure:1|c")
	assert.Contains(t, got, "flightradar.flights.inserted:42|c")
	assert.Contains(t, got, "flightradar.archive.rows:1003|g")
}

func TestMutedRecorderAcceptsCalls(t *testing.T) {
	for _, r := range []*Recorder{New("", "flightradar", logging.Discard()), Noop()} {
		r.JobRun("archive", time.Second, nil)
		r.Count("x", 1)
		r.Gauge("y", 2)
		r.Flush()
		r.Close()
	}
}
