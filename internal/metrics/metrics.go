// Package metrics sends job and API counters to statsd.
package metrics

import (
	"time"

	"github.com/sirupsen/logrus"
	statsd "gopkg.in/alexcesaro/statsd.v2"
)

// Recorder wraps a statsd client. An empty address gives a muted recorder
// that accepts every call and sends nothing.
type Recorder struct {
	c *statsd.Client
}

// New connects to a statsd server at address. A failed connection is logged
// and yields a muted recorder: metrics never stop the service.
func New(address, prefix string, logger logrus.FieldLogger) *Recorder {
	log := logger.WithField("component", "metrics")
	opts := []statsd.Option{
		statsd.Address(address),
		statsd.Prefix(prefix),
		statsd.Mute(address == ""),
		statsd.ErrorHandler(func(err error) {
			log.WithError(err).Debug("statsd send failed")
		}),
	}

	c, err := statsd.New(opts...)
	if err != nil {
		// statsd.New still returns a usable muted client on error.
		log.WithError(err).Warn("statsd unavailable, metrics muted")
	}
	return &Recorder{c: c}
}

// Noop returns a muted recorder.
func Noop() *Recorder {
	c, _ := statsd.New(statsd.Mute(true))
	return &Recorder{c: c}
}

// JobRun records the duration and outcome of one job run.
func (r *Recorder) JobRun(job string, d time.Duration, err error) {
	r.c.Timing("job."+job+".duration", int(d/time.Millisecond))
	if err != nil {
		r.c.Increment("job." + job + ".failure")
		return
	}
	r.c.Increment("job." + job + ".success")
}

// Count adds n to bucket.
func (r *Recorder) Count(bucket string, n int) {
	r.c.Count(bucket, n)
}

// Gauge sets bucket to v.
func (r *Recorder) Gauge(bucket string, v any) {
	r.c.Gauge(bucket, v)
}

// Flush sends buffered metrics now.
func (r *Recorder) Flush() {
	r.c.Flush()
}

// Close flushes and releases the connection.
func (r *Recorder) Close() {
	r.c.Close()
}
