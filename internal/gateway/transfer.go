package gateway

import (
	"encoding/hex"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/szibis/ingest-gateway/internal/stats"
)

// sampleLimit bounds the diagnostic byte sample captured per transfer.
const sampleLimit = 1024

// transfer tracks one in-flight request or stream: relayed byte counts and
// a bounded sample of the first payload bytes. It is started before
// authentication so rejected traffic is still visible to operators.
type transfer struct {
	id       string
	protocol string
	started  time.Time

	bytesIn  atomic.Int64
	bytesOut atomic.Int64

	mu     sync.Mutex
	sample []byte

	done sync.Once
}

func newTransfer(protocol string) *transfer {
	return &transfer{
		id:       uuid.NewString(),
		protocol: protocol,
		started:  time.Now(),
	}
}

// observeIn accounts inbound payload bytes and extends the sample up to
// its limit.
func (t *transfer) observeIn(b []byte) {
	t.bytesIn.Add(int64(len(b)))

	t.mu.Lock()
	if room := sampleLimit - len(t.sample); room > 0 {
		if len(b) > room {
			b = b[:room]
		}
		t.sample = append(t.sample, b...)
	}
	t.mu.Unlock()
}

// observeOut accounts bytes relayed back to the agent.
func (t *transfer) observeOut(n int64) {
	t.bytesOut.Add(n)
}

// sampleLen returns the captured sample size.
func (t *transfer) sampleLen() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sample)
}

// samplePreviewLimit bounds how much of the sample leaks into log fields.
const samplePreviewLimit = 16

// samplePreview returns a short hex prefix of the captured first bytes for
// log correlation.
func (t *transfer) samplePreview() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	b := t.sample
	if len(b) > samplePreviewLimit {
		b = b[:samplePreviewLimit]
	}
	return hex.EncodeToString(b)
}

// finalize records the transfer's volume exactly once. An empty tenant is
// recorded under the unknown bucket.
func (t *transfer) finalize(c *stats.Collector, tenant, outcome string) {
	t.done.Do(func() {
		c.Record(stats.TransferSample{
			Protocol: t.protocol,
			TenantID: tenant,
			Outcome:  outcome,
			BytesIn:  t.bytesIn.Load(),
			BytesOut: t.bytesOut.Load(),
		})
	})
}

// duration returns the elapsed time since the transfer started.
func (t *transfer) duration() time.Duration {
	return time.Since(t.started)
}

// reader wraps an inbound body so reads feed byte accounting and the
// diagnostic sample.
func (t *transfer) reader(r io.Reader) io.Reader {
	return &transferReader{t: t, r: r}
}

type transferReader struct {
	t *transfer
	r io.Reader
}

func (tr *transferReader) Read(p []byte) (int, error) {
	n, err := tr.r.Read(p)
	if n > 0 {
		tr.t.observeIn(p[:n])
	}
	return n, err
}

// writer wraps an outbound sink so writes feed the response byte count.
func (t *transfer) writer(w io.Writer) io.Writer {
	return &transferWriter{t: t, w: w}
}

type transferWriter struct {
	t *transfer
	w io.Writer
}

func (tw *transferWriter) Write(p []byte) (int, error) {
	n, err := tw.w.Write(p)
	if n > 0 {
		tw.t.observeOut(int64(n))
	}
	return n, err
}
