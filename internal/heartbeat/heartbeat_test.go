package heartbeat

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weilun-shrimp/wlgo_ocpp_charger_simulator/internal/fs"
	"github.com/weilun-shrimp/wlgo_ocpp_charger_simulator/internal/reqqueue"
	"github.com/weilun-shrimp/wlgo_ocpp_charger_simulator/internal/reqstore"
)

type fakeTransport struct {
	sent [][]byte
}

func (f *fakeTransport) SendText(data []byte) error {
	f.sent = append(f.sent, data)
	return nil
}
func (f *fakeTransport) Connected() bool { return true }

func newMainQueue(t *testing.T) (*reqqueue.Queue, *fakeTransport) {
	t.Helper()
	store := reqstore.New(fs.NewMemAdapter("state"))
	require.NoError(t, store.Restore())
	tr := &fakeTransport{}
	q := reqqueue.New("main", tr, store, false)
	q.OpenGate()
	return q, tr
}

func extractID(t *testing.T, data []byte) string {
	t.Helper()
	var raw []json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	var id string
	require.NoError(t, json.Unmarshal(raw[1], &id))
	return id
}

func TestHeartbeatSendsOncePerInterval(t *testing.T) {
	q, tr := newMainQueue(t)
	svc := New("Heartbeat", 60, q, func() uint64 { return 0 }, nil)

	now := time.Now()
	svc.Poll(now, 0)
	q.Poll(now)
	q.Poll(now)
	require.Len(t, tr.sent, 1)

	id := extractID(t, tr.sent[0])
	q.HandleReply(id, json.RawMessage(`{"currentTime":"2026-01-01T00:00:00Z"}`), nil)

	// Too soon for another heartbeat.
	svc.Poll(now.Add(10*time.Second), 10_000)
	q.Poll(now.Add(10 * time.Second))
	assert.Len(t, tr.sent, 1)

	// Interval elapsed: due again.
	svc.Poll(now.Add(61*time.Second), 61_000)
	q.Poll(now.Add(61 * time.Second))
	q.Poll(now.Add(61 * time.Second))
	assert.Len(t, tr.sent, 2)
}

func TestSetIntervalSIgnoresNonPositive(t *testing.T) {
	q, _ := newMainQueue(t)
	svc := New("Heartbeat", 60, q, func() uint64 { return 0 }, nil)
	svc.SetIntervalS(0)
	assert.Equal(t, 60, svc.intervalS)
	svc.SetIntervalS(-5)
	assert.Equal(t, 60, svc.intervalS)
	svc.SetIntervalS(300)
	assert.Equal(t, 300, svc.intervalS)
}

func TestOnReplyInvokedWithParsedCurrentTime(t *testing.T) {
	q, tr := newMainQueue(t)
	var gotTime string
	svc := New("Heartbeat", 60, q, func() uint64 { return 0 }, func(currentTime string) {
		gotTime = currentTime
	})
	svc.SetParser(func(payload json.RawMessage) (string, error) {
		var body struct {
			CurrentTime string `json:"currentTime"`
		}
		if err := json.Unmarshal(payload, &body); err != nil {
			return "", err
		}
		return body.CurrentTime, nil
	})

	now := time.Now()
	svc.Poll(now, 0)
	q.Poll(now)
	q.Poll(now)
	require.Len(t, tr.sent, 1)

	id := extractID(t, tr.sent[0])
	q.HandleReply(id, json.RawMessage(`{"currentTime":"2026-03-05T12:00:00Z"}`), nil)
	assert.Equal(t, "2026-03-05T12:00:00Z", gotTime)
}
