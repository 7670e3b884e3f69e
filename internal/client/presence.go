package client

import (
	"context"
	"sync"
	"time"

	"chat-core/internal/models"
)

// OnlinePoller issues online_connections queries on a fixed interval and
// retains the latest snapshot for the UI. Presence is pull-based: the
// server answers queries rather than pushing changes.
type OnlinePoller struct {
	transport Sender
	interval  time.Duration

	mu     sync.Mutex
	online []string
	total  int
}

func NewOnlinePoller(transport Sender, interval time.Duration) *OnlinePoller {
	return &OnlinePoller{transport: transport, interval: interval}
}

// Attach registers the response listener on the transport.
func (p *OnlinePoller) Attach(t *Transport) {
	t.OnFrame(models.FrameOnlineConnections, p.handleResponse)
}

// Run polls until the context is cancelled. Blocks. The first query goes
// out immediately so the UI is not blank for a whole interval.
func (p *OnlinePoller) Run(ctx context.Context) {
	p.poll()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll()
		}
	}
}

func (p *OnlinePoller) poll() {
	frame, err := models.NewFrame(models.FrameOnlineConnections, nil)
	if err != nil {
		return
	}
	// Best effort: a missed poll is corrected by the next one.
	p.transport.Send(frame, nil)
}

func (p *OnlinePoller) handleResponse(frame models.Frame) {
	var payload models.OnlineConnectionsPayload
	if err := frame.DecodeData(&payload); err != nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online = payload.OnlineConnections
	p.total = payload.TotalConnections
}

// Snapshot returns the last answer: who is online and how many
// connections exist in total.
func (p *OnlinePoller) Snapshot() ([]string, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	online := make([]string, len(p.online))
	copy(online, p.online)
	return online, p.total
}
