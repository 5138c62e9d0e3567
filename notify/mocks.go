package notify

import (
	"context"
	"fmt"
	"sync"

	"bastion/core"
)

// MockSender is a scripted ChannelSender for tests. It fails the first
// FailFirst sends and succeeds afterwards, recording every call.
type MockSender struct {
	ChannelName core.Channel
	FailFirst   int

	mu    sync.Mutex
	calls int
}

// NewMockSender creates a mock for the channel that fails the first
// failFirst sends.
func NewMockSender(channel core.Channel, failFirst int) *MockSender {
	return &MockSender{ChannelName: channel, FailFirst: failFirst}
}

func (m *MockSender) Channel() core.Channel { return m.ChannelName }

func (m *MockSender) Send(_ context.Context, _ *core.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.calls <= m.FailFirst {
		return fmt.Errorf("%w: simulated %s failure %d", core.ErrDelivery, m.ChannelName, m.calls)
	}
	return nil
}

// Calls returns how many sends were attempted.
func (m *MockSender) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
