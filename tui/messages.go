package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/yllada/vpnrdp-manager/connection"
	"github.com/yllada/vpnrdp-manager/credential"
	"github.com/yllada/vpnrdp-manager/traffic"
)

type statusMsg struct {
	event connection.StatusEvent
}

type sampleMsg struct {
	sample traffic.Sample
}

// feedClosedMsg is sent once a subscription channel has been closed.
type feedClosedMsg struct{}

type actionResultMsg struct {
	verb string
	name string
	err  error
}

type tickMsg time.Time

type promptRequestMsg struct {
	req   credential.Request
	reply chan<- promptReply
}

// promptDismissMsg withdraws the request answered on reply; its
// requester stopped waiting.
type promptDismissMsg struct {
	reply chan<- promptReply
}

type promptReply struct {
	answer credential.Answer
	err    error
}

type clearNotificationMsg struct {
	version int
}

func waitForStatus(ch <-chan connection.StatusEvent) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return feedClosedMsg{}
		}
		return statusMsg{event: ev}
	}
}

func waitForSample(ch <-chan traffic.Sample) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		s, ok := <-ch
		if !ok {
			return feedClosedMsg{}
		}
		return sampleMsg{sample: s}
	}
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func clearNotification(after time.Duration, version int) tea.Cmd {
	return tea.Tick(after, func(time.Time) tea.Msg {
		return clearNotificationMsg{version: version}
	})
}
