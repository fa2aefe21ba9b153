package watch

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/typepool/internal/events"
)

type eventMsg events.Event

type healthMsg struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

type tickMsg time.Time

type errMsg error

type sourceClosedMsg struct{}
type sseDisconnectedMsg struct{}
type reconnectMsg struct{}

// subscribeToEvents connects to the SSE /events endpoint, resuming after lastID, and feeds
// events into ch. Returns sseDisconnectedMsg when the connection drops.
func subscribeToEvents(ctx context.Context, apiURL string, lastID int64, ch chan<- events.Event) tea.Cmd {
	return func() tea.Msg {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL+"/events", nil)
		if err != nil {
			return errMsg(err)
		}
		if lastID > 0 {
			req.Header.Set("Last-Event-ID", strconv.FormatInt(lastID, 10))
		}

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return sseDisconnectedMsg{}
		}
		defer resp.Body.Close()

		readSSE(ctx, bufio.NewScanner(resp.Body), ch)
		return sseDisconnectedMsg{}
	}
}

// readSSE parses server-sent event frames until the scanner stops or ctx ends.
func readSSE(ctx context.Context, scanner *bufio.Scanner, ch chan<- events.Event) {
	var current events.Event
	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			if current.Data != nil {
				if current.At.IsZero() {
					current.At = time.Now()
				}
				select {
				case ch <- current:
				case <-ctx.Done():
					return
				}
			}
			current = events.Event{}
			continue
		}

		switch {
		case strings.HasPrefix(line, "id: "):
			if id, err := strconv.ParseInt(line[4:], 10, 64); err == nil {
				current.ID = id
			}
		case strings.HasPrefix(line, "event: "):
			current.Type = line[7:]
		case strings.HasPrefix(line, "data: "):
			current.Data = []byte(line[6:])
		}
	}
}

// receiveNextEvent waits for the next event from the channel.
func receiveNextEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return sourceClosedMsg{}
		}
		return eventMsg(ev)
	}
}

// fetchHealth queries the /healthz endpoint.
func fetchHealth(apiURL string) tea.Msg {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(apiURL + "/healthz")
	if err != nil {
		return errMsg(err)
	}
	defer resp.Body.Close()

	var h healthMsg
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return errMsg(err)
	}
	return h
}
