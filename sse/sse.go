package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Topics the core publishes on.
const (
	TopicAlerts               = "alerts"
	TopicPrices               = "prices"
	TopicBrowserNotifications = "browser_notifications"
)

type event struct {
	topic string
	data  string
}

// SSEManager fans published events out to connected SSE clients. It is the
// broadcast sink for price updates, trigger events and browser
// notifications.
type SSEManager struct {
	clients   map[chan event]struct{}
	clientMux sync.RWMutex
}

func NewSSEManager() *SSEManager {
	return &SSEManager{
		clients: make(map[chan event]struct{}),
	}
}

func (sse *SSEManager) AddClient(client chan event) {
	sse.clientMux.Lock()
	defer sse.clientMux.Unlock()
	sse.clients[client] = struct{}{}
}

func (sse *SSEManager) RemoveClient(client chan event) {
	sse.clientMux.Lock()
	defer sse.clientMux.Unlock()
	if _, ok := sse.clients[client]; ok {
		delete(sse.clients, client)
		close(client)
	}
}

// Publish marshals the payload and broadcasts it to every client under the
// given topic. Slow clients drop the message rather than block the caller;
// the tick-processing path must never stall here.
func (sse *SSEManager) Publish(topic string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("sse: error marshalling payload for topic %s: %v", topic, err)
		return
	}

	sse.clientMux.RLock()
	defer sse.clientMux.RUnlock()
	for client := range sse.clients {
		select {
		case client <- event{topic: topic, data: string(data)}:
		default:
			log.Println("sse: client channel is full, dropping message")
		}
	}
}

func (sse *SSEManager) ClientCount() int {
	sse.clientMux.RLock()
	defer sse.clientMux.RUnlock()
	return len(sse.clients)
}

func (sse *SSEManager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log.Println("New SSE client connected")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	client := make(chan event, 16)
	sse.AddClient(client)
	defer sse.RemoveClient(client)

	flusher, _ := w.(http.Flusher)
	for {
		select {
		case ev, ok := <-client:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.topic, ev.data)
			if flusher != nil {
				flusher.Flush()
			}
		case <-r.Context().Done():
			return
		}
	}
}
