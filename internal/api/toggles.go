package api

import (
	"net/http"
	"time"

	"github.com/bryanchriswhite/LoopCam/internal/logger"
	"github.com/bryanchriswhite/LoopCam/internal/unit"
)

// ToggleEvent reports the value of one togglable action
type ToggleEvent struct {
	Unit  string `json:"unit"`
	Index int    `json:"index"`
	Label string `json:"label"`
	Value bool   `json:"value"`
}

// feedBuffer is how many events may queue for a slow client before newer
// ones are dropped
const feedBuffer = 64

const writeWait = 5 * time.Second

// handleToggleFeed sends the value of every toggle on connect and then each
// change as it happens
func (s *Server) handleToggleFeed(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("api")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("WebSocket upgrade error")
		return
	}
	defer conn.Close()

	events := make(chan ToggleEvent, feedBuffer)
	initial, unsubscribe := subscribeToggles(s.units.Units, events)
	defer unsubscribe()

	// The client only talks to close the connection
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for _, ev := range initial {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(ev); err != nil {
			log.Debug().Err(err).Msg("WebSocket write error")
			return
		}
	}

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case ev := <-events:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				log.Debug().Err(err).Msg("WebSocket write error")
				return
			}
		}
	}
}


// subscribeToggles forwards every toggle change of units to events and
// returns the current values. Events are dropped when events is full.
func subscribeToggles(units []unit.Unit, events chan<- ToggleEvent) ([]ToggleEvent, func()) {
	log := logger.WithComponent("api")

	var (
		initial      []ToggleEvent
		unsubscribes []func()
	)
	for _, u := range units {
		for i, a := range u.Actions() {
			if !a.Togglable() {
				continue
			}
			base := ToggleEvent{Unit: u.ID(), Index: i, Label: a.Label}
			unsubscribes = append(unsubscribes, a.Toggle.Subscribe(func(v bool) {
				e := base
				e.Value = v
				select {
				case events <- e:
				default:
					log.Debug().Str("unit", e.Unit).Msg("Toggle feed client too slow, event dropped")
				}
			}))

			current := base
			current.Value = a.Toggle.Get()
			initial = append(initial, current)
		}
	}
	return initial, func() {
		for _, unsubscribe := range unsubscribes {
			unsubscribe()
		}
	}
}
