package controller

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/distcodep7/suzukikasami/logging"
	"github.com/distcodep7/suzukikasami/trace"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const defaultWriteWait = 10 * time.Second

// frame is what subscribers receive: one "state" frame right after
// connecting, then one "event" frame per trace event.
type frame struct {
	Kind  string       `json:"kind"`
	State any          `json:"state,omitempty"`
	Event *trace.Event `json:"event,omitempty"`
}

// Hub streams trace events to websocket subscribers. It is a trace.Sink; all
// socket writes happen on the hub's own goroutine.
type Hub struct {
	upgrader  websocket.Upgrader
	clients   map[*websocket.Conn]bool
	register  chan *websocket.Conn
	remove    chan *websocket.Conn
	broadcast chan []byte
	done      chan struct{}
	log       logrus.FieldLogger
	snapshot  func() any
	// writeWait bounds every socket write so one stalled subscriber cannot
	// hold up the others.
	writeWait time.Duration
}

func NewHub(logger logrus.FieldLogger) *Hub {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients:   make(map[*websocket.Conn]bool),
		register:  make(chan *websocket.Conn),
		remove:    make(chan *websocket.Conn),
		broadcast: make(chan []byte, 256),
		done:      make(chan struct{}),
		log:       logger,
		writeWait: defaultWriteWait,
	}
}

// Start runs the hub loop. snapshot, if non-nil, provides the state frame
// sent to each new subscriber.
func (h *Hub) Start(snapshot func() any) {
	h.snapshot = snapshot
	go h.run()
}

func (h *Hub) Close() {
	close(h.done)
}

// Record queues ev for broadcast. It never blocks: when subscribers fall
// too far behind the event is dropped and an error returned.
func (h *Hub) Record(ev trace.Event) error {
	data, err := json.Marshal(frame{Kind: "event", Event: &ev})
	if err != nil {
		return errors.Wrap(err, "marshal trace frame")
	}
	select {
	case h.broadcast <- data:
		return nil
	default:
		return trace.ErrBacklogFull
	}
}

func (h *Hub) run() {
	defer func() {
		for conn := range h.clients {
			conn.Close()
		}
	}()

	for {
		select {
		case conn := <-h.register:
			h.clients[conn] = true
			if h.snapshot != nil {
				if data, err := json.Marshal(frame{Kind: "state", State: h.snapshot()}); err == nil {
					h.write(conn, data)
				}
			}
		case conn := <-h.remove:
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
		case msg := <-h.broadcast:
			for conn := range h.clients {
				h.write(conn, msg)
			}
		case <-h.done:
			return
		}
	}
}

func (h *Hub) write(conn *websocket.Conn, data []byte) {
	conn.SetWriteDeadline(time.Now().Add(h.writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		h.log.WithError(err).Warn("failed to send frame to websocket client")
		delete(h.clients, conn)
		conn.Close()
	}
}

// ServeWS upgrades the request and subscribes the connection.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Error("websocket upgrade failed")
		return
	}

	select {
	case h.register <- conn:
	case <-h.done:
		conn.Close()
		return
	}

	go func() {
		defer func() {
			select {
			case h.remove <- conn:
			case <-h.done:
			}
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.log.WithError(err).Warn("websocket error")
				}
				return
			}
		}
	}()
}
