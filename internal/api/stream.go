// Binary live feed over websocket. Every frame is a protobuf-encoded
// google.protobuf.Struct with a "kind" field, so any protobuf runtime can
// decode it without generated code.
package api

import (
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/talgya/horde/internal/engine"
	"github.com/talgya/horde/internal/world"
)

const (
	maxStreamConns = 16
	statsInterval  = time.Second
	writeWait      = 5 * time.Second
)

type streamHub struct {
	sim      *engine.Simulation
	upgrader websocket.Upgrader
	conns    atomic.Int32

	done chan struct{}
	once sync.Once
}

func newStreamHub(sim *engine.Simulation) *streamHub {
	return &streamHub{
		sim: sim,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		done: make(chan struct{}),
	}
}

func (h *streamHub) close() {
	h.once.Do(func() { close(h.done) })
}

// encodeFrame marshals fields plus kind into a Struct message.
func encodeFrame(kind string, fields map[string]any) ([]byte, error) {
	if fields == nil {
		fields = map[string]any{}
	}
	fields["kind"] = kind
	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	return proto.Marshal(st)
}

func eventFrame(e engine.Event) ([]byte, error) {
	return encodeFrame("event", map[string]any{
		"tick":        e.Tick,
		"category":    e.Category,
		"description": e.Description,
	})
}

func (h *streamHub) statsFrame() ([]byte, error) {
	st := h.sim.Stats()
	return encodeFrame("stats", map[string]any{
		"tick":        h.sim.CurrentTick(),
		"agents":      st.Agents,
		"tracking":    st.Tracking,
		"wandering":   st.Wandering,
		"raging":      st.Raging,
		"pawns_alive": st.PawnsAlive,
		"deaths":      st.Deaths,
		"percent":     h.sim.Scheduler.Percent(),
	})
}

func (h *streamHub) cellFrame(c world.Cell) ([]byte, error) {
	d, ok := h.sim.DebugSnapshot(c)
	if !ok {
		return encodeFrame("error", map[string]any{"message": "cell out of bounds"})
	}
	return encodeFrame("cell", map[string]any{
		"x":         d.Cell.X,
		"y":         d.Cell.Y,
		"timestamp": d.Timestamp,
		"occupancy": d.Occupancy,
		"cost":      d.Cost,
		"region":    d.Region,
		"tile":      d.Tile,
	})
}

// handle upgrades the connection, then pushes a stats frame every second
// and every event as it happens. Clients may send {"type":"cell","x":..,"y":..}
// Struct requests and get a cell frame back.
func (h *streamHub) handle(w http.ResponseWriter, r *http.Request) {
	if h.conns.Add(1) > maxStreamConns {
		h.conns.Add(-1)
		http.Error(w, "too many stream connections", http.StatusServiceUnavailable)
		return
	}
	defer h.conns.Add(-1)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	subID, events := h.sim.Subscribe()
	defer h.sim.Unsubscribe(subID)

	replies := make(chan []byte, 8)
	readDone := make(chan struct{})
	go h.readLoop(conn, replies, readDone)

	send := func(data []byte, err error) bool {
		if err != nil {
			slog.Warn("stream frame encode failed", "error", err)
			return true
		}
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteMessage(websocket.BinaryMessage, data) == nil
	}

	if !send(h.statsFrame()) {
		return
	}
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case e, ok := <-events:
			if !ok || !send(eventFrame(e)) {
				return
			}
		case data := <-replies:
			if !send(data, nil) {
				return
			}
		case <-ticker.C:
			if !send(h.statsFrame()) {
				return
			}
		case <-readDone:
			return
		case <-h.done:
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
			return
		}
	}
}

// readLoop decodes client requests. Replies go through the writer so
// only one goroutine writes to conn.
func (h *streamHub) readLoop(conn *websocket.Conn, replies chan<- []byte, done chan<- struct{}) {
	defer close(done)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req structpb.Struct
		if err := proto.Unmarshal(data, &req); err != nil {
			slog.Debug("discarding malformed stream request", "error", err)
			continue
		}
		fields := req.GetFields()
		if fields["type"].GetStringValue() != "cell" {
			continue
		}
		c := world.Cell{
			X: int(fields["x"].GetNumberValue()),
			Y: int(fields["y"].GetNumberValue()),
		}
		frame, err := h.cellFrame(c)
		if err != nil {
			continue
		}
		select {
		case replies <- frame:
		default:
		}
	}
}
