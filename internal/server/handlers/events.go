package handlers

import (
	"bytes"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/3leaps/bamverify/internal/observability"
)

const (
	// DefaultEventBacklog is how many records a late subscriber is replayed.
	DefaultEventBacklog = 256

	// DefaultEventQueue is how many live records may wait for a subscriber
	// on top of its replayed backlog before it is dropped.
	DefaultEventQueue = 256

	eventWriteTimeout = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// EventStream fans JSONL records out to websocket subscribers. It is an
// io.Writer so it can sit behind the record writer; each Write is one record
// line and becomes one text message without the trailing newline.
//
// Write only queues. Each subscriber has its own goroutine doing the network
// writes, so a slow client never stalls the job that produces the records.
type EventStream struct {
	mu          sync.Mutex
	backlog     [][]byte
	maxBacklog  int
	queueSize   int
	subscribers map[*subscriber]struct{}
	closed      bool
	pumps       sync.WaitGroup
}

type subscriber struct {
	conn  *websocket.Conn
	queue chan []byte

	// finished is set under the stream lock before queue is closed by Close.
	finished bool
}

// NewEventStream returns a stream that replays up to backlog records to new
// subscribers. backlog <= 0 selects DefaultEventBacklog.
func NewEventStream(backlog int) *EventStream {
	if backlog <= 0 {
		backlog = DefaultEventBacklog
	}
	return &EventStream{
		maxBacklog:  backlog,
		queueSize:   backlog + DefaultEventQueue,
		subscribers: make(map[*subscriber]struct{}),
	}
}

// Write broadcasts p to every subscriber. It never fails and never blocks on
// the network; subscribers whose queue is full are dropped.
func (s *EventStream) Write(p []byte) (int, error) {
	msg := append([]byte(nil), bytes.TrimRight(p, "\n")...)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return len(p), nil
	}

	s.backlog = append(s.backlog, msg)
	if len(s.backlog) > s.maxBacklog {
		s.backlog = s.backlog[len(s.backlog)-s.maxBacklog:]
	}
	for sub := range s.subscribers {
		select {
		case sub.queue <- msg:
		default:
			observability.CLILogger.Debug("Dropping slow event subscriber",
				zap.String("remote", sub.conn.RemoteAddr().String()))
			s.removeLocked(sub)
			_ = sub.conn.Close()
		}
	}
	return len(p), nil
}

func (s *EventStream) subscribe(conn *websocket.Conn) *subscriber {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	size := s.queueSize
	if size < len(s.backlog) {
		size = len(s.backlog)
	}
	sub := &subscriber{conn: conn, queue: make(chan []byte, size)}
	for _, msg := range s.backlog {
		sub.queue <- msg
	}
	s.subscribers[sub] = struct{}{}
	s.pumps.Add(1)
	go s.pump(sub)
	return sub
}

func (s *EventStream) unsubscribe(sub *subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(sub)
}

func (s *EventStream) removeLocked(sub *subscriber) {
	if _, ok := s.subscribers[sub]; !ok {
		return
	}
	delete(s.subscribers, sub)
	close(sub.queue)
}

// pump owns all data writes to one subscriber.
func (s *EventStream) pump(sub *subscriber) {
	defer s.pumps.Done()
	defer sub.conn.Close()

	for msg := range sub.queue {
		_ = sub.conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
		if err := sub.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			observability.CLILogger.Debug("Dropping event subscriber", zap.Error(err))
			s.unsubscribe(sub)
			return
		}
	}
	if sub.finished {
		_ = sub.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished"),
			time.Now().Add(eventWriteTimeout))
	}
}

func (s *EventStream) subscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subscribers)
}

// Close rejects new subscribers, lets each current one drain its queue and
// then sends it a normal closure. It waits at most eventWriteTimeout for the
// drain before closing the remaining connections.
func (s *EventStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conns := make([]*websocket.Conn, 0, len(s.subscribers))
	for sub := range s.subscribers {
		conns = append(conns, sub.conn)
		sub.finished = true
		s.removeLocked(sub)
	}
	s.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		s.pumps.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(eventWriteTimeout):
		for _, conn := range conns {
			_ = conn.Close()
		}
		<-drained
	}
	return nil
}

// EventsHandler upgrades the request to a websocket and streams records
// until the client goes away or the stream is closed.
func (s *EventStream) EventsHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		observability.CLILogger.Debug("Failed to upgrade events connection", zap.Error(err))
		return
	}
	sub := s.subscribe(conn)
	if sub == nil {
		_ = conn.Close()
		return
	}

	// Clients never send data; reading only notices when they go away.
	for {
		if _, _, err := conn.NextReader(); err != nil {
			s.unsubscribe(sub)
			return
		}
	}
}
