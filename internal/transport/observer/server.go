package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"blockdem.dev/internal/protocol"
	"blockdem.dev/internal/sim/dem"
)

// Server streams run progress to loopback websocket clients. It implements
// dem.HistoryLogger so it can be attached to a simulator directly.
type Server struct {
	info protocol.BootstrapResponse
	log  *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64

	mu       sync.Mutex
	sessions map[string]*session
	done     []byte
	records  uint64
}

type session struct {
	id         string
	out        chan []byte
	frames     bool
	frameEvery int
}

func NewServer(info protocol.BootstrapResponse, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	info.ProtocolVersion = protocol.Version
	return &Server{
		info:     info,
		log:      logger,
		sessions: map[string]*session{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // loopback only
		},
	}
}

// Routes mounts the bootstrap and websocket endpoints on mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/run/bootstrap", s.BootstrapHandler())
	mux.HandleFunc("/v1/run/ws", s.WSHandler())
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(s.info)
	}
}

// Sessions is the number of connected subscribers.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// WantsFrames reports whether any subscriber asked for block poses at the next record.
func (s *Server) WantsFrames() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ss := range s.sessions {
		if ss.frames && s.records%uint64(ss.frameEvery) == 0 {
			return true
		}
	}
	return false
}

func (s *Server) WriteHistory(rec dem.HistoryRecord) error {
	b, err := json.Marshal(protocol.ProgressMsg{
		Type:              protocol.TypeProgress,
		ProtocolVersion:   protocol.Version,
		RunID:             s.info.RunID,
		Step:              rec.Step,
		Time:              rec.Time,
		PeakSpeed:         rec.PeakSpeed,
		MeanSpeed:         rec.MeanSpeed,
		KineticEnergy:     rec.KineticEnergy,
		MaxDisplacement:   rec.MaxDisplacement,
		UnbalancedRatio:   rec.UnbalancedRatio,
		ActiveContacts:    rec.ActiveContacts,
		SlidingContacts:   rec.SlidingContacts,
		SeparatedContacts: rec.SeparatedContacts,
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records++
	for _, ss := range s.sessions {
		sendLatest(ss.out, b)
	}
	return nil
}

// PublishFrame sends block poses to subscribers that asked for them.
func (s *Server) PublishFrame(step uint64, t float64, blocks []protocol.BlockPose) {
	b, err := json.Marshal(protocol.FrameMsg{
		Type:            protocol.TypeFrame,
		ProtocolVersion: protocol.Version,
		RunID:           s.info.RunID,
		Step:            step,
		Time:            t,
		Blocks:          blocks,
	})
	if err != nil {
		s.log.Printf("observer: frame: %v", err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ss := range s.sessions {
		if ss.frames && s.records%uint64(ss.frameEvery) == 0 {
			sendLatest(ss.out, b)
		}
	}
}

// Finish broadcasts the final DONE message; late subscribers receive it on connect.
func (s *Server) Finish(res *dem.Result) {
	failed := res.FailedBlocks
	if failed == nil {
		failed = []int{}
	}
	b, _ := json.Marshal(protocol.DoneMsg{
		Type:            protocol.TypeDone,
		ProtocolVersion: protocol.Version,
		RunID:           s.info.RunID,
		Status:          string(res.Status),
		Converged:       res.Converged,
		Steps:           res.Steps,
		Time:            res.Time,
		MaxDisplacement: res.MaxDisplacement,
		FailedBlocks:    failed,
	})
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done = b
	for _, ss := range s.sessions {
		sendLatest(ss.out, b)
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		sub, code := decodeSubscribe(msg)
		if code != "" {
			b, _ := json.Marshal(protocol.NewError(code, "expected SUBSCRIBE "+protocol.Version))
			_ = conn.WriteMessage(websocket.TextMessage, b)
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}

		ss := &session{
			id:  fmt.Sprintf("O%d", s.nextID.Add(1)),
			out: make(chan []byte, 64),
		}
		applySubscribe(ss, sub)
		s.join(ss)
		defer s.leave(ss.id)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b := <-ss.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		// Reader loop: allow SUBSCRIBE updates.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			sub, code := decodeSubscribe(msg)
			if code != "" {
				continue
			}
			s.mu.Lock()
			applySubscribe(ss, sub)
			s.mu.Unlock()
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func (s *Server) join(ss *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[ss.id] = ss
	if s.done != nil {
		sendLatest(ss.out, s.done)
	}
	s.log.Printf("observer: %s subscribed (frames=%v)", ss.id, ss.frames)
}

func (s *Server) leave(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

func decodeSubscribe(msg []byte) (protocol.SubscribeMsg, string) {
	var sub protocol.SubscribeMsg
	if err := json.Unmarshal(msg, &sub); err != nil {
		return sub, protocol.ErrProtoBadRequest
	}
	if sub.Type != protocol.TypeSubscribe {
		return sub, protocol.ErrProtoBadRequest
	}
	if sub.ProtocolVersion != protocol.Version {
		return sub, protocol.ErrProtoVersion
	}
	return sub, ""
}

func applySubscribe(ss *session, sub protocol.SubscribeMsg) {
	ss.frames = sub.Frames
	ss.frameEvery = sub.FrameEvery
	if ss.frameEvery <= 0 {
		ss.frameEvery = 1
	}
	if ss.frameEvery > 1000 {
		ss.frameEvery = 1000
	}
}

func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
