package observer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"crateloot.ai/internal/observerproto"
	"crateloot.ai/internal/sim/world"
)

const (
	maxPrefabFilter  = 256
	handshakeTimeout = 5 * time.Second
	idleTimeout      = 60 * time.Second
	writeTimeout     = 5 * time.Second
)

var errNotSubscribe = errors.New("expected SUBSCRIBE")

// Server streams container contents to local observers.
type Server struct {
	world *world.World
	log   *zap.Logger

	upgrader websocket.Upgrader
	sessions atomic.Uint64
}

func NewServer(w *world.World, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{world: w, log: logger}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4 * 1024,
		WriteBufferSize: 16 * 1024,
		CheckOrigin:     sameHostOrigin,
	}
	return s
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return localOnly(func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		st, err := s.world.RequestStatus(ctx)
		if err != nil {
			http.Error(rw, err.Error(), http.StatusServiceUnavailable)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(observerproto.BootstrapResponse{
			ProtocolVersion: observerproto.Version,
			WorldID:         st.WorldID,
			Tick:            st.Tick,
			TickRateHz:      st.TickRateHz,
			Tables:          st.Tables,
			Blacklist:       st.Blacklist,
			Containers:      st.Containers,
		})
	})
}

func (s *Server) WSHandler() http.HandlerFunc {
	return localOnly(func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sub, err := readSubscribe(conn, handshakeTimeout)
		if err != nil {
			closeConn(conn, websocket.ClosePolicyViolation, err.Error())
			return
		}
		sess := &session{
			id:   fmt.Sprintf("O%d", s.sessions.Add(1)),
			conn: conn,
			out:  make(chan []byte, s.world.Config().ObserverQueue),
		}
		join := world.ObserverJoinRequest{SessionID: sess.id, Out: sess.out, Prefabs: sub.Prefabs, Replay: sub.Replay}
		select {
		case s.world.ObserverJoin() <- join:
		default:
			closeConn(conn, websocket.CloseTryAgainLater, "server busy")
			return
		}
		s.log.Debug("observer joined", zap.String("session", sess.id), zap.String("remote", r.RemoteAddr), zap.Strings("prefabs", sub.Prefabs))

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			sess.writeLoop(ctx)
		}()

		s.readUpdates(sess)
		cancel()

		select {
		case s.world.ObserverLeave() <- sess.id:
		default:
		}
		closeConn(conn, websocket.CloseNormalClosure, "bye")
		select {
		case <-done:
		case <-time.After(500 * time.Millisecond):
		}
	})
}

// readUpdates forwards filter changes until the client goes away. Malformed
// messages are ignored; updates are dropped when the world is busy.
func (s *Server) readUpdates(sess *session) {
	for {
		sub, err := readSubscribe(sess.conn, idleTimeout)
		if errors.Is(err, errNotSubscribe) {
			continue
		}
		if err != nil {
			return
		}
		select {
		case s.world.ObserverSubscribe() <- world.ObserverSubscribeRequest{SessionID: sess.id, Prefabs: sub.Prefabs, Replay: sub.Replay}:
		default:
		}
	}
}

type session struct {
	id   string
	conn *websocket.Conn
	out  chan []byte
}

// writeLoop drains out until the world closes it on leave or ctx ends.
func (s *session) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case b, ok := <-s.out:
			if !ok {
				return
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		}
	}
}

// readSubscribe reads one message. Transport errors are returned as is;
// anything that is not a SUBSCRIBE of this protocol version is errNotSubscribe.
func readSubscribe(conn *websocket.Conn, timeout time.Duration) (observerproto.SubscribeMsg, error) {
	var sub observerproto.SubscribeMsg
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return sub, err
	}
	if json.Unmarshal(msg, &sub) != nil || sub.Type != observerproto.TypeSubscribe || sub.ProtocolVersion != observerproto.Version {
		return sub, errNotSubscribe
	}
	normalizeSubscribe(&sub)
	return sub, nil
}

func closeConn(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
}

// normalizeSubscribe drops empty and repeated prefab ids and caps the filter.
func normalizeSubscribe(sub *observerproto.SubscribeMsg) {
	seen := map[string]bool{}
	out := sub.Prefabs[:0]
	for _, id := range sub.Prefabs {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
		if len(out) == maxPrefabFilter {
			break
		}
	}
	sub.Prefabs = out
}

func localOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		h(rw, r)
	}
}

// sameHostOrigin accepts non-browser clients (no Origin) and pages served
// from a loopback host.
func sameHostOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
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
