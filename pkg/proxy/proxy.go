package proxy

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/gruntyhq/grunty/internal/logger"
	"github.com/gruntyhq/grunty/pkg/k8s"
)

// LogMessage is one frame on the log stream socket
type LogMessage struct {
	Type      string    `json:"type"` // "log" or "exit"
	Data      string    `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewUpgrader creates a WebSocket upgrader with configurable origin checking
func NewUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			// No origins configured means development mode
			if len(allowedOrigins) == 0 {
				return true
			}

			origin := r.Header.Get("Origin")
			if origin == "" {
				return false
			}

			for _, allowed := range allowedOrigins {
				if origin == allowed {
					return true
				}
			}

			return false
		},
		EnableCompression: true,
	}
}

// Proxy streams sandbox app server output over WebSocket connections. The
// stream is read-only; clients never get a shell into the sandbox.
type Proxy struct {
	k8sClient   k8s.ClientInterface
	logger      *logger.Logger
	sessions    map[string]*Session
	mu          sync.RWMutex
	upgrader    websocket.Upgrader
	maxSessions int
}

// Session is one active log stream
type Session struct {
	ID        string
	SandboxID string
	Namespace string
	PodName   string
	Conn      *websocket.Conn
	output    io.ReadCloser
	cancel    context.CancelFunc
	closed    bool
	mu        sync.Mutex
}

// NewProxy creates a new log stream proxy
func NewProxy(k8sClient k8s.ClientInterface, log *logger.Logger) *Proxy {
	return &Proxy{
		k8sClient:   k8sClient,
		logger:      log,
		sessions:    make(map[string]*Session),
		upgrader:    NewUpgrader(nil),
		maxSessions: 100,
	}
}

// HandleLogStream upgrades the connection and streams the sandbox app log
// until the client disconnects or the sandbox goes away.
func (p *Proxy) HandleLogStream(w http.ResponseWriter, r *http.Request, sandboxID, namespace, podName string) error {
	p.mu.RLock()
	sessionCount := len(p.sessions)
	p.mu.RUnlock()

	if sessionCount >= p.maxSessions {
		return fmt.Errorf("maximum session limit reached (%d)", p.maxSessions)
	}

	conn, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	sessionID := fmt.Sprintf("%s-%d", sandboxID, time.Now().UnixNano())

	ctx, cancel := context.WithCancel(context.Background())

	session := &Session{
		ID:        sessionID,
		SandboxID: sandboxID,
		Namespace: namespace,
		PodName:   podName,
		Conn:      conn,
		cancel:    cancel,
	}

	p.mu.Lock()
	p.sessions[sessionID] = session
	p.mu.Unlock()

	p.logger.Info("log stream started",
		zap.String("session_id", sessionID),
		zap.String("sandbox_id", sandboxID),
	)

	go p.handleSession(ctx, session)

	return nil
}

func (p *Proxy) handleSession(ctx context.Context, session *Session) {
	defer p.cleanup(session)

	outputReader, outputWriter := io.Pipe()
	session.output = outputReader

	// Follow the app server log inside the sandbox.
	go func() {
		defer outputWriter.Close()
		err := p.k8sClient.ExecInPod(
			ctx,
			session.Namespace,
			session.PodName,
			[]string{"sh", "-c", "touch /tmp/streamlit.log && tail -f /tmp/streamlit.log"},
			nil,
			outputWriter,
			outputWriter,
		)
		if err != nil && ctx.Err() == nil {
			p.logger.Error("log tail failed",
				zap.String("session_id", session.ID),
				zap.Error(err),
			)
		}
		session.Close()
	}()

	go p.streamOutput(session, outputReader)

	// Drain client frames so close and ping messages are processed.
	p.awaitClose(session)
}

func (p *Proxy) awaitClose(session *Session) {
	for {
		if _, _, err := session.Conn.ReadMessage(); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				p.logger.Info("log stream closed by client", zap.String("session_id", session.ID))
			}
			session.Close()
			return
		}
	}
}

func (p *Proxy) streamOutput(session *Session, reader io.Reader) {
	buf := make([]byte, 16384)

	for {
		n, err := reader.Read(buf)
		if err != nil {
			if err != io.EOF {
				p.logger.Error("failed to read sandbox output",
					zap.String("session_id", session.ID),
					zap.Error(err),
				)
			}
			return
		}

		if n > 0 {
			msg := LogMessage{
				Type:      "log",
				Data:      string(buf[:n]),
				Timestamp: time.Now(),
			}

			session.mu.Lock()
			closed := session.closed
			if !closed {
				if err := session.Conn.WriteJSON(msg); err != nil {
					p.logger.Error("failed to write to websocket",
						zap.String("session_id", session.ID),
						zap.Error(err),
					)
					session.mu.Unlock()
					session.Close()
					return
				}
			}
			session.mu.Unlock()

			if closed {
				return
			}
		}
	}
}

func (p *Proxy) cleanup(session *Session) {
	session.Close()

	p.mu.Lock()
	delete(p.sessions, session.ID)
	p.mu.Unlock()

	p.logger.Info("log stream ended", zap.String("session_id", session.ID))
}

// Close closes a session
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	s.closed = true
	s.cancel()

	if s.output != nil {
		s.output.Close()
	}

	closeMsg := LogMessage{
		Type:      "exit",
		Timestamp: time.Now(),
	}
	s.Conn.WriteJSON(closeMsg) //nolint:errcheck
	s.Conn.Close()
}

// GetActiveSessions returns the number of active sessions
func (p *Proxy) GetActiveSessions() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.sessions)
}
