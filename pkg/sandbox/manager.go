package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/gruntyhq/grunty/internal/config"
	"github.com/gruntyhq/grunty/pkg/database"
	"github.com/gruntyhq/grunty/pkg/k8s"
	"github.com/gruntyhq/grunty/pkg/models"
)

const (
	appPath  = "/app/app.py"
	dataPath = "/app/data.csv"
	podName  = "sandbox"
)

// ErrUnauthorized is returned when a caller targets a sandbox owned by a
// different user. Distinct from not-found: the sandbox exists.
var ErrUnauthorized = errors.New("sandbox belongs to another user")

// Manager owns sandbox lifecycles: one ephemeral pod per user, reused
// across executions until its TTL lapses.
type Manager struct {
	db     *database.DB
	k8s    k8s.ClientInterface
	cfg    config.SandboxConfig
	k8sCfg config.KubernetesConfig
	logger *zap.Logger
	group  singleflight.Group
	stopCh chan struct{}
}

// NewManager creates a sandbox manager
func NewManager(db *database.DB, client k8s.ClientInterface, cfg config.SandboxConfig, k8sCfg config.KubernetesConfig, logger *zap.Logger) *Manager {
	return &Manager{
		db:     db,
		k8s:    client,
		cfg:    cfg,
		k8sCfg: k8sCfg,
		logger: logger,
		stopCh: make(chan struct{}),
	}
}

// ttl returns the sandbox idle lifetime.
func (m *Manager) ttl() time.Duration {
	return time.Duration(m.cfg.TTLSeconds) * time.Second
}

func (m *Manager) namespaceFor(sandboxID string) string {
	return m.k8sCfg.NamespacePrefix + sandboxID
}

// AppURL builds the public URL for a sandbox's app port.
func (m *Manager) AppURL(sandboxID string) string {
	return fmt.Sprintf("https://%d-%s.%s", m.cfg.AppPort, sandboxID, m.k8sCfg.BaseDomain)
}

// Ensure returns the user's live sandbox, creating one if none exists or
// the previous one expired. Concurrent calls for the same user collapse
// into one provisioning attempt. A live sandbox gets its TTL extended.
func (m *Manager) Ensure(ctx context.Context, userID string) (*models.SandboxSession, error) {
	v, err, _ := m.group.Do(userID, func() (interface{}, error) {
		return m.ensure(ctx, userID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.SandboxSession), nil
}

func (m *Manager) ensure(ctx context.Context, userID string) (*models.SandboxSession, error) {
	now := time.Now().UTC()

	session, err := m.db.GetSandboxSessionByUser(ctx, userID)
	if err == nil {
		if session.ExpiresAt.After(now) && m.podAlive(ctx, session) {
			if err := m.db.TouchSandboxSession(ctx, session.ID, session.Status, now.Add(m.ttl())); err != nil {
				return nil, err
			}
			session.ExpiresAt = now.Add(m.ttl())
			return session, nil
		}
		// Stale record; tear down whatever is left before provisioning.
		m.teardown(ctx, session)
	} else if !errors.Is(err, database.ErrNotFound) {
		return nil, err
	}

	return m.provision(ctx, userID)
}

// podAlive reports whether the session's pod still exists and is running.
func (m *Manager) podAlive(ctx context.Context, session *models.SandboxSession) bool {
	pod, err := m.k8s.GetPod(ctx, session.Namespace, session.PodName)
	if err != nil {
		return false
	}
	return pod.Status.Phase == "Running" || pod.Status.Phase == "Pending"
}

func (m *Manager) provision(ctx context.Context, userID string) (*models.SandboxSession, error) {
	sandboxID := uuid.New().String()
	namespace := m.namespaceFor(sandboxID)
	now := time.Now().UTC()

	session := &models.SandboxSession{
		ID:        sandboxID,
		UserID:    userID,
		Namespace: namespace,
		PodName:   podName,
		Status:    models.SandboxCreating,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl()),
	}
	if err := m.db.SaveSandboxSession(ctx, session); err != nil {
		return nil, err
	}

	labels := map[string]string{
		"app":        "grunty-sandbox",
		"sandbox-id": sandboxID,
		"user-id":    userID,
	}

	if err := m.k8s.CreateNamespace(ctx, namespace, labels); err != nil {
		return nil, m.provisionFailed(ctx, session, err)
	}
	if err := m.k8s.CreateResourceQuota(ctx, namespace, m.cfg.CPU, m.cfg.Memory, m.cfg.Storage); err != nil {
		return nil, m.provisionFailed(ctx, session, err)
	}
	if err := m.k8s.CreateSandboxNetworkPolicy(ctx, namespace, int32(m.cfg.AppPort)); err != nil {
		return nil, m.provisionFailed(ctx, session, err)
	}

	spec := &k8s.PodSpec{
		Name:         podName,
		Namespace:    namespace,
		Image:        m.cfg.Image,
		Command:      []string{"sleep", "infinity"},
		CPU:          m.cfg.CPU,
		Memory:       m.cfg.Memory,
		Storage:      m.cfg.Storage,
		RuntimeClass: m.k8sCfg.RuntimeClass,
		Labels:       labels,
		Port:         int32(m.cfg.AppPort),
	}
	if err := m.k8s.CreatePod(ctx, spec); err != nil {
		return nil, m.provisionFailed(ctx, session, err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, time.Duration(m.cfg.StartupTimeoutSeconds)*time.Second)
	defer cancel()
	if err := m.k8s.WaitForPodRunning(waitCtx, namespace, podName); err != nil {
		return nil, m.provisionFailed(ctx, session, err)
	}

	session.Status = models.SandboxReady
	session.ExpiresAt = time.Now().UTC().Add(m.ttl())
	if err := m.db.SaveSandboxSession(ctx, session); err != nil {
		return nil, err
	}

	m.logger.Info("sandbox provisioned",
		zap.String("sandbox_id", sandboxID),
		zap.String("user_id", userID),
		zap.String("namespace", namespace))

	return session, nil
}

func (m *Manager) provisionFailed(ctx context.Context, session *models.SandboxSession, cause error) error {
	m.logger.Error("sandbox provisioning failed",
		zap.String("sandbox_id", session.ID),
		zap.Error(cause))
	m.teardown(ctx, session)
	return fmt.Errorf("failed to provision sandbox: %w", cause)
}

// resolve looks up a sandbox by id and enforces ownership. A stale or
// unknown id is not an error here; the caller replaces transparently.
func (m *Manager) resolve(ctx context.Context, userID, sandboxID string) (*models.SandboxSession, error) {
	session, err := m.db.GetSandboxSession(ctx, sandboxID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if session.UserID != userID {
		return nil, ErrUnauthorized
	}
	if session.ExpiresAt.Before(time.Now().UTC()) || !m.podAlive(ctx, session) {
		m.teardown(ctx, session)
		return nil, nil
	}
	return session, nil
}

// RunResult describes where the executed app is being served.
type RunResult struct {
	URL       string
	SandboxID string
}

// RunCode deploys app code with its dataset into the user's sandbox and
// (re)starts the app server. A stale or missing sandboxID is replaced with
// a fresh sandbox; an id owned by someone else fails with ErrUnauthorized
// and the foreign sandbox is untouched.
func (m *Manager) RunCode(ctx context.Context, userID, sandboxID, code string, dataset []byte) (*RunResult, error) {
	var session *models.SandboxSession
	var err error

	if sandboxID != "" {
		session, err = m.resolve(ctx, userID, sandboxID)
		if err != nil {
			return nil, err
		}
	}
	if session == nil {
		session, err = m.Ensure(ctx, userID)
		if err != nil {
			return nil, err
		}
	}

	if err := m.k8s.WriteFile(ctx, session.Namespace, session.PodName, appPath, []byte(code)); err != nil {
		return nil, err
	}
	if len(dataset) > 0 {
		if err := m.k8s.WriteFile(ctx, session.Namespace, session.PodName, dataPath, dataset); err != nil {
			return nil, err
		}
	}

	if err := m.restartApp(ctx, session); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if err := m.db.TouchSandboxSession(ctx, session.ID, models.SandboxRunning, now.Add(m.ttl())); err != nil {
		return nil, err
	}

	m.logger.Info("app deployed",
		zap.String("sandbox_id", session.ID),
		zap.String("user_id", userID))

	return &RunResult{
		URL:       m.AppURL(session.ID),
		SandboxID: session.ID,
	}, nil
}

// restartApp kills any previous app server and starts a new one. The kill
// is tolerated to fail: on a fresh sandbox there is nothing to kill.
func (m *Manager) restartApp(ctx context.Context, session *models.SandboxSession) error {
	var discard bytes.Buffer
	_ = m.k8s.ExecInPod(ctx, session.Namespace, session.PodName,
		[]string{"sh", "-c", `pkill -f "streamlit run" || true`},
		nil, &discard, &discard)

	startCmd := fmt.Sprintf(
		"nohup streamlit run %s --server.port %d --server.address 0.0.0.0 --server.headless true >/tmp/streamlit.log 2>&1 &",
		appPath, m.cfg.AppPort)

	var stderr bytes.Buffer
	err := m.k8s.ExecInPod(ctx, session.Namespace, session.PodName,
		[]string{"sh", "-c", startCmd}, nil, nil, &stderr)
	if err != nil {
		return fmt.Errorf("failed to start app server: %w (stderr: %s)", err, stderr.String())
	}
	return nil
}

// KeepAlive extends the TTL of the caller's sandbox.
func (m *Manager) KeepAlive(ctx context.Context, userID, sandboxID string) (*models.SandboxSession, error) {
	session, err := m.resolve(ctx, userID, sandboxID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, database.ErrNotFound
	}

	expiresAt := time.Now().UTC().Add(m.ttl())
	if err := m.db.TouchSandboxSession(ctx, session.ID, session.Status, expiresAt); err != nil {
		return nil, err
	}
	session.ExpiresAt = expiresAt
	return session, nil
}

// Kill tears down the caller's sandbox immediately.
func (m *Manager) Kill(ctx context.Context, userID, sandboxID string) error {
	session, err := m.db.GetSandboxSession(ctx, sandboxID)
	if errors.Is(err, database.ErrNotFound) {
		return database.ErrNotFound
	}
	if err != nil {
		return err
	}
	if session.UserID != userID {
		return ErrUnauthorized
	}

	m.teardown(ctx, session)
	return nil
}

// Logs returns the app server log tail from the sandbox.
func (m *Manager) Logs(ctx context.Context, userID, sandboxID string, tail int64) (string, error) {
	session, err := m.resolve(ctx, userID, sandboxID)
	if err != nil {
		return "", err
	}
	if session == nil {
		return "", database.ErrNotFound
	}

	var out bytes.Buffer
	cmd := fmt.Sprintf("tail -n %d /tmp/streamlit.log 2>/dev/null || true", tail)
	if err := m.k8s.ExecInPod(ctx, session.Namespace, session.PodName, []string{"sh", "-c", cmd}, nil, &out, &out); err != nil {
		return "", err
	}
	return out.String(), nil
}

// teardown removes the sandbox namespace (pod and policies with it) and
// its session row. Best effort; failures are logged and not returned.
func (m *Manager) teardown(ctx context.Context, session *models.SandboxSession) {
	if err := m.k8s.DeleteNamespace(ctx, session.Namespace); err != nil {
		m.logger.Warn("failed to delete sandbox namespace",
			zap.String("namespace", session.Namespace), zap.Error(err))
	}
	if err := m.db.DeleteSandboxSession(ctx, session.ID); err != nil && !errors.Is(err, database.ErrNotFound) {
		m.logger.Warn("failed to delete sandbox session",
			zap.String("sandbox_id", session.ID), zap.Error(err))
	}
	m.logger.Info("sandbox torn down", zap.String("sandbox_id", session.ID))
}

// StartJanitor reaps expired sandboxes on an interval until Stop is called.
func (m *Manager) StartJanitor(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.reapExpired(context.Background())
			case <-m.stopCh:
				return
			}
		}
	}()
}

// Stop halts the janitor.
func (m *Manager) Stop() {
	close(m.stopCh)
}

func (m *Manager) reapExpired(ctx context.Context) {
	sessions, err := m.db.ListExpiredSandboxSessions(ctx, time.Now().UTC())
	if err != nil {
		m.logger.Error("failed to list expired sandboxes", zap.Error(err))
		return
	}
	for _, session := range sessions {
		m.teardown(ctx, session)
	}
	if len(sessions) > 0 {
		m.logger.Info("reaped expired sandboxes", zap.Int("count", len(sessions)))
	}
}

// ValidateSandboxID rejects ids that cannot be namespace fragments.
func ValidateSandboxID(id string) error {
	if id == "" {
		return fmt.Errorf("sandbox id is required")
	}
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("invalid sandbox id: %s", strings.TrimSpace(id))
	}
	return nil
}
