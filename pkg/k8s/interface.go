package k8s

import (
	"context"
	"io"

	corev1 "k8s.io/api/core/v1"
)

// ClientInterface defines the Kubernetes operations sandboxes need.
// This allows for easier testing with mocks
type ClientInterface interface {
	HealthCheck(ctx context.Context) error
	GetServerVersion(ctx context.Context) (string, error)
	CreateNamespace(ctx context.Context, name string, labels map[string]string) error
	DeleteNamespace(ctx context.Context, name string) error
	NamespaceExists(ctx context.Context, name string) (bool, error)
	CreateResourceQuota(ctx context.Context, namespace, cpu, memory, storage string) error
	CreateSandboxNetworkPolicy(ctx context.Context, namespace string, appPort int32) error
	CreatePod(ctx context.Context, spec *PodSpec) error
	GetPod(ctx context.Context, namespace, name string) (*corev1.Pod, error)
	WaitForPodRunning(ctx context.Context, namespace, name string) error
	ExecInPod(ctx context.Context, namespace, podName string, command []string, stdin io.Reader, stdout, stderr io.Writer) error
	WriteFile(ctx context.Context, namespace, podName, path string, content []byte) error
	GetPodMetrics(ctx context.Context, namespace, podName string) (*PodMetrics, error)
}
