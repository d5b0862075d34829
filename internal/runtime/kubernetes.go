package runtime

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/scheme"
	restclient "k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/tools/remotecommand"
)

// ErrMetricsUnavailable is returned by runtimes that cannot sample resource
// usage. The health monitor records it as a partial check, not a failure.
var ErrMetricsUnavailable = errors.New("resource metrics unavailable for this runtime")

// KubernetesConfig holds configuration for the Kubernetes runtime.
type KubernetesConfig struct {
	// Namespace where pool pods are created
	Namespace string
	// ServiceAccount for pool pods (optional)
	ServiceAccount string
}

// KubernetesRuntime implements ContainerRuntime by running each pool as a
// single-container Pod. Published ports use hostPort so bot probes work the
// same way as with Docker on a single host.
type KubernetesRuntime struct {
	clientset  kubernetes.Interface
	restConfig *restclient.Config
	config     KubernetesConfig
	logger     *slog.Logger
}

// homeDir returns the user's home directory.
func homeDir() string {
	if h := os.Getenv("HOME"); h != "" {
		return h
	}
	return os.Getenv("USERPROFILE") // Windows
}

// NewKubernetesRuntime creates a new Kubernetes-based runtime.
// Tries in-cluster configuration first, falls back to kubeconfig for local
// development.
func NewKubernetesRuntime(cfg KubernetesConfig, logger *slog.Logger) (*KubernetesRuntime, error) {
	config, err := restclient.InClusterConfig()
	if err != nil {
		kubeconfig := filepath.Join(homeDir(), ".kube", "config")
		logger.Info("in-cluster config not available, trying kubeconfig", "path", kubeconfig)
		config, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("failed to build kubernetes config: %w", err)
		}
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes clientset: %w", err)
	}

	if cfg.Namespace == "" {
		cfg.Namespace = "default"
	}

	return &KubernetesRuntime{
		clientset:  clientset,
		restConfig: config,
		config:     cfg,
		logger:     logger,
	}, nil
}

// Create implements ContainerRuntime.Create by creating a Pod. The pod name
// doubles as the container handle.
func (k *KubernetesRuntime) Create(ctx context.Context, spec ContainerSpec) (string, error) {
	var envVars []corev1.EnvVar
	for key, value := range spec.Env {
		envVars = append(envVars, corev1.EnvVar{Name: key, Value: value})
	}

	var ports []corev1.ContainerPort
	for _, p := range spec.Ports {
		ports = append(ports, corev1.ContainerPort{
			ContainerPort: int32(p),
			HostPort:      int32(p),
		})
	}

	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      spec.Name,
			Namespace: k.config.Namespace,
			Labels:    spec.Labels,
		},
		Spec: corev1.PodSpec{
			ServiceAccountName: k.config.ServiceAccount,
			RestartPolicy:      corev1.RestartPolicyAlways,
			Containers: []corev1.Container{{
				Name:  "pool",
				Image: spec.Image,
				Env:   envVars,
				Ports: ports,
			}},
		},
	}

	created, err := k.clientset.CoreV1().Pods(k.config.Namespace).Create(ctx, pod, metav1.CreateOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to create pod %s: %w", spec.Name, err)
	}
	return created.Name, nil
}

// Start implements ContainerRuntime.Start. Pods start on creation, so this
// only verifies the pod exists.
func (k *KubernetesRuntime) Start(ctx context.Context, id string) error {
	_, err := k.clientset.CoreV1().Pods(k.config.Namespace).Get(ctx, id, metav1.GetOptions{})
	if err != nil {
		return fmt.Errorf("failed to look up pod %s: %w", id, err)
	}
	return nil
}

// Stop implements ContainerRuntime.Stop by deleting the pod.
func (k *KubernetesRuntime) Stop(ctx context.Context, id string) error {
	err := k.clientset.CoreV1().Pods(k.config.Namespace).Delete(ctx, id, metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("failed to delete pod %s: %w", id, err)
	}
	return nil
}

// Remove implements ContainerRuntime.Remove. Deleting the pod already
// removes it; a second delete is a no-op.
func (k *KubernetesRuntime) Remove(ctx context.Context, id string) error {
	return k.Stop(ctx, id)
}

// Inspect implements ContainerRuntime.Inspect.
func (k *KubernetesRuntime) Inspect(ctx context.Context, id string) (ContainerInfo, error) {
	pod, err := k.clientset.CoreV1().Pods(k.config.Namespace).Get(ctx, id, metav1.GetOptions{})
	if err != nil {
		return ContainerInfo{}, fmt.Errorf("failed to inspect pod %s: %w", id, err)
	}

	info := ContainerInfo{ID: pod.Name, Name: pod.Name, State: StateUnknown}
	switch pod.Status.Phase {
	case corev1.PodRunning:
		info.State = StateRunning
	case corev1.PodPending:
		info.State = StateCreated
	case corev1.PodSucceeded, corev1.PodFailed:
		info.State = StateExited
	}
	if pod.Status.StartTime != nil {
		info.StartedAt = pod.Status.StartTime.Time
	}
	return info, nil
}

// Exec implements ContainerRuntime.Exec using the pod exec subresource.
func (k *KubernetesRuntime) Exec(ctx context.Context, id string, cmd []string) (ExecResult, error) {
	req := k.clientset.CoreV1().RESTClient().Post().
		Resource("pods").
		Name(id).
		Namespace(k.config.Namespace).
		SubResource("exec").
		VersionedParams(&corev1.PodExecOptions{
			Container: "pool",
			Command:   cmd,
			Stdout:    true,
			Stderr:    true,
		}, scheme.ParameterCodec)

	executor, err := remotecommand.NewSPDYExecutor(k.restConfig, "POST", req.URL())
	if err != nil {
		return ExecResult{}, fmt.Errorf("failed to create exec for pod %s: %w", id, err)
	}

	var stdout, stderr bytes.Buffer
	err = executor.StreamWithContext(ctx, remotecommand.StreamOptions{
		Stdout: &stdout,
		Stderr: &stderr,
	})
	output := stdout.String() + stderr.String()
	if err != nil {
		// remotecommand folds non-zero exits into the stream error; the
		// callers only branch on success, so report exit code 1.
		return ExecResult{ExitCode: 1, Output: output}, nil
	}
	return ExecResult{ExitCode: 0, Output: output}, nil
}

// Metrics implements ContainerRuntime.Metrics. Pod-level resource sampling
// needs the metrics-server API, which this runtime does not depend on.
func (k *KubernetesRuntime) Metrics(ctx context.Context, id string) (Metrics, error) {
	return Metrics{SampledAt: time.Now().UTC()}, ErrMetricsUnavailable
}
