package autoscaler

import (
	"context"
	"fmt"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/rzbill/llmq/pkg/log"
)

// KubeDeployer scales Deployments through their scale subresource.
type KubeDeployer struct {
	client    kubernetes.Interface
	namespace string
	logger    log.Logger
}

// NewKube returns a deployer for Deployments in namespace.
func NewKube(client kubernetes.Interface, namespace string, logger log.Logger) *KubeDeployer {
	if namespace == "" {
		namespace = metav1.NamespaceDefault
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &KubeDeployer{client: client, namespace: namespace, logger: logger.WithComponent("kube")}
}

// NewKubeFromConfig builds a clientset from kubeconfig, or from the
// in-cluster service account when kubeconfig is empty.
func NewKubeFromConfig(kubeconfig, namespace string, logger log.Logger) (*KubeDeployer, error) {
	var (
		cfg *rest.Config
		err error
	)
	if kubeconfig == "" {
		cfg, err = rest.InClusterConfig()
	} else {
		cfg, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
	}
	if err != nil {
		return nil, fmt.Errorf("kubernetes config: %w", err)
	}
	cs, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("kubernetes client: %w", err)
	}
	return NewKube(cs, namespace, logger), nil
}

// ReplicaCount returns the Deployment's desired replicas.
func (d *KubeDeployer) ReplicaCount(ctx context.Context, service string) (int, error) {
	s, err := d.client.AppsV1().Deployments(d.namespace).GetScale(ctx, service, metav1.GetOptions{})
	if err != nil {
		return 0, fmt.Errorf("get scale %s/%s: %w", d.namespace, service, err)
	}
	return int(s.Spec.Replicas), nil
}

// SetReplicaCount updates the Deployment's scale unless it already is n.
func (d *KubeDeployer) SetReplicaCount(ctx context.Context, service string, n int) error {
	if n < 0 {
		return fmt.Errorf("scale %s: negative replica count %d", service, n)
	}
	deployments := d.client.AppsV1().Deployments(d.namespace)
	s, err := deployments.GetScale(ctx, service, metav1.GetOptions{})
	if err != nil {
		return fmt.Errorf("get scale %s/%s: %w", d.namespace, service, err)
	}
	if int(s.Spec.Replicas) == n {
		return nil
	}
	from := s.Spec.Replicas
	s.Spec.Replicas = int32(n)
	if _, err := deployments.UpdateScale(ctx, service, s, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("update scale %s/%s: %w", d.namespace, service, err)
	}
	d.logger.Info("scaled deployment",
		log.Str("namespace", d.namespace),
		log.Str("deployment", service),
		log.Int("from", int(from)),
		log.Int("to", n),
	)
	return nil
}
