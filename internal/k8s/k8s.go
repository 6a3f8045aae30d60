// Package k8s talks to the cluster that runs submission processing jobs:
// pod listings through client-go and job administration through the run:ai CLI.
package k8s

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	kubecore "k8s.io/api/core/v1"
	kubeapimeta "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"deepreef/internal/models"
)

// Client is the subset of kubernetes.Interface the service uses.
type Client interface {
	ListPods(ctx context.Context, namespace string) ([]kubecore.Pod, error)
}

type clientset struct {
	client kubernetes.Interface
}

var _ Client = &clientset{}

func (c *clientset) ListPods(ctx context.Context, namespace string) ([]kubecore.Pod, error) {
	resp, err := c.client.CoreV1().Pods(namespace).List(ctx, kubeapimeta.ListOptions{})
	if err != nil {
		return nil, err
	}
	return resp.Items, nil
}

func Wrap(c kubernetes.Interface) Client {
	return &clientset{client: c}
}

// Connect builds a client from kubeconfig, or from the in-cluster service
// account when kubeconfig is empty or missing.
func Connect(kubeconfig string) (Client, error) {
	if kubeconfig != "" {
		stat, err := os.Stat(kubeconfig)
		if err != nil || stat.IsDir() {
			kubeconfig = ""
		}
	}

	var config *rest.Config
	var err error
	if kubeconfig == "" {
		config, err = rest.InClusterConfig()
	} else {
		config, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
	}
	if err != nil {
		return nil, fmt.Errorf("load cluster config: %w", err)
	}
	config.Timeout = 15 * time.Second

	cs, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, err
	}
	return Wrap(cs), nil
}

// Cluster lists the pods of one namespace. The client is created on first use
// and kept once a connection succeeds, so a cluster that comes up late is
// picked up on a later fetch.
type Cluster struct {
	Namespace string
	// Connect creates the client; defaults to Connect with Kubeconfig.
	Connect    func() (Client, error)
	Kubeconfig string
	// Runai, when enabled, is probed before every listing.
	Runai *Runai

	mu     sync.Mutex
	client Client
}

var ErrNoNamespace = errors.New("namespace is not configured")

func (c *Cluster) clientFor() (Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return c.client, nil
	}
	connect := c.Connect
	if connect == nil {
		connect = func() (Client, error) { return Connect(c.Kubeconfig) }
	}
	cl, err := connect()
	if err != nil {
		return nil, err
	}
	c.client = cl
	return cl, nil
}

// Pods returns the current pod listing of the namespace.
func (c *Cluster) Pods(ctx context.Context) ([]kubecore.Pod, error) {
	if strings.TrimSpace(c.Namespace) == "" {
		return nil, ErrNoNamespace
	}
	if c.Runai.Enabled() {
		if _, err := c.Runai.ListProjects(ctx); err != nil {
			return nil, fmt.Errorf("runai probe: %w", err)
		}
	}
	cl, err := c.clientFor()
	if err != nil {
		return nil, err
	}
	return cl.ListPods(ctx, c.Namespace)
}

// RunStatusFor picks the pods whose name contains submissionID.
func RunStatusFor(pods []kubecore.Pod, submissionID string) []models.RunStatus {
	out := []models.RunStatus{}
	if submissionID == "" {
		return out
	}
	for _, pod := range pods {
		if !strings.Contains(pod.Name, submissionID) {
			continue
		}
		rs := models.RunStatus{
			SubmissionID: pod.Name,
			Status:       string(pod.Status.Phase),
		}
		if pod.Status.StartTime != nil {
			started := pod.Status.StartTime.UTC().Format(time.RFC3339)
			rs.TimeStarted = &started
		}
		out = append(out, rs)
	}
	return out
}
