package k8s

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"k8s.io/apimachinery/pkg/util/validation"
)

var (
	ErrRunaiDisabled  = errors.New("runai CLI is not configured")
	ErrInvalidJobName = errors.New("invalid job name")
)

// CommandRunner runs a command and returns its stdout.
type CommandRunner func(ctx context.Context, env []string, name string, args ...string) ([]byte, error)

// Runai drives the run:ai CLI with KUBECONFIG pointed at the configured file.
type Runai struct {
	Path       string
	Kubeconfig string
	Project    string
	Run        CommandRunner
}

func execRunner(ctx context.Context, env []string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...) // #nosec G204 -- fixed binary, validated args
	cmd.Env = env
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return out, fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, msg)
		}
		return out, fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}
	return out, nil
}

func (r *Runai) Enabled() bool {
	return r != nil && strings.TrimSpace(r.Path) != ""
}

func (r *Runai) env() []string {
	env := os.Environ()
	if r.Kubeconfig != "" {
		env = append(env, "KUBECONFIG="+r.Kubeconfig)
	}
	return env
}

func (r *Runai) run(ctx context.Context, args ...string) ([]byte, error) {
	if !r.Enabled() {
		return nil, ErrRunaiDisabled
	}
	run := r.Run
	if run == nil {
		run = execRunner
	}
	return run(ctx, r.env(), r.Path, args...)
}

// ListProjects runs `runai list projects`; success means the cluster is reachable.
func (r *Runai) ListProjects(ctx context.Context) (string, error) {
	out, err := r.run(ctx, "list", "projects")
	return string(out), err
}

// DeleteJob runs `runai delete job -p PROJECT NAME`.
func (r *Runai) DeleteJob(ctx context.Context, name string) error {
	if errs := validation.IsDNS1123Subdomain(name); len(errs) > 0 {
		return fmt.Errorf("%w %q: %s", ErrInvalidJobName, name, strings.Join(errs, "; "))
	}
	if !r.Enabled() {
		return ErrRunaiDisabled
	}
	if strings.TrimSpace(r.Project) == "" {
		return errors.New("runai project is not configured")
	}
	_, err := r.run(ctx, "delete", "job", "-p", r.Project, name)
	return err
}
