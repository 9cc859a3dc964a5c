// Package containerd runs sandbox containers against a containerd daemon.
package containerd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	containerd "github.com/containerd/containerd/v2/client"
	"github.com/containerd/containerd/v2/core/containers"
	"github.com/containerd/containerd/v2/core/images"
	transferimage "github.com/containerd/containerd/v2/core/transfer/image"
	"github.com/containerd/containerd/v2/core/transfer/registry"
	"github.com/containerd/containerd/v2/pkg/cio"
	"github.com/containerd/containerd/v2/pkg/namespaces"
	"github.com/containerd/containerd/v2/pkg/oci"
	"github.com/containerd/errdefs"
	"github.com/containerd/platforms"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/opencontainers/runtime-spec/specs-go"

	"pkt.systems/coderoom/internal/sandbox"
	"pkt.systems/pslog"
)

// Config configures the containerd runtime.
type Config struct {
	Address     string
	Namespace   string
	PullTimeout time.Duration
}

// Runtime implements sandbox.Runtime using containerd. Containers are
// created per run and deleted with their snapshots when the run ends.
type Runtime struct {
	client      *containerd.Client
	namespace   string
	pullTimeout time.Duration
}

// New constructs a containerd runtime, trying fallback socket paths if needed.
func New(ctx context.Context, cfg Config) (*Runtime, error) {
	log := pslog.Ctx(ctx).With("runtime", "containerd")
	addresses := candidateAddresses(cfg.Address, "containerd")
	var lastErr error
	for _, addr := range addresses {
		log.Debug("containerd connect attempt", "address", addr)
		client, err := containerd.New(addr)
		if err == nil {
			namespace := cfg.Namespace
			if namespace == "" {
				namespace = "coderoom"
			}
			timeout := cfg.PullTimeout
			if timeout == 0 {
				timeout = 5 * time.Minute
			}
			log.Info("containerd runtime ready", "address", addr, "namespace", namespace)
			return &Runtime{client: client, namespace: namespace, pullTimeout: timeout}, nil
		}
		log.Warn("containerd connect failed", "address", addr, "err", err)
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errors.New("containerd address not configured")
	}
	log.Warn("containerd runtime unavailable", "err", lastErr)
	return nil, lastErr
}

// Close releases the containerd client.
func (r *Runtime) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}

// ImageExists reports whether an image exists locally without pulling.
func (r *Runtime) ImageExists(ctx context.Context, image string) (bool, error) {
	if strings.TrimSpace(image) == "" {
		return false, errors.New("image is required")
	}
	ctx = namespaces.WithNamespace(ctx, r.namespace)
	if _, err := r.client.GetImage(ctx, image); err == nil {
		return true, nil
	} else if errdefs.IsNotFound(err) {
		return false, nil
	} else {
		return false, err
	}
}

// EnsureImage pulls the image if it is not available.
func (r *Runtime) EnsureImage(ctx context.Context, image string) error {
	log := r.logger(ctx).With("image", image)
	log.Info("containerd ensure image start")
	if _, err := r.ensureImage(ctx, image); err != nil {
		log.Warn("containerd ensure image failed", "err", err)
		return err
	}
	log.Info("containerd ensure image ok")
	return nil
}

func (r *Runtime) ensureImage(ctx context.Context, image string) (containerd.Image, error) {
	if strings.TrimSpace(image) == "" {
		return nil, errors.New("image is required")
	}
	log := r.logger(ctx).With("image", image)
	ctx = namespaces.WithNamespace(ctx, r.namespace)
	rootless := os.Geteuid() != 0
	img, err := r.client.GetImage(ctx, image)
	if err == nil {
		log.Debug("containerd image present")
		return img, nil
	}
	if !errdefs.IsNotFound(err) {
		return nil, err
	}
	pullCtx, cancel := context.WithTimeout(ctx, r.pullTimeout)
	defer cancel()
	log.Info("containerd image pull start", "rootless", rootless)
	if pulled, err := r.pullWithTransfer(pullCtx, image, !rootless); err == nil {
		log.Info("containerd image pull ok", "method", "transfer")
		return pulled, nil
	} else if rootless {
		return nil, fmt.Errorf("transfer pull failed: %w", err)
	}
	img, err = r.client.Pull(pullCtx, image, containerd.WithPullUnpack)
	if err != nil {
		return nil, err
	}
	log.Info("containerd image pull ok", "method", "pull")
	return img, nil
}

func (r *Runtime) pullWithTransfer(ctx context.Context, image string, unpack bool) (containerd.Image, error) {
	storeOpts := []transferimage.StoreOpt{}
	if unpack {
		storeOpts = append(storeOpts, transferimage.WithUnpack(platforms.DefaultSpec(), ""))
	}
	store := transferimage.NewStore(image, storeOpts...)
	reg, err := registry.NewOCIRegistry(ctx, image)
	if err != nil {
		return nil, err
	}
	if err := r.client.Transfer(ctx, reg, store); err != nil {
		return nil, err
	}
	return r.client.GetImage(ctx, image)
}

// Import loads an OCI tar into the image store under the given tags.
// Used to ship language images onto hosts without registry access.
func (r *Runtime) Import(ctx context.Context, tarPath string, tags []string) error {
	if strings.TrimSpace(tarPath) == "" {
		return errors.New("tar path is required")
	}
	log := r.logger(ctx).With("tar", tarPath)
	log.Info("containerd import start", "tags", len(tags))
	file, err := os.Open(tarPath)
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	ctx = namespaces.WithNamespace(ctx, r.namespace)
	imported, err := r.client.Import(ctx, file)
	if err != nil {
		log.Warn("containerd import failed", "err", err)
		return err
	}
	if len(imported) == 0 {
		return errors.New("import did not return any images")
	}
	existing := map[string]struct{}{}
	for _, img := range imported {
		if strings.TrimSpace(img.Name) != "" {
			existing[img.Name] = struct{}{}
		}
	}
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, ok := existing[tag]; ok {
			continue
		}
		if _, err := r.client.GetImage(ctx, tag); err == nil {
			continue
		} else if !errdefs.IsNotFound(err) {
			return err
		}
		if err := r.tagImage(ctx, tag, imported[0].Target); err != nil {
			log.Warn("containerd import tag failed", "err", err, "tag", tag)
			return err
		}
	}
	log.Info("containerd import ok", "images", len(imported))
	return nil
}

func (r *Runtime) tagImage(ctx context.Context, name string, target ocispec.Descriptor) error {
	if _, err := r.client.GetImage(ctx, name); err == nil {
		_, err = r.client.ImageService().Update(ctx, images.Image{Name: name, Target: target}, "target")
		return err
	} else if !errdefs.IsNotFound(err) {
		return err
	}
	_, err := r.client.ImageService().Create(ctx, images.Image{Name: name, Target: target})
	return err
}

// Run creates a container, runs it to completion, and deletes it with
// its snapshot. The container keeps a private network namespace with no
// interfaces configured, so submitted code has no network reach. On ctx
// cancellation the task is killed with SIGKILL and the ctx error is
// returned after cleanup.
func (r *Runtime) Run(ctx context.Context, spec sandbox.RunSpec) (sandbox.RunResult, error) {
	if strings.TrimSpace(spec.Name) == "" {
		return sandbox.RunResult{}, errors.New("container name is required")
	}
	if strings.TrimSpace(spec.Image) == "" {
		return sandbox.RunResult{}, errors.New("container image is required")
	}
	if len(spec.Command) == 0 {
		return sandbox.RunResult{}, errors.New("container command is required")
	}
	log := r.logger(ctx).With("container", spec.Name, "image", spec.Image)
	nsCtx := namespaces.WithNamespace(ctx, r.namespace)
	// Cleanup must run even when ctx is already cancelled.
	bgCtx := namespaces.WithNamespace(context.Background(), r.namespace)

	image, err := r.ensureImage(ctx, spec.Image)
	if err != nil {
		log.Warn("containerd run image failed", "err", err)
		return sandbox.RunResult{}, err
	}

	specOpts := []oci.SpecOpts{
		oci.WithImageConfig(image),
		oci.WithProcessArgs(spec.Command...),
		withResources(spec.Caps),
	}
	if spec.WorkingDir != "" {
		specOpts = append(specOpts, oci.WithProcessCwd(spec.WorkingDir))
	}
	if spec.Workspace.Source != "" {
		specOpts = append(specOpts, oci.WithMounts([]specs.Mount{workspaceMount(spec.Workspace)}))
	}
	container, err := r.client.NewContainer(nsCtx, spec.Name,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(spec.Name+"-snapshot", image),
		containerd.WithNewSpec(specOpts...),
	)
	if err != nil {
		log.Warn("containerd create failed", "err", err)
		return sandbox.RunResult{}, err
	}
	defer func() {
		if err := container.Delete(bgCtx, containerd.WithSnapshotCleanup); err != nil && !errdefs.IsNotFound(err) {
			log.Warn("containerd container delete failed", "err", err)
		}
	}()

	task, err := container.NewTask(nsCtx, cio.NewCreator(cio.WithStreams(nil, spec.Stdout, spec.Stderr)))
	if err != nil {
		log.Warn("containerd task create failed", "err", err)
		return sandbox.RunResult{}, err
	}
	defer func() {
		if _, err := task.Delete(bgCtx, containerd.WithProcessKill); err != nil && !errdefs.IsNotFound(err) {
			log.Warn("containerd task delete failed", "err", err)
		}
	}()

	waitCh, err := task.Wait(bgCtx)
	if err != nil {
		return sandbox.RunResult{}, err
	}
	started := time.Now()
	if err := task.Start(nsCtx); err != nil {
		log.Warn("containerd task start failed", "err", err)
		return sandbox.RunResult{}, err
	}
	log.Debug("containerd task started", "id", task.ID())

	select {
	case status := <-waitCh:
		code, _, err := status.Result()
		finished := time.Now()
		if err != nil {
			log.Warn("containerd run failed", "err", err)
			return sandbox.RunResult{}, err
		}
		log.Debug("containerd run finished", "exit_code", int(code), "duration_ms", finished.Sub(started).Milliseconds())
		return sandbox.RunResult{ExitCode: int(code), Started: started, Finished: finished}, nil
	case <-ctx.Done():
		log.Info("containerd run cancelled", "err", ctx.Err())
		_ = task.Kill(bgCtx, syscall.SIGKILL)
		select {
		case <-waitCh:
		case <-time.After(5 * time.Second):
		}
		return sandbox.RunResult{}, ctx.Err()
	}
}

func workspaceMount(mount sandbox.Mount) specs.Mount {
	opts := []string{"rbind"}
	if mount.ReadOnly {
		opts = append(opts, "ro")
	} else {
		opts = append(opts, "rw")
	}
	return specs.Mount{
		Type:        "bind",
		Source:      mount.Source,
		Destination: mount.Target,
		Options:     opts,
	}
}

func withResources(caps sandbox.ResourceCaps) oci.SpecOpts {
	return func(_ context.Context, _ oci.Client, _ *containers.Container, spec *specs.Spec) error {
		if spec.Linux == nil {
			spec.Linux = &specs.Linux{}
		}
		if spec.Linux.Resources == nil {
			spec.Linux.Resources = &specs.LinuxResources{}
		}
		if caps.MemoryBytes > 0 {
			spec.Linux.Resources.Memory = &specs.LinuxMemory{Limit: &caps.MemoryBytes}
		}
		if caps.NanoCPUs > 0 {
			period := uint64(100000)
			quota := caps.NanoCPUs * int64(period) / 1_000_000_000
			spec.Linux.Resources.CPU = &specs.LinuxCPU{Period: &period, Quota: &quota}
		}
		if caps.PidsLimit > 0 {
			spec.Linux.Resources.Pids = &specs.LinuxPids{Limit: caps.PidsLimit}
		}
		return nil
	}
}

func candidateAddresses(primary string, name string) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(addr string) {
		addr = normalizeAddress(addr)
		if addr == "" {
			return
		}
		if _, ok := seen[addr]; ok {
			return
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	add(primary)

	runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
	if runtimeDir != "" {
		add(filepath.Join(runtimeDir, name, name+".sock"))
	}
	userRunDir := filepath.Join("/run", "user", fmt.Sprintf("%d", os.Getuid()))
	if userRunDir != runtimeDir {
		add(filepath.Join(userRunDir, name, name+".sock"))
	}
	add(filepath.Join("/run", name, name+".sock"))
	return out
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return ""
	}
	addr = strings.TrimPrefix(addr, "unix://")
	addr = strings.TrimPrefix(addr, "unix:")
	return addr
}

func (r *Runtime) logger(ctx context.Context) pslog.Logger {
	return pslog.Ctx(ctx).With("runtime", "containerd")
}
