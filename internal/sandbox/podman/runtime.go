// Package podman runs sandbox containers through Podman's HTTP API.
package podman

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"pkt.systems/coderoom/internal/sandbox"
	"pkt.systems/pslog"
)

// Config configures the Podman runtime.
type Config struct {
	Address     string
	UserNSMode  string
	PullTimeout time.Duration
}

// Runtime implements sandbox.Runtime using Podman's HTTP API.
type Runtime struct {
	client      *client
	pullTimeout time.Duration
	usernsMode  string
}

// New constructs a Podman runtime, trying fallback socket paths if needed.
func New(ctx context.Context, cfg Config) (*Runtime, error) {
	log := pslog.Ctx(ctx).With("runtime", "podman")
	addresses := candidateAddresses(cfg.Address)
	var lastErr error
	for _, addr := range addresses {
		log.Debug("podman connect attempt", "address", addr)
		cl, err := newClient(addr)
		if err != nil {
			log.Warn("podman connect failed", "address", addr, "err", err)
			lastErr = err
			continue
		}
		if err := cl.ping(ctx); err != nil {
			log.Warn("podman ping failed", "address", addr, "err", err)
			lastErr = err
			continue
		}
		timeout := cfg.PullTimeout
		if timeout == 0 {
			timeout = 5 * time.Minute
		}
		log.Info("podman runtime ready", "address", addr)
		return &Runtime{
			client:      cl,
			pullTimeout: timeout,
			usernsMode:  strings.TrimSpace(cfg.UserNSMode),
		}, nil
	}
	if lastErr == nil {
		lastErr = errors.New("podman address not configured")
	}
	log.Warn("podman runtime unavailable", "err", lastErr)
	return nil, lastErr
}

// Close releases any resources held by the runtime.
func (r *Runtime) Close() error { return nil }

// ImageExists reports whether an image exists locally without pulling.
func (r *Runtime) ImageExists(ctx context.Context, image string) (bool, error) {
	image = strings.TrimSpace(image)
	if image == "" {
		return false, errors.New("image is required")
	}
	res, err := r.client.do(ctx, "GET", fmt.Sprintf("/libpod/images/%s/exists", escapeImagePath(image)), nil, nil, "")
	if err != nil {
		return false, err
	}
	defer func() { _ = res.Body.Close() }()
	if res.StatusCode == 404 {
		return false, nil
	}
	if res.StatusCode >= 300 {
		return false, readAPIError(res)
	}
	return true, nil
}

// EnsureImage pulls the image if it is not available.
func (r *Runtime) EnsureImage(ctx context.Context, image string) error {
	log := r.logger(ctx).With("image", image)
	log.Info("podman ensure image start")
	ok, err := r.ImageExists(ctx, image)
	if err != nil {
		log.Warn("podman ensure image failed", "err", err)
		return err
	}
	if ok {
		log.Info("podman ensure image ok")
		return nil
	}
	pullCtx, cancel := context.WithTimeout(ctx, r.pullTimeout)
	defer cancel()
	query := url.Values{}
	name, tag := splitImageRef(image)
	query.Set("fromImage", name)
	if tag != "" {
		query.Set("tag", tag)
	}
	res, err := r.client.do(pullCtx, "POST", "/images/create", query, nil, "")
	if err != nil {
		log.Warn("podman image pull failed", "err", err)
		return err
	}
	defer func() { _ = res.Body.Close() }()
	if res.StatusCode >= 300 {
		log.Warn("podman image pull failed", "status", res.StatusCode)
		return readAPIError(res)
	}
	_, _ = io.Copy(io.Discard, res.Body)
	log.Info("podman ensure image ok")
	return nil
}

// Run creates a container, starts it, waits for it to exit, copies its
// logs into the spec writers, and removes it. The container joins the
// "none" network. On ctx cancellation the container is killed with
// SIGKILL, removed, and the ctx error is returned.
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

	id, err := r.createContainer(ctx, spec)
	if err != nil {
		log.Warn("podman create failed", "err", err)
		return sandbox.RunResult{}, err
	}
	// Removal must run even when ctx is already cancelled.
	defer r.removeContainer(context.Background(), log, id)

	started := time.Now()
	if err := r.startContainer(ctx, id); err != nil {
		log.Warn("podman start failed", "err", err)
		return sandbox.RunResult{}, err
	}
	log.Debug("podman container started", "id", id)

	code, err := r.waitContainer(ctx, id)
	if err != nil {
		log.Info("podman run cancelled", "err", err)
		r.killContainer(context.Background(), log, id)
		// Output produced before the kill is still worth reporting.
		logCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if copyErr := r.copyLogs(logCtx, id, spec.Stdout, spec.Stderr); copyErr != nil {
			log.Warn("podman log copy failed", "err", copyErr)
		}
		cancel()
		return sandbox.RunResult{}, err
	}
	finished := time.Now()
	if err := r.copyLogs(ctx, id, spec.Stdout, spec.Stderr); err != nil {
		log.Warn("podman log copy failed", "err", err)
	}
	log.Debug("podman run finished", "exit_code", code, "duration_ms", finished.Sub(started).Milliseconds())
	return sandbox.RunResult{ExitCode: code, Started: started, Finished: finished}, nil
}

func (r *Runtime) createContainer(ctx context.Context, spec sandbox.RunSpec) (string, error) {
	hostConfig := map[string]any{
		"NetworkMode": "none",
	}
	if r.usernsMode != "" {
		hostConfig["UsernsMode"] = r.usernsMode
	}
	if spec.Caps.MemoryBytes > 0 {
		hostConfig["Memory"] = spec.Caps.MemoryBytes
	}
	if spec.Caps.NanoCPUs > 0 {
		hostConfig["NanoCpus"] = spec.Caps.NanoCPUs
	}
	if spec.Caps.PidsLimit > 0 {
		hostConfig["PidsLimit"] = spec.Caps.PidsLimit
	}
	if spec.Workspace.Source != "" {
		bind := fmt.Sprintf("%s:%s", spec.Workspace.Source, spec.Workspace.Target)
		if spec.Workspace.ReadOnly {
			bind += ":ro"
		}
		hostConfig["Binds"] = []string{bind}
	}
	req := map[string]any{
		"Image":      spec.Image,
		"Cmd":        spec.Command,
		"WorkingDir": spec.WorkingDir,
		"HostConfig": hostConfig,
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	query := url.Values{}
	query.Set("name", spec.Name)
	res, err := r.client.do(ctx, "POST", "/containers/create", query, bytes.NewReader(payload), "application/json")
	if err != nil {
		return "", err
	}
	defer func() { _ = res.Body.Close() }()
	if res.StatusCode >= 300 {
		return "", readAPIError(res)
	}
	var created createResponse
	if err := json.NewDecoder(res.Body).Decode(&created); err != nil {
		return "", err
	}
	if created.ID == "" {
		return "", errors.New("podman create did not return container id")
	}
	return created.ID, nil
}

func (r *Runtime) startContainer(ctx context.Context, id string) error {
	res, err := r.client.do(ctx, "POST", fmt.Sprintf("/containers/%s/start", url.PathEscape(id)), nil, nil, "")
	if err != nil {
		return err
	}
	defer func() { _ = res.Body.Close() }()
	if res.StatusCode == 304 {
		return nil
	}
	if res.StatusCode >= 300 {
		return readAPIError(res)
	}
	return nil
}

func (r *Runtime) waitContainer(ctx context.Context, id string) (int, error) {
	query := url.Values{}
	query.Set("condition", "not-running")
	res, err := r.client.do(ctx, "POST", fmt.Sprintf("/containers/%s/wait", url.PathEscape(id)), query, nil, "")
	if err != nil {
		// The transport surfaces ctx cancellation as a url.Error.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return -1, ctxErr
		}
		return -1, err
	}
	defer func() { _ = res.Body.Close() }()
	if res.StatusCode >= 300 {
		return -1, readAPIError(res)
	}
	var wait waitResponse
	if err := json.NewDecoder(res.Body).Decode(&wait); err != nil {
		return -1, err
	}
	if wait.Error != nil && wait.Error.Message != "" {
		return -1, errors.New(wait.Error.Message)
	}
	return wait.StatusCode, nil
}

func (r *Runtime) killContainer(ctx context.Context, log pslog.Logger, id string) {
	query := url.Values{}
	query.Set("signal", "SIGKILL")
	res, err := r.client.do(ctx, "POST", fmt.Sprintf("/containers/%s/kill", url.PathEscape(id)), query, nil, "")
	if err != nil {
		log.Warn("podman kill failed", "err", err)
		return
	}
	defer func() { _ = res.Body.Close() }()
	if res.StatusCode >= 300 && res.StatusCode != 404 && res.StatusCode != 409 {
		log.Warn("podman kill failed", "status", res.StatusCode)
	}
}

func (r *Runtime) removeContainer(ctx context.Context, log pslog.Logger, id string) {
	query := url.Values{}
	query.Set("force", "true")
	res, err := r.client.do(ctx, "DELETE", fmt.Sprintf("/containers/%s", url.PathEscape(id)), query, nil, "")
	if err != nil {
		log.Warn("podman remove failed", "err", err)
		return
	}
	defer func() { _ = res.Body.Close() }()
	if res.StatusCode >= 300 && res.StatusCode != 404 {
		log.Warn("podman remove failed", "status", res.StatusCode)
	}
}

func (r *Runtime) copyLogs(ctx context.Context, id string, stdout, stderr io.Writer) error {
	query := url.Values{}
	query.Set("follow", "0")
	query.Set("since", "0")
	query.Set("stdout", "1")
	query.Set("stderr", "1")
	res, err := r.client.do(ctx, "GET", fmt.Sprintf("/containers/%s/logs", url.PathEscape(id)), query, nil, "")
	if err != nil {
		return err
	}
	defer func() { _ = res.Body.Close() }()
	if res.StatusCode >= 300 {
		return readAPIError(res)
	}
	return copyDockerStream(res.Body, stdout, stderr)
}

func (r *Runtime) logger(ctx context.Context) pslog.Logger {
	return pslog.Ctx(ctx).With("runtime", "podman")
}

// copyDockerStream demultiplexes the 8-byte-header log stream format.
func copyDockerStream(r io.Reader, stdout, stderr io.Writer) error {
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}
	header := make([]byte, 8)
	for {
		if _, err := io.ReadFull(r, header); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return err
		}
		size := binary.BigEndian.Uint32(header[4:8])
		if size == 0 {
			continue
		}
		var dst io.Writer
		switch header[0] {
		case 1:
			dst = stdout
		case 2:
			dst = stderr
		default:
			dst = stdout
		}
		if _, err := io.CopyN(dst, r, int64(size)); err != nil {
			return err
		}
	}
}

func splitImageRef(image string) (string, string) {
	image = strings.TrimSpace(image)
	if image == "" {
		return "", ""
	}
	if strings.Contains(image, "@") {
		return image, ""
	}
	lastSlash := strings.LastIndex(image, "/")
	lastColon := strings.LastIndex(image, ":")
	if lastColon > lastSlash {
		return image[:lastColon], image[lastColon+1:]
	}
	return image, ""
}
