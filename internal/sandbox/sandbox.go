// Package sandbox runs an argv vector inside an isolated container (or, in
// stub mode, invokes the binary directly without a shell), enforcing an
// allowlist before the runtime is ever touched.
//
// Construction of the docker client mirrors the teacher pack's own Docker
// wiring (NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())),
// never a shelled-out "docker" binary.
package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	dockerclient "github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/boshu2/ambient/internal/ambtypes"
)

// Resources bounds a sandboxed run's memory, cpu, and pids.
type Resources struct {
	MemoryBytes int64
	CPUs        float64
	PidsLimit   int64
}

// Config describes how the sandbox admits and runs commands.
type Config struct {
	Image            string
	NetworkMode      string // expected "none"
	Resources        Resources
	RequireRuntime   bool
	StubMode         bool
	EnforceAllowlist bool
	RepoMountMode    string // "ro" or "rw"
	AllowedArgv      [][]string
	AllowedCommands  []*regexp.Regexp
}

// Runner executes argv vectors under Config against a repository root.
type Runner struct {
	cfg    Config
	client *dockerclient.Client
}

// NewRunner constructs a Runner. In stub mode no docker client is created.
func NewRunner(cfg Config) (*Runner, error) {
	r := &Runner{cfg: cfg}
	if cfg.StubMode {
		return r, nil
	}
	cli, err := dockerclient.NewClientWithOpts(dockerclient.FromEnv, dockerclient.WithAPIVersionNegotiation())
	if err != nil {
		if cfg.RequireRuntime {
			return nil, fmt.Errorf("sandbox: docker client: %w", err)
		}
		return r, nil
	}
	r.client = cli
	return r, nil
}

var disallowedArgvChars = []string{"\n", "\r", "\x00"}

// Run executes argv with env overrides inside the sandbox, honoring
// allowlist enforcement and the container hardening contract from §4.4.
func (r *Runner) Run(ctx context.Context, repoRoot string, argv []string, timeout time.Duration, env map[string]string) ambtypes.RunArgvResult {
	start := time.Now()

	for _, a := range argv {
		for _, bad := range disallowedArgvChars {
			if strings.Contains(a, bad) {
				return ambtypes.RunArgvResult{
					Argv: argv, ExitCode: 126, Rejected: true,
					RejectReason: "argv element contains newline, carriage return, or NUL",
					Duration:     time.Since(start),
				}
			}
		}
	}

	if r.cfg.EnforceAllowlist {
		if ok, reason := r.checkAllowlist(argv); !ok {
			return ambtypes.RunArgvResult{Argv: argv, ExitCode: 126, Rejected: true, RejectReason: reason, Duration: time.Since(start)}
		}
	}

	if r.cfg.StubMode || r.client == nil {
		return r.runStub(ctx, argv, timeout, env, start)
	}
	return r.runContainer(ctx, repoRoot, argv, timeout, env, start)
}

// checkAllowlist enforces fail-closed admission: an empty allowlist with
// enforcement on rejects every call. Prefix-equality is checked against
// AllowedArgv; the legacy shell-joined regex match is checked against
// AllowedCommands.
func (r *Runner) checkAllowlist(argv []string) (bool, string) {
	if len(r.cfg.AllowedArgv) == 0 && len(r.cfg.AllowedCommands) == 0 {
		return false, "empty allowlist"
	}
	for _, allowed := range r.cfg.AllowedArgv {
		if argvHasPrefix(argv, allowed) {
			return true, ""
		}
	}
	joined := strings.Join(argv, " ")
	for _, re := range r.cfg.AllowedCommands {
		if re.MatchString(joined) {
			return true, ""
		}
	}
	return false, "argv does not match any allowlist entry"
}

func argvHasPrefix(argv, prefix []string) bool {
	if len(prefix) > len(argv) {
		return false
	}
	for i, p := range prefix {
		if argv[i] != p {
			return false
		}
	}
	return true
}

func (r *Runner) runStub(ctx context.Context, argv []string, timeout time.Duration, env map[string]string, start time.Time) ambtypes.RunArgvResult {
	if len(argv) == 0 {
		return ambtypes.RunArgvResult{Argv: argv, ExitCode: 126, Rejected: true, RejectReason: "empty argv", Duration: time.Since(start)}
	}
	if _, err := exec.LookPath(argv[0]); err != nil {
		return ambtypes.RunArgvResult{Argv: argv, ExitCode: 127, Stderr: "runtime missing: " + argv[0], Duration: time.Since(start)}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = os.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()

	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = 1
		}
	}
	return ambtypes.RunArgvResult{
		Argv: argv, ExitCode: exitCode, Stdout: stdout.String(), Stderr: stderr.String(),
		Duration: time.Since(start),
	}
}

// runContainer runs argv inside a hardened, ephemeral container: no
// network, dropped capabilities, no-new-privileges, read-only root
// filesystem, noexec tmpfs at /tmp and /var/tmp, bounded resources, repo
// mounted per RepoMountMode, HOME=/tmp.
func (r *Runner) runContainer(ctx context.Context, repoRoot string, argv []string, timeout time.Duration, env map[string]string, start time.Time) ambtypes.RunArgvResult {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	mounts := []mount.Mount{
		{
			Type:     mount.TypeBind,
			Source:   repoRoot,
			Target:   "/workspace",
			ReadOnly: r.cfg.RepoMountMode != "rw",
		},
		{Type: mount.TypeTmpfs, Target: "/tmp", TmpfsOptions: &mount.TmpfsOptions{Options: []string{"noexec"}}},
		{Type: mount.TypeTmpfs, Target: "/var/tmp", TmpfsOptions: &mount.TmpfsOptions{Options: []string{"noexec"}}},
	}
	if mainGitDir, ok := resolveWorktreeGitDir(repoRoot); ok {
		mounts = append(mounts, mount.Mount{Type: mount.TypeBind, Source: mainGitDir, Target: mainGitDir, ReadOnly: true})
	}

	envList := []string{"HOME=/tmp", "XDG_CACHE_HOME=/tmp/.cache"}
	for k, v := range env {
		envList = append(envList, k+"="+v)
	}

	hostConfig := &container.HostConfig{
		NetworkMode:    "none",
		CapDrop:        []string{"ALL"},
		SecurityOpt:    []string{"no-new-privileges"},
		ReadonlyRootfs: true,
		Mounts:         mounts,
		Resources: container.Resources{
			Memory:    r.cfg.Resources.MemoryBytes,
			NanoCPUs:  int64(r.cfg.Resources.CPUs * 1e9),
			PidsLimit: &r.cfg.Resources.PidsLimit,
		},
	}
	containerConfig := &container.Config{
		Image:      r.cfg.Image,
		Cmd:        argv,
		Env:        envList,
		WorkingDir: "/workspace",
	}

	created, err := r.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, "")
	if err != nil {
		return ambtypes.RunArgvResult{Argv: argv, ExitCode: 127, Stderr: "container create failed: " + err.Error(), Duration: time.Since(start)}
	}
	defer func() {
		_ = r.client.ContainerRemove(context.Background(), created.ID, dockerContainerRemoveOptions())
	}()

	if err := r.client.ContainerStart(ctx, created.ID, dockerContainerStartOptions()); err != nil {
		return ambtypes.RunArgvResult{Argv: argv, ExitCode: 127, Stderr: "container start failed: " + err.Error(), Duration: time.Since(start)}
	}

	statusCh, errCh := r.client.ContainerWait(ctx, created.ID, "")
	var exitCode int64
	select {
	case err := <-errCh:
		if err != nil {
			return ambtypes.RunArgvResult{Argv: argv, ExitCode: 1, Stderr: err.Error(), Duration: time.Since(start)}
		}
	case status := <-statusCh:
		exitCode = status.StatusCode
	}

	logs, _ := r.client.ContainerLogs(ctx, created.ID, dockerContainerLogsOptions())
	var stdout, stderr bytes.Buffer
	if logs != nil {
		_, _ = stdcopy.StdCopy(&stdout, &stderr, logs)
		_ = logs.Close()
	}

	return ambtypes.RunArgvResult{
		Argv: argv, ExitCode: int(exitCode), Stdout: stdout.String(), Stderr: stderr.String(),
		Duration: time.Since(start),
	}
}

// resolveWorktreeGitDir checks whether repoRoot's .git is a worktree
// pointer file ("gitdir: …") and, if so, returns the referenced main git
// directory so version-control commands inside the sandbox resolve.
func resolveWorktreeGitDir(repoRoot string) (string, bool) {
	gitPath := filepath.Join(repoRoot, ".git")
	info, err := os.Stat(gitPath)
	if err != nil || info.IsDir() {
		return "", false
	}
	data, err := os.ReadFile(gitPath)
	if err != nil {
		return "", false
	}
	content := strings.TrimSpace(string(data))
	const prefix = "gitdir: "
	if !strings.HasPrefix(content, prefix) {
		return "", false
	}
	return strings.TrimPrefix(content, prefix), true
}

// DoctorProbe is one preflight check's outcome.
type DoctorProbe struct {
	Name string
	OK   bool
	Exit int
	Msg  string
}

// Doctor runs a fixed probe list with allowlist enforcement disabled,
// since probes validate the sandbox itself rather than user policy.
func (r *Runner) Doctor(ctx context.Context, repoRoot string, probes [][]string) []DoctorProbe {
	disabled := r.cfg
	disabled.EnforceAllowlist = false
	probeRunner := &Runner{cfg: disabled, client: r.client}

	results := make([]DoctorProbe, 0, len(probes))
	for _, argv := range probes {
		res := probeRunner.Run(ctx, repoRoot, argv, 10*time.Second, nil)
		results = append(results, DoctorProbe{
			Name: strings.Join(argv, " "),
			OK:   res.ExitCode == 0,
			Exit: res.ExitCode,
			Msg:  firstNonEmpty(res.Stderr, res.Stdout),
		})
	}
	return results
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return a
	}
	return b
}

func dockerContainerRemoveOptions() container.RemoveOptions {
	return container.RemoveOptions{Force: true}
}

func dockerContainerStartOptions() container.StartOptions {
	return container.StartOptions{}
}

func dockerContainerLogsOptions() container.LogsOptions {
	return container.LogsOptions{ShowStdout: true, ShowStderr: true}
}
