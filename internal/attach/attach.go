// Package attach finds the connector address of a JVM running on this host, given its
// process id.
package attach

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"

	internalerrors "github.com/jmxtrans/jmxtrans-sub000/internal/errors"
)

// DefaultJolokiaPort is the port the Jolokia JVM agent listens on when none is given.
const DefaultJolokiaPort = 8778

const jmxRemotePortFlag = "-Dcom.sun.management.jmxremote.port="

var printedURL = regexp.MustCompile(`(https?://\S+|service:jmx:\S+)`)

// CmdlineFunc returns the command line arguments of a process.
type CmdlineFunc func(ctx context.Context, pid int32) ([]string, error)

// RunFunc runs a command and returns its combined output.
type RunFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

// Resolver resolves process ids to connector addresses. It first looks for an agent the
// process already runs, and otherwise starts the Jolokia agent in it with the
// configured agent jar.
type Resolver struct {
	agentJar string
	javaBin  string
	cmdline  CmdlineFunc
	run      RunFunc
	logger   *zap.SugaredLogger
}

func NewResolver(agentJar string, logger *zap.SugaredLogger) *Resolver {
	return &Resolver{
		agentJar: agentJar,
		javaBin:  "java",
		cmdline:  processCmdline,
		run:      runCommand,
		logger:   logger,
	}
}

// WithCmdline replaces the process inspection used by the resolver.
func (r *Resolver) WithCmdline(f CmdlineFunc) *Resolver {
	r.cmdline = f
	return r
}

// WithRun replaces the command runner used to start the agent.
func (r *Resolver) WithRun(f RunFunc) *Resolver {
	r.run = f
	return r
}

// ConnectorAddress returns the URL to reach the JVM with process id pid.
func (r *Resolver) ConnectorAddress(ctx context.Context, pid string) (string, error) {
	n, err := strconv.ParseInt(pid, 10, 32)
	if err != nil || n <= 0 {
		return "", fmt.Errorf("%w: invalid pid %q", internalerrors.ErrAttach, pid)
	}
	args, err := r.cmdline(ctx, int32(n))
	if err != nil {
		return "", fmt.Errorf("%w: reading command line of %s: %w", internalerrors.ErrAttach, pid, err)
	}

	if address, ok := FromCmdline(args); ok {
		r.logger.Debugw("found running agent", "pid", pid, "address", address)
		return address, nil
	}

	if r.agentJar == "" {
		return "", fmt.Errorf("%w: process %s exposes no connector and no agent jar is configured",
			internalerrors.ErrAttach, pid)
	}
	out, err := r.run(ctx, r.javaBin, "-jar", r.agentJar, "start", pid)
	if err != nil {
		return "", fmt.Errorf("%w: starting agent in %s: %w: %s", internalerrors.ErrAttach, pid, err, out)
	}
	address := printedURL.FindString(string(out))
	if address == "" {
		return "", fmt.Errorf("%w: agent started in %s printed no address: %q", internalerrors.ErrAttach, pid, out)
	}
	r.logger.Infow("agent attached", "pid", pid, "address", address)
	return address, nil
}

// FromCmdline looks for a Jolokia java agent or a JMX remote port in the JVM arguments.
func FromCmdline(args []string) (string, bool) {
	for _, arg := range args {
		if !strings.HasPrefix(arg, "-javaagent:") || !strings.Contains(arg, "jolokia") {
			continue
		}
		host, port := "127.0.0.1", strconv.Itoa(DefaultJolokiaPort)
		if i := strings.IndexByte(arg, '='); i >= 0 {
			for _, opt := range strings.Split(arg[i+1:], ",") {
				k, v, _ := strings.Cut(opt, "=")
				switch k {
				case "port":
					port = v
				case "host":
					if v != "" && v != "*" && v != "0.0.0.0" {
						host = v
					}
				}
			}
		}
		return fmt.Sprintf("http://%s:%s/jolokia/", host, port), true
	}
	for _, arg := range args {
		if port, ok := strings.CutPrefix(arg, jmxRemotePortFlag); ok && port != "" {
			return fmt.Sprintf("service:jmx:rmi:///jndi/rmi://localhost:%s/jmxrmi", port), true
		}
	}
	return "", false
}

func processCmdline(ctx context.Context, pid int32) ([]string, error) {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return nil, err
	}
	return p.CmdlineSliceWithContext(ctx)
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}
