// Copyright 2025 Joseph Cumines
//
// Developer tool process management

package automator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// DefaultPort is the automation port used when none is configured.
const DefaultPort = 9420

// LaunchOptions configures StartDevTool.
//
//lint:ignore BETTERALIGN struct is intentionally ordered for clarity
type LaunchOptions struct {
	// ProjectPath is the mini-program project directory. Required.
	ProjectPath string
	// CLIPath is the developer tool CLI. Defaults to DefaultCLIPath().
	CLIPath string
	// Port is the automation port. Defaults to DefaultPort.
	Port int
	// Account is the openid of the test account to run as.
	Account string
	// ProjectConfig is merged over project.config.json before launch.
	ProjectConfig *structpb.Struct
	// Ticket is the developer tool login ticket.
	Ticket string
}

// DefaultCLIPath returns the developer tool CLI location for the host platform.
func DefaultCLIPath() string {
	switch runtime.GOOS {
	case "windows":
		return `C:/Program Files (x86)/Tencent/微信web开发者工具/cli.bat`
	default:
		return "/Applications/wechatwebdevtools.app/Contents/MacOS/cli"
	}
}

// Endpoint returns the WebSocket address of the automation port.
func Endpoint(port int) string {
	if port <= 0 {
		port = DefaultPort
	}
	return "ws://localhost:" + strconv.Itoa(port)
}

// Args returns the CLI arguments that open the project in automation mode.
func (o LaunchOptions) Args() []string {
	port := o.Port
	if port <= 0 {
		port = DefaultPort
	}
	args := []string{"auto", "--project", o.ProjectPath, "--auto-port", strconv.Itoa(port)}
	if o.Account != "" {
		args = append(args, "--auto-account", o.Account)
	}
	if o.Ticket != "" {
		args = append(args, "--ticket", o.Ticket)
	}
	return args
}

// StartDevTool runs the developer tool CLI in automation mode and waits for it to
// exit. The CLI returns once the IDE has opened the project; the automation port
// may take longer to accept connections.
func StartDevTool(ctx context.Context, opts LaunchOptions) error {
	if opts.ProjectPath == "" {
		return status.Error(codes.InvalidArgument, "project path is required")
	}
	projectPath, err := filepath.Abs(opts.ProjectPath)
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "invalid project path %q: %v", opts.ProjectPath, err)
	}
	opts.ProjectPath = projectPath

	if opts.ProjectConfig != nil && len(opts.ProjectConfig.GetFields()) > 0 {
		if err := MergeProjectConfig(projectPath, opts.ProjectConfig); err != nil {
			return err
		}
	}

	cli := opts.CLIPath
	if cli == "" {
		cli = DefaultCLIPath()
	}

	cmd := exec.CommandContext(ctx, cli, opts.Args()...)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return status.FromContextError(ctxErr).Err()
		}
		return status.Errorf(codes.Unavailable, "failed to start developer tool %s: %v", cli, err)
	}
	return nil
}

// MergeProjectConfig shallow-merges overrides into <projectPath>/project.config.json,
// creating the file when it does not exist.
func MergeProjectConfig(projectPath string, overrides *structpb.Struct) error {
	path := filepath.Join(projectPath, "project.config.json")

	merged := map[string]any{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &merged); err != nil {
			return status.Errorf(codes.FailedPrecondition, "failed to parse %s: %v", path, err)
		}
	case os.IsNotExist(err):
	default:
		return status.Errorf(codes.FailedPrecondition, "failed to read %s: %v", path, err)
	}

	for k, v := range overrides.AsMap() {
		merged[k] = v
	}

	out, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode project config: %w", err)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return status.Errorf(codes.FailedPrecondition, "failed to write %s: %v", path, err)
	}
	return nil
}
