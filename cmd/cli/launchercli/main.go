package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	sprintfLogging "github.com/core-tools/hsu-core/pkg/logging/sprintf"

	coreControl "github.com/core-tools/hsu-core/pkg/control"
	coreDomain "github.com/core-tools/hsu-core/pkg/domain"
	coreLogging "github.com/core-tools/hsu-core/pkg/logging"

	launcherControl "github.com/core-tools/hsu-launcher/pkg/control"
	"github.com/core-tools/hsu-launcher/pkg/domain"
	"github.com/core-tools/hsu-launcher/pkg/errors"
	launcherLogging "github.com/core-tools/hsu-launcher/pkg/logging"

	flags "github.com/jessevdk/go-flags"
)

type flagOptions struct {
	ServerPath string `long:"server" description:"path to the launcher executable"`
	AttachPort int    `long:"port" description:"control port of a running launcher"`
	Timeout    int    `long:"timeout" default:"150" description:"request timeout in seconds"`
	Args       struct {
		Command string   `positional-arg-name:"command" description:"status | list | launch <id> | stop <id>"`
		Rest    []string `positional-arg-name:"args"`
	} `positional-args:"yes"`
}

func logPrefix(module string) string {
	return fmt.Sprintf("module: %s-client , ", module)
}

func main() {
	var opts flagOptions
	var argv []string = os.Args[1:]
	var parser = flags.NewParser(&opts, flags.HelpFlag)
	var err error
	_, err = parser.ParseArgs(argv)
	if err != nil {
		fmt.Printf("Command line flags parsing failed: %v\n", err)
		os.Exit(1)
	}

	logger := sprintfLogging.NewStdSprintfLogger()

	logger.Debugf("opts: %+v", opts)

	if opts.ServerPath == "" && opts.AttachPort == 0 {
		fmt.Println("Server path or attach port is required")
		os.Exit(1)
	}
	if opts.Args.Command == "" {
		opts.Args.Command = "status"
	}

	coreLogger := coreLogging.NewLogger(
		logPrefix("hsu-core"), coreLogging.LogFuncs{
			Debugf: logger.Debugf,
			Infof:  logger.Infof,
			Warnf:  logger.Warnf,
			Errorf: logger.Errorf,
		})
	launcherLogger := launcherLogging.NewLogger(
		logPrefix("hsu-launcher"), launcherLogging.LogFuncs{
			Debugf: logger.Debugf,
			Infof:  logger.Infof,
			Warnf:  logger.Warnf,
			Errorf: logger.Errorf,
		})

	coreConnectionOptions := coreControl.ConnectionOptions{
		ServerPath: opts.ServerPath,
		AttachPort: opts.AttachPort,
	}
	coreConnection, err := coreControl.NewConnection(coreConnectionOptions, coreLogger)
	if err != nil {
		logger.Errorf("Failed to create core connection: %v", err)
		os.Exit(1)
	}

	coreClientGateway := coreControl.NewGRPCClientGateway(coreConnection.GRPC(), coreLogger)
	launcherClientGateway := launcherControl.NewGRPCClientGateway(coreConnection.GRPC(), launcherLogger)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(opts.Timeout)*time.Second)
	defer cancel()

	retryPingOptions := coreDomain.RetryPingOptions{
		RetryAttempts: 10,
		RetryInterval: 1 * time.Second,
	}
	err = coreDomain.RetryPing(ctx, coreClientGateway, retryPingOptions, coreLogger)
	if err != nil {
		logger.Errorf("Failed to ping launcher: %v", err)
		os.Exit(1)
	}

	if err := runCommand(ctx, launcherClientGateway, opts.Args.Command, opts.Args.Rest); err != nil {
		fmt.Printf("Error: %s\n", errors.MessageOf(err))
		os.Exit(1)
	}
}

func runCommand(ctx context.Context, client domain.Contract, command string, args []string) error {
	switch command {
	case "status":
		status, err := client.Status(ctx)
		if err != nil {
			return err
		}
		fmt.Println(status)

	case "list":
		apps, err := client.ListApps(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("%-20s %-10s %s\n", "ID", "STATUS", "MESSAGE")
		for _, app := range apps {
			fmt.Printf("%-20s %-10s %s\n", app.ID, app.Status, app.Message)
		}

	case "launch", "stop":
		if len(args) != 1 {
			return errors.NewValidationError(command+" requires exactly one app id", nil)
		}
		call := client.Launch
		if command == "stop" {
			call = client.Stop
		}
		result, err := call(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s: %s\n", result.Status, result.Message)
		if len(result.OpenURLs) > 0 {
			fmt.Printf("open: %s\n", strings.Join(result.OpenURLs, " "))
		}
		if !result.Succeeded() {
			return errors.NewProcessError(result.Message, nil)
		}

	default:
		return errors.NewValidationError("unknown command: "+command, nil)
	}
	return nil
}
