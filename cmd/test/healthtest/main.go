package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	flags "github.com/jessevdk/go-flags"
)

type flagOptions struct {
	Port        int `long:"port" default:"8765" description:"port to serve /health on"`
	StartDelay  int `long:"start-delay" description:"seconds before /health reports healthy (debug feature)"`
	RunDuration int `long:"run-duration" description:"Duration in seconds to run (debug feature)"`
	ExitCode    int `long:"exit-code" description:"exit immediately with this code (debug feature)"`
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

	fmt.Printf("Running Healthtest, opts: %+v...\n", opts)

	if opts.ExitCode != 0 {
		fmt.Printf("Exiting with code %d\n", opts.ExitCode)
		os.Exit(opts.ExitCode)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if opts.RunDuration > 0 {
		fmt.Printf("Using RUN DURATION of %d seconds\n", opts.RunDuration)
		ctx, cancel = context.WithTimeout(ctx, time.Duration(opts.RunDuration)*time.Second)
		defer cancel()
	}

	readyAt := time.Now().Add(time.Duration(opts.StartDelay) * time.Second)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.GET("/health", func(c *gin.Context) {
		if time.Now().Before(readyAt) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "starting"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "healthtest on port %d\n", opts.Port)
	})

	server := &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", opts.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("Healthtest server failed: %v\n", err)
			os.Exit(2)
		}
	}()

	// Enable signal handling
	sig := make(chan os.Signal, 1)
	if runtime.GOOS == "windows" {
		signal.Notify(sig) // Unix signals not implemented on Windows
	} else {
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	}

	fmt.Printf("Healthtest is listening on %s\n", server.Addr)

	select {
	case receivedSignal := <-sig:
		fmt.Printf("Healthtest received signal: %v\n", receivedSignal)
	case <-ctx.Done():
		fmt.Printf("Healthtest timed out\n")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer shutdownCancel()
	server.Shutdown(shutdownCtx)

	fmt.Printf("Healthtest stopped\n")
}
