// main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/petervdpas/onair/internal/app"
	"github.com/petervdpas/onair/internal/config"
	"github.com/petervdpas/onair/internal/util"
)

var (
	showHelp = flag.Bool("h", false, "Show help")
	version  = flag.Bool("version", false, "Show version")
	openWeb  = flag.Bool("open", false, "Open the dashboard in the default browser")
)

// appVersion is set at build time via -ldflags "-X main.appVersion=x.y.z"
var appVersion = "dev"

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("OnAir v%s\n", appVersion)
		return
	}

	if *showHelp {
		showUsage()
		return
	}

	dirArg := "."
	if args := flag.Args(); len(args) > 0 {
		dirArg = args[0]
	}

	absDir, err := filepath.Abs(dirArg)
	if err != nil {
		log.Fatalf("Invalid studio directory: %v", err)
	}
	if err := os.MkdirAll(absDir, 0o755); err != nil {
		log.Fatalf("Create studio directory: %v", err)
	}

	cfgPath := filepath.Join(absDir, "onair.json")
	cfg, created, err := config.Ensure(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if created {
		fmt.Printf("Created default config: %s\n", cfgPath)
	}

	printBanner(absDir, cfgPath, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		log.Println("\nShutting down gracefully...")
		cancel()
	}()

	if *openWeb && cfg.Viewer.HTTPAddr != "" {
		_, url, tcpAddr := app.NormalizeLocalViewer(cfg.Viewer.HTTPAddr)
		go func() {
			if err := app.WaitTCP(tcpAddr, 10*time.Second); err == nil {
				_ = util.OpenURL(url)
			}
		}()
	}

	if err := app.Run(ctx, app.Options{
		Dir:     absDir,
		CfgPath: cfgPath,
		Cfg:     cfg,
	}); err != nil {
		log.Fatalf("Studio failed: %v", err)
	}
}

func showUsage() {
	fmt.Println("OnAir - live call-in show studio")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  onair [directory]")
	fmt.Println()
	fmt.Println("  Runs the studio from the given directory (default: current).")
	fmt.Println("  The directory holds onair.json and the call archive; a default")
	fmt.Println("  config is written on first run.")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -h        Show this help message")
	fmt.Println("  -version  Show version information")
	fmt.Println("  -open     Open the dashboard in the default browser")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  # Run from the current directory")
	fmt.Println("  onair")
	fmt.Println()
	fmt.Println("  # Run a dedicated studio folder and open the dashboard")
	fmt.Println("  onair -open ./studios/drivetime")
}

func printBanner(dir, cfgPath string, cfg config.Config) {
	fmt.Println("╔════════════════════════════════════════════════════════╗")
	fmt.Println("║                    OnAir Studio Runner                 ║")
	fmt.Println("╚════════════════════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("Studio Directory: %s\n", dir)
	fmt.Printf("Config File:      %s\n", cfgPath)
	fmt.Println()

	if cfg.Viewer.HTTPAddr != "" {
		url := cfg.Viewer.HTTPAddr
		if url[0] == ':' {
			url = "http://127.0.0.1" + url
		}
		fmt.Printf("🎙  Host Dashboard: %s\n", url)
		fmt.Println()
	}

	fmt.Println("Starting studio... (Press Ctrl+C to stop)")
	fmt.Println("────────────────────────────────────────────────────────")
	fmt.Println()
}
