package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/nickyhof/BranchDB"
	"github.com/nickyhof/BranchDB/config"
	"github.com/nickyhof/BranchDB/core"
	"github.com/nickyhof/BranchDB/logger"
)

// Version is set at build time via -ldflags
var Version = "dev"

func main() {
	configPath := flag.String("config", "", "Path to a config file (branchdb.yaml if empty)")
	addr := flag.String("addr", "", "Listen address, overrides server.addr")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("BranchDB API Server v%s\n", Version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if err := cfg.ValidateServer(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	logData, err := logger.New().FromPath(cfg.Log.File).Level(cfg.Log.Level).Format(cfg.Log.Format).Make()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logData.Close()

	instance, err := BranchDB.OpenConfig(context.Background(), cfg, logData.Logger)
	if err != nil {
		log.Fatalf("Failed to open %s backend: %v", cfg.Backend, err)
	}
	defer instance.Close()

	identity := core.Identity{Name: cfg.Identity.Name, Email: cfg.Identity.Email}
	server := NewServer(instance, identity, AuthConfig{
		JWTSecret: cfg.Server.JWTSecret,
		Issuer:    cfg.Server.Issuer,
		Audience:  cfg.Server.Audience,
	}, logData.Logger)

	if err := server.Start(cfg.Server.Addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	// Print banner
	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Printf("║   BranchDB API Server v%-14s  ║\n", Version)
	fmt.Println("║   Branch-per-user JSON documents      ║")
	fmt.Println("╚═══════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("Listening on %s (%s backend)\n", server.Addr(), cfg.Backend)
	fmt.Println()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down...")
	if err := server.Stop(); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
	log.Println("Server stopped")
}
