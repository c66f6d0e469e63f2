package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fardale/chatrelay/pkg/server"
)

func main() {
	configPath := flag.String("config", "~/.chatrelay/config.toml", "path to config file")
	port := flag.Int("port", 0, "TCP port override")
	dbPath := flag.String("db", "", "database path override")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	if *debug {
		server.EnableDebugLogging()
	}

	config, err := server.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	serverConfig := config.ToServerConfig()
	if *port != 0 {
		serverConfig.TCPPort = *port
	}

	databasePath := *dbPath
	if databasePath == "" {
		databasePath, err = config.GetDatabasePath()
		if err != nil {
			log.Fatalf("Failed to resolve database path: %v", err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(databasePath), 0755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}

	srv, err := server.NewServer(databasePath, serverConfig)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	if err := srv.Start(); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	log.Println("Server started. Waiting for connections...")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("Received %v, shutting down", sig)

	if err := srv.Stop(); err != nil {
		log.Fatalf("Shutdown error: %v", err)
	}
}
