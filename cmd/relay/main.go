// The relay command runs the standalone matchmaking server: it accepts
// client connections, groups them into two-player sessions and forwards
// targeted messages between session members.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/gravewright/netplay/internal/core"
	"github.com/gravewright/netplay/internal/relay"
)

var configFlag = flag.String("config", "./", "Path to the directory containing the server config file")

func main() {
	flag.Parse()

	// Optional .env for local development; config proper comes from viper.
	_ = godotenv.Load()

	config, err := core.LoadConfig(*configFlag)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	logger, err := core.NewLogger(config)
	if err != nil {
		fmt.Println("error initializing logger:", err)
		os.Exit(1)
	}

	var store *relay.Store
	if config.Database.Engine == "sqlite" {
		store, err = relay.OpenStore(config.Database.Path, config.Debugging.DatabaseLoggingEnabled)
		if err != nil {
			logger.Errorf("error opening session store: %v", err)
			os.Exit(1)
		}
		defer func() {
			if err := store.Close(); err != nil {
				logger.Warnf("error closing session store: %v", err)
			}
		}()
	}

	server := relay.NewServer(relay.Options{
		Port:        config.RelayServer.Port,
		MaxClients:  config.RelayServer.MaxClients,
		LogMessages: config.Debugging.MessageLoggingEnabled,
	}, logger, store)

	if err := server.Start(); err != nil {
		logger.Errorf("error starting relay server: %v", err)
		os.Exit(1)
	}

	web := &http.Server{
		Addr:    config.WebAddress(),
		Handler: relay.NewStatusHandler(server, logger),
	}
	go func() {
		logger.Infof("status endpoint listening on %s", web.Addr)
		if err := web.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("status endpoint error: %v", err)
		}
	}()

	// Shut down gracefully on Ctrl-C or SIGTERM.
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	logger.Info("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := web.Shutdown(ctx); err != nil {
		logger.Warnf("error shutting down status endpoint: %v", err)
	}
	server.Stop()
}
