package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/twitter/admission/admission/config"
	"github.com/twitter/admission/common/log/hooks"
	"github.com/twitter/admission/common/stats"
)

// Admission controller server running against a simulated cluster.
//	Flags: (see "-h" for all options)
//		-config [name of a built-in config, or literal JSON]
//		-log_level [<error|info|debug> level and above should be logged]
//		-print_config [print the resolved config as JSON and exit]

var configFlag = flag.String("config", "default", "Config name ("+fmt.Sprint(config.ConfigNames())+") or literal JSON.")
var logLevelFlag = flag.String("log_level", "info", "Log everything at this level and above (error|info|debug).")
var printConfig = flag.Bool("print_config", false, "Print the resolved configuration and exit.")
var shutdownTimeout = flag.Duration("shutdown_timeout", 10*time.Second, "How long to wait for in flight requests on shutdown.")

func main() {
	log.AddHook(hooks.NewContextHook())
	flag.Parse()

	level, err := log.ParseLevel(*logLevelFlag)
	if err != nil {
		log.Fatal(err)
	}
	log.SetLevel(level)

	configText, err := config.GetConfigText(*configFlag)
	if err != nil {
		log.Fatal("Error loading config: ", err)
	}
	parser := config.DefaultParser()
	cfg, err := parser.Parse(configText)
	if err != nil {
		log.Fatal("Error parsing config: ", err)
	}
	if *printConfig {
		resolved, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println(string(resolved))
		return
	}

	stat := stats.NewCustomStatsReceiver(stats.NewFinagleStatsRegistry).Precision(time.Millisecond)
	system, err := cfg.Create(nil, stat)
	if err != nil {
		log.Fatal("Error creating admission controller: ", err)
	}
	if err := system.Start(); err != nil {
		log.Fatal("Error starting admission controller: ", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Infof("Received %v, shutting down", sig)

	ctx, cancel := context.WithTimeout(context.Background(), *shutdownTimeout)
	defer cancel()
	if err := system.Stop(ctx); err != nil {
		log.Fatal("Error stopping admission controller: ", err)
	}
}
