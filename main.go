package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
)

var (
	version      = flag.Bool("version", false, "Print version info")
	help         = flag.Bool("help", false, "Print help")
	configFile   = flag.String("config", "", "Path to YAML configuration file")
	logLevel     = flag.Int("log", 3, "Log level (0=NONE, 1=ERROR, 2=WARN, 3=INFO, 4=DEBUG)")
	redisServer  = flag.String("redis_server", "127.0.0.1", "Redis server address")
	redisPort    = flag.Int("redis_port", 6379, "Redis server port")
	canDevice    = flag.String("can_device", "can0", "CAN device name")
	controllerID = flag.String("controller_id", "car-1", "Door controller identifier")
)

const (
	ProjectName    = "door-service"
	ProjectVersion = "1.0.0"
)

func printVersion() {
	fmt.Printf("%s v%s\n", ProjectName, ProjectVersion)
}

func printHelp() {
	printVersion()
	flag.PrintDefaults()
}

// applyFlags overrides the configuration with flags given on the command line
func applyFlags(cfg *Config) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "log":
			cfg.Log.Level = *logLevel
		case "redis_server":
			cfg.Redis.Addr = *redisServer
		case "redis_port":
			cfg.Redis.Port = *redisPort
		case "can_device":
			cfg.CANDevice = *canDevice
		case "controller_id":
			cfg.ControllerID = *controllerID
		}
	})
}

func main() {
	flag.Parse()

	if *version {
		printVersion()
		os.Exit(0)
	}

	if *help {
		printHelp()
		os.Exit(0)
	}

	cfg, err := LoadConfig(*configFile)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	applyFlags(cfg)

	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	opts := cfg.Options()
	logger := NewLeveledLogger(log.New(NewLogOutput(cfg.Log), "", log.LstdFlags|log.Lmicroseconds), opts.LogLevel)

	app, err := NewControllerApp(opts, logger)
	if err != nil {
		logger.Fatalf("failed to create door controller: %v", err)
	}
	defer app.Destroy()

	// Handle SIGINT and SIGTERM
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
}
