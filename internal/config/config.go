// Package config reads the agent flags and the YAML file describing servers, queries and
// output writers.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	DefaultAddress       = "localhost:8080"
	DefaultRunPeriod     = 60
	DefaultLogLevel      = "info"
	DefaultPoolSize      = 4
	DefaultBorrowTimeout = 30
)

// AgentConfig holds the process level settings.
type AgentConfig struct {
	// ConfigFile is the YAML file with servers and queries
	ConfigFile string

	// Address is the listen address of the HTTP API; empty disables it
	Address string

	// RunPeriod is the default polling period in seconds
	RunPeriod int

	LogLevel string

	// PoolSize is the maximum number of pooled connections per server
	PoolSize int

	// BorrowTimeout is the pool borrow timeout in seconds
	BorrowTimeout int

	// FileStoragePath is where the snapshot store is saved on shutdown and restored on start
	FileStoragePath string

	// AgentJar is the jar installed into local JVMs that expose no connector
	AgentJar string

	// Key signs /updates bodies received by the HTTP API
	Key string
}

func (c *AgentConfig) RunPeriodDuration() time.Duration {
	return time.Duration(c.RunPeriod) * time.Second
}

func (c *AgentConfig) BorrowTimeoutDuration() time.Duration {
	return time.Duration(c.BorrowTimeout) * time.Second
}

// NewAgentConfig parses args, then lets non-empty environment variables override flags.
func NewAgentConfig(args []string) (*AgentConfig, error) {
	return newAgentConfig(args, os.Getenv)
}

func newAgentConfig(args []string, getenv func(string) string) (*AgentConfig, error) {
	fs := flag.NewFlagSet("jmxtrans-agent", flag.ContinueOnError)

	configFile := fs.String("c", "", "path to the YAML config file")
	address := fs.String("a", DefaultAddress, "HTTP API listen address, empty disables it")
	runPeriod := fs.Int("p", DefaultRunPeriod, "default run period in seconds")
	logLevel := fs.String("l", DefaultLogLevel, "log level")
	poolSize := fs.Int("s", DefaultPoolSize, "max pooled connections per server")
	borrowTimeout := fs.Int("b", DefaultBorrowTimeout, "connection borrow timeout in seconds")
	fileStoragePath := fs.String("f", "", "path to store the snapshot file")
	agentJar := fs.String("j", "", "agent jar installed into local processes")
	key := fs.String("k", "", "key for HashSHA256 request signatures")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	envStrVars := map[string]*string{
		"CONFIG":            configFile,
		"ADDRESS":           address,
		"LOG_LEVEL":         logLevel,
		"FILE_STORAGE_PATH": fileStoragePath,
		"AGENT_JAR":         agentJar,
		"KEY":               key,
	}
	for envVar, flag := range envStrVars {
		if envValue := getenv(envVar); envValue != "" {
			*flag = envValue
		}
	}

	envIntVars := map[string]*int{
		"RUN_PERIOD":     runPeriod,
		"POOL_SIZE":      poolSize,
		"BORROW_TIMEOUT": borrowTimeout,
	}
	for envVar, flag := range envIntVars {
		if envValue := getenv(envVar); envValue != "" {
			value, err := strconv.Atoi(envValue)
			if err != nil {
				return nil, fmt.Errorf("invalid %s value %q: %w", envVar, envValue, err)
			}
			*flag = value
		}
	}

	if *runPeriod <= 0 {
		return nil, fmt.Errorf("run period must be positive, got %d", *runPeriod)
	}

	return &AgentConfig{
		ConfigFile:      *configFile,
		Address:         *address,
		RunPeriod:       *runPeriod,
		LogLevel:        *logLevel,
		PoolSize:        *poolSize,
		BorrowTimeout:   *borrowTimeout,
		FileStoragePath: *fileStoragePath,
		AgentJar:        *agentJar,
		Key:             *key,
	}, nil
}
