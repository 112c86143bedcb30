package config

import (
	"fmt"
	"net"
	"os"
	"runtime"
	"strconv"

	"gopkg.in/yaml.v2"
)

const DefaultBindAddr = "127.0.0.1"

// Config holds everything the forwarding engine needs to start. Values may
// come from a YAML file, command line flags, or both; Complete fills in the
// defaults and validates the result.
type Config struct {
	BindAddr   string `yaml:"bind"`
	ListenPort int    `yaml:"port"`
	Forward    string `yaml:"forward"`
	TCPOnly    bool   `yaml:"tcp"`
	UDPOnly    bool   `yaml:"udp"`
	Workers    int    `yaml:"workers"`
	Verbosity  int    `yaml:"verbosity"`
}

func ParseFile(filename string) (*Config, error) {
	var conf Config
	fileData, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(fileData, &conf); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", filename, err)
	}
	return &conf, nil
}

// Complete applies defaults and validates. The listen port defaults to the
// forward port, the bind address to loopback and the worker count to the
// number of logical CPUs.
func (c *Config) Complete() error {
	if c.Forward == "" {
		return fmt.Errorf("forward address required")
	}
	host, portStr, err := net.SplitHostPort(c.Forward)
	if err != nil {
		return fmt.Errorf("invalid forward address %q: %w", c.Forward, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid forward port %q", portStr)
	}
	if host == "" {
		return fmt.Errorf("invalid forward address %q: missing host", c.Forward)
	}

	if c.TCPOnly && c.UDPOnly {
		return fmt.Errorf("tcp and udp modes are mutually exclusive")
	}

	if c.ListenPort == 0 {
		c.ListenPort = port
	}
	if c.ListenPort < 1 || c.ListenPort > 65535 {
		return fmt.Errorf("invalid listen port %d", c.ListenPort)
	}
	if c.BindAddr == "" {
		c.BindAddr = DefaultBindAddr
	}
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.Verbosity < 0 {
		c.Verbosity = 0
	}
	return nil
}

// Transports reports which forwarders are enabled. Selecting neither
// transport enables both.
func (c *Config) Transports() (tcp, udp bool) {
	if !c.TCPOnly && !c.UDPOnly {
		return true, true
	}
	return c.TCPOnly, c.UDPOnly
}

// ListenAddr is the local address to bind the forwarders on.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.BindAddr, strconv.Itoa(c.ListenPort))
}
