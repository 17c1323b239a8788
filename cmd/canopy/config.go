package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// fileConfig is the optional -config JSON file's shape, covering the
// same per-peer {bind_ip, bind_port, is_root, root_ip, root_port}
// fields the flags expose, for scripted multi-peer test harnesses
// that would rather drop a file per node than build a long flag line.
type fileConfig struct {
	BindIP        string `json:"bind_ip"`
	BindPort      int    `json:"bind_port"`
	IsRoot        bool   `json:"is_root"`
	RootIP        string `json:"root_ip"`
	RootPort      int    `json:"root_port"`
	HelloInterval string `json:"hello_interval"`
	FailWindow    string `json:"fail_window"`
}

func loadFileConfig(path string) (fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return fileConfig{}, fmt.Errorf("reading config file: %w", err)
	}
	var cfg fileConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return fileConfig{}, fmt.Errorf("parsing config file: %w", err)
	}
	return cfg, nil
}

func (c fileConfig) parseHelloInterval() (time.Duration, error) {
	if c.HelloInterval == "" {
		return 0, nil
	}
	return time.ParseDuration(c.HelloInterval)
}

func (c fileConfig) parseFailWindow() (time.Duration, error) {
	if c.FailWindow == "" {
		return 0, nil
	}
	return time.ParseDuration(c.FailWindow)
}
