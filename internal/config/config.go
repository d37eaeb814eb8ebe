// Package config parses the NodeConfig key=value file (spec.md §6) once at
// startup. The format is a bespoke one — not YAML/TOML/JSON/INI — so this
// package hand-rolls a small bufio.Scanner-based parser rather than reach
// for a general-purpose config library (see DESIGN.md for the
// standard-library justification).
package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/n0remac/uavmesh/internal/wire"
)

// BroadcastIP is fixed per spec.md §6 and is never read from the config
// file even if a broadcastIP key is present there.
const BroadcastIP = "192.168.2.255"

// Role identifies a node's place in the topology.
type Role int

const (
	RoleCommon Role = iota
	RoleSink
)

func (r Role) String() string {
	if r == RoleSink {
		return "sink"
	}
	return "common"
}

// NodeConfig holds the parsed, validated configuration for one node.
type NodeConfig struct {
	PositionX       float64
	PositionY       float64
	MyIP            wire.IP
	SinkIP          wire.IP
	ControllerIP    wire.IP
	SinkIP2Ctrler   wire.IP
	BroadcastIP     wire.IP
}

// Role returns RoleSink iff MyIP == SinkIP, per spec.md §6.
func (c *NodeConfig) Role() Role {
	if c.MyIP == c.SinkIP {
		return RoleSink
	}
	return RoleCommon
}

// recognized is the set of keys spec.md §6 assigns meaning to.
var recognized = map[string]bool{
	"positionX":       true,
	"positionY":       true,
	"myIP_s":          true,
	"sinkNodeIP_s":    true,
	"controllerIP_s":  true,
	"sinkIP2Ctrler_s": true,
	"broadcastIP":     true,
}

// Load reads and parses the config file at path.
func Load(path string, log logrus.FieldLogger) (*NodeConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()
	return parse(f, log)
}

func parse(r io.Reader, log logrus.FieldLogger) (*NodeConfig, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	raw := map[string]string{}
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			log.WithField("line", line).Warn("config: ignoring malformed line")
			continue
		}
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if !recognized[k] {
			log.WithField("key", k).Warn("config: ignoring unknown key")
			continue
		}
		raw[k] = v
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}

	if _, present := raw["broadcastIP"]; present {
		log.Warn("config: broadcastIP is a compile-time constant and is ignored")
	}

	cfg := &NodeConfig{}
	var err error

	if cfg.PositionX, err = floatField(raw, "positionX"); err != nil {
		return nil, err
	}
	if cfg.PositionY, err = floatField(raw, "positionY"); err != nil {
		return nil, err
	}
	if cfg.MyIP, err = ipField(raw, "myIP_s"); err != nil {
		return nil, err
	}
	if cfg.SinkIP, err = ipField(raw, "sinkNodeIP_s"); err != nil {
		return nil, err
	}
	if cfg.ControllerIP, err = ipField(raw, "controllerIP_s"); err != nil {
		return nil, err
	}
	// sinkIP2Ctrler_s is only meaningful on the sink; tolerate its
	// absence on common nodes.
	if s, ok := raw["sinkIP2Ctrler_s"]; ok {
		if cfg.SinkIP2Ctrler, err = wire.ParseIPv4(s); err != nil {
			return nil, fmt.Errorf("config: sinkIP2Ctrler_s: %w", err)
		}
	}
	if cfg.BroadcastIP, err = wire.ParseIPv4(BroadcastIP); err != nil {
		return nil, err
	}

	return cfg, nil
}

func floatField(raw map[string]string, key string) (float64, error) {
	s, ok := raw[key]
	if !ok {
		return 0, fmt.Errorf("config: missing required key %q", key)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s=%q: %w", key, s, err)
	}
	return v, nil
}

func ipField(raw map[string]string, key string) (wire.IP, error) {
	s, ok := raw[key]
	if !ok {
		return 0, fmt.Errorf("config: missing required key %q", key)
	}
	ip, err := wire.ParseIPv4(s)
	if err != nil {
		return 0, fmt.Errorf("config: %s=%q: %w", key, s, err)
	}
	return ip, nil
}
