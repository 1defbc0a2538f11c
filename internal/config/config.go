// Package config loads the server's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"machinesync.dev/internal/ioface"
	"machinesync.dev/internal/machine"
)

type Config struct {
	ListenAddr     string `yaml:"listen_addr"`
	DataDir        string `yaml:"data_dir"`
	TickRateHz     int    `yaml:"tick_rate_hz"`
	SaveEveryTicks int    `yaml:"save_every_ticks"`

	// MaxViewerQueue caps the outbound frame queue a viewer may request.
	MaxViewerQueue int  `yaml:"max_viewer_queue"`
	MenusPerViewer int  `yaml:"menus_per_viewer"`
	TraceSync      bool `yaml:"trace_sync"`
	DebugStale     bool `yaml:"debug_stale"`

	Machines []MachineSpec `yaml:"machines"`
}

type MachineSpec struct {
	ID       string            `yaml:"id"`
	Kind     string            `yaml:"kind"`
	Pos      [3]int            `yaml:"pos"`
	Redstone string            `yaml:"redstone"`
	Powered  bool              `yaml:"powered"`
	Access   string            `yaml:"access"`
	Energy   int64             `yaml:"energy"`
	Items    []int64           `yaml:"items,omitempty"`
	Faces    map[string]string `yaml:"faces,omitempty"`
}

func Load(path string) (Config, error) {
	cfg := defaults()
	if strings.TrimSpace(path) == "" {
		cfg.Normalize()
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("server.yaml: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("server.yaml: %w", err)
	}
	return cfg, nil
}

func defaults() Config {
	return Config{
		ListenAddr:     ":8080",
		DataDir:        "data",
		TickRateHz:     20,
		SaveEveryTicks: 200,
		MaxViewerQueue: 64,
		MenusPerViewer: 4,
		Machines: []MachineSpec{
			{ID: "gen-1", Kind: string(machine.KindGenerator), Pos: [3]int{0, 64, 0}, Items: []int64{0, 16}},
			{ID: "melter-1", Kind: string(machine.KindMelter), Pos: [3]int{2, 64, 0}, Energy: 10000, Items: []int64{0, 8, 0}},
		},
	}
}

func (c *Config) Normalize() {
	if c == nil {
		return
	}
	c.ListenAddr = strings.TrimSpace(c.ListenAddr)
	c.DataDir = strings.TrimSpace(c.DataDir)
	if c.TickRateHz <= 0 {
		c.TickRateHz = 20
	}
	if c.MaxViewerQueue <= 0 {
		c.MaxViewerQueue = 64
	}
	if c.MenusPerViewer <= 0 {
		c.MenusPerViewer = 4
	}
	for i := range c.Machines {
		m := &c.Machines[i]
		m.ID = strings.TrimSpace(m.ID)
		m.Kind = strings.ToLower(strings.TrimSpace(m.Kind))
		m.Redstone = strings.ToLower(strings.TrimSpace(m.Redstone))
		if m.Redstone == "" {
			m.Redstone = machine.RedstoneIgnore.String()
		}
		m.Access = strings.ToLower(strings.TrimSpace(m.Access))
		if m.Access == "" {
			m.Access = machine.AccessPublic.String()
		}
	}
}

func (c Config) Validate() error {
	if c.TickRateHz > 1000 {
		return fmt.Errorf("tick_rate_hz %d out of range", c.TickRateHz)
	}
	if c.SaveEveryTicks < 0 {
		return errors.New("save_every_ticks must be >= 0")
	}
	seen := map[string]bool{}
	for _, m := range c.Machines {
		if m.ID == "" {
			return errors.New("machine with empty id")
		}
		if seen[m.ID] {
			return fmt.Errorf("duplicate machine id %q", m.ID)
		}
		seen[m.ID] = true
		if _, err := m.Build(); err != nil {
			return err
		}
	}
	return nil
}

// Build returns the initial machine described by s.
func (s MachineSpec) Build() (*machine.Machine, error) {
	m, err := machine.New(machine.Kind(s.Kind), s.ID)
	if err != nil {
		return nil, fmt.Errorf("machine %q: %w", s.ID, err)
	}
	m.Pos = machine.Pos{X: s.Pos[0], Y: s.Pos[1], Z: s.Pos[2]}
	mode, ok := machine.ParseRedstoneMode(s.Redstone)
	if !ok {
		return nil, fmt.Errorf("machine %q: redstone %q", s.ID, s.Redstone)
	}
	m.Redstone = mode
	access, ok := machine.ParseAccessLevel(s.Access)
	if !ok {
		return nil, fmt.Errorf("machine %q: access %q", s.ID, s.Access)
	}
	m.Security.Access = access
	m.State.Powered = s.Powered
	if s.Energy < 0 || s.Energy > m.Capacity {
		return nil, fmt.Errorf("machine %q: energy %d outside 0..%d", s.ID, s.Energy, m.Capacity)
	}
	m.Energy = s.Energy
	if len(s.Items) > len(m.Items) {
		return nil, fmt.Errorf("machine %q: %d item slots, %s has %d", s.ID, len(s.Items), s.Kind, len(m.Items))
	}
	for i, n := range s.Items {
		if _, err := m.InsertItems(i, n); err != nil {
			return nil, fmt.Errorf("machine %q: %w", s.ID, err)
		}
	}
	for name, v := range s.Faces {
		face, ok := ioface.ParseBlockFace(strings.ToLower(name))
		if !ok {
			return nil, fmt.Errorf("machine %q: unknown face %q", s.ID, name)
		}
		f, err := ioface.ParseFace(v)
		if err != nil {
			return nil, fmt.Errorf("machine %q: %w", s.ID, err)
		}
		if !m.SetFace(face, f) {
			return nil, fmt.Errorf("machine %q: %s does not support %s on %s", s.ID, s.Kind, f, face)
		}
	}
	return m, nil
}
