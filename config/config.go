// Package config loads the router's declarative YAML settings file
// (spec §6 CLI: "--settings <yaml>"): the ordered list of couplers,
// publishers, and servers the router top-level owns.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings is the root of a router settings file.
type Settings struct {
	WorkingDir string `yaml:"working_dir"`

	// SchemaPath, when set, loads a canboat-style PGN schema so couplers
	// and servers can decode/encode instead of passing raw messages.
	SchemaPath string `yaml:"schema_path,omitempty"`

	// MetricsAddress, when set, serves Prometheus metrics at /metrics.
	MetricsAddress string `yaml:"metrics_address,omitempty"`

	// Node configures this router's own CAN application identity
	// (spec §4.6); omit it to run without claiming a bus address.
	Node *NodeSettings `yaml:"node,omitempty"`

	Couplers   []CouplerSettings   `yaml:"couplers"`
	Publishers []PublisherSettings `yaml:"publishers"`
	Servers    []ServerSettings    `yaml:"servers"`
}

// NodeSettings configures the local CAN application's ISO NAME,
// candidate address pool, and advertised product information.
type NodeSettings struct {
	UniqueNumber   uint32 `yaml:"unique_number"`
	Manufacturer   uint16 `yaml:"manufacturer"`
	DeviceFunction uint8  `yaml:"device_function"`
	DeviceClass    uint8  `yaml:"device_class"`
	IndustryGroup  uint8  `yaml:"industry_group"`

	AddressPool []uint8 `yaml:"address_pool"`

	ModelID            string `yaml:"model_id"`
	SoftwareVersion    string `yaml:"software_version"`
	ModelVersion       string `yaml:"model_version"`
	ModelSerialCode    string `yaml:"model_serial_code"`
	CertificationLevel uint8  `yaml:"certification_level"`
	LoadEquivalency    uint8  `yaml:"load_equivalency"`
	NMEA2000Version    uint16 `yaml:"nmea2000_version"`
	ProductCode        uint16 `yaml:"product_code"`

	// InstallationDescription1/2 and ManufacturerInfo seed the
	// Configuration Information (PGN 126998) this node answers ISO
	// Requests with; Command Group Functions on 126998 can update the
	// two installation strings at runtime.
	InstallationDescription1 string `yaml:"installation_description_1,omitempty"`
	InstallationDescription2 string `yaml:"installation_description_2,omitempty"`
	ManufacturerInfo         string `yaml:"manufacturer_info,omitempty"`
}

// CouplerSettings configures one named coupler instance.
type CouplerSettings struct {
	Name string `yaml:"name"`
	// Type selects the concrete Transport: "can", "serial", "tcp",
	// "udp", "log_replay", "vedirect", "grpc".
	Type string `yaml:"type"`

	Device  string `yaml:"device,omitempty"`
	Address string `yaml:"address,omitempty"`
	Baud    int    `yaml:"baud,omitempty"`
	Path    string `yaml:"path,omitempty"`

	Direction string `yaml:"direction,omitempty"` // "", "read_write", "read_only", "write_only"

	MaxOpenAttempts int           `yaml:"max_open_attempts,omitempty"`
	OpenDelay       time.Duration `yaml:"open_delay,omitempty"`
	ReportInterval  time.Duration `yaml:"report_interval,omitempty"`

	ConvertNMEA0183 bool `yaml:"convert_nmea0183,omitempty"`
	StrictNMEA0183  bool `yaml:"strict_nmea0183,omitempty"`

	// RealTime paces a log_replay coupler against its recorded deltas.
	RealTime bool `yaml:"real_time,omitempty"`

	// Decoded selects the PushDecodedNMEA2K stream for a grpc send
	// coupler, over PushNMEA.
	Decoded bool `yaml:"decoded,omitempty"`
}

// PublisherSettings configures one named publisher and its filters.
type PublisherSettings struct {
	Name string `yaml:"name"`
	// Couplers lists which coupler names this publisher attaches to.
	Couplers []string `yaml:"couplers"`

	QueueSize         int  `yaml:"queue_size,omitempty"`
	MaxLost           int  `yaml:"max_lost,omitempty"`
	SuspendOnOverflow bool `yaml:"suspend_on_overflow,omitempty"`

	FilterSelect bool             `yaml:"filter_select,omitempty"`
	Filters      []FilterSettings `yaml:"filters,omitempty"`

	// Sink selects the external effect: "trace", "tcp_server",
	// "grpc_server", "coupler" (inject into another named coupler).
	Sink       string `yaml:"sink"`
	TracePath  string `yaml:"trace_path,omitempty"`
	SinkTarget string `yaml:"sink_target,omitempty"`
}

// FilterSettings configures one Filter member of a publisher's
// FilterSet.
type FilterSettings struct {
	Action      string        `yaml:"action"` // "select" or "discard"
	PGNs        []uint32      `yaml:"pgns,omitempty"`
	Sources     []uint8       `yaml:"sources,omitempty"`
	MinInterval time.Duration `yaml:"min_interval,omitempty"`
}

// ServerSettings configures one externally-facing server.
type ServerSettings struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"` // "tcp" or "grpc"

	Address string `yaml:"address"`

	// MasterCoupler, for a TCP or gRPC server, names the coupler an inbound
	// "master" client's messages are injected into.
	MasterCoupler string `yaml:"master_coupler,omitempty"`
}

// Load reads and parses a settings file.
func Load(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return s, nil
}
