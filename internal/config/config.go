// Package config loads the server's YAML configuration: listen address,
// build identifiers, the three handshake key pairs, file/auth server
// addresses, the data root, and the storage backend selector.
package config

import (
	"encoding/hex"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/nimue-net/uruserver/internal/codec/handshake"
)

// KeyPair is a (N, K) modular-exponentiation key pair as loaded from
// config, hex-encoded on the wire so it can live in a text file.
type KeyPair struct {
	N string `yaml:"n"`
	K string `yaml:"k"`
}

// Decode parses the hex-encoded N and K into a handshake.KeyPair.
func (kp KeyPair) Decode() (handshake.KeyPair, error) {
	n, err := hex.DecodeString(kp.N)
	if err != nil {
		return handshake.KeyPair{}, fmt.Errorf("decoding key pair N: %w", err)
	}
	k, err := hex.DecodeString(kp.K)
	if err != nil {
		return handshake.KeyPair{}, fmt.Errorf("decoding key pair K: %w", err)
	}
	return handshake.NewKeyPair(n, k), nil
}

// BuildIDs are the four build identifiers the client's lobby header and
// the file service's build-id gating compare against.
type BuildIDs struct {
	Game      uint32 `yaml:"game"`
	Data      uint32 `yaml:"data"`
	Client    uint32 `yaml:"client"`
	Auth      uint32 `yaml:"auth"`
}

// DatabaseConfig selects and parameterizes the storage backend.
type DatabaseConfig struct {
	// Backend is "memory" (default, in-process, no persistence) or
	// "postgres".
	Backend string `yaml:"backend"`
	DSN     string `yaml:"dsn"`
}

// Server holds all configuration for the uru-style lobby server: the
// auth/gate/file sub-protocols it demultiplexes to, and the data root
// manifest/secure-file machinery.
type Server struct {
	// Network
	BindAddress string `yaml:"bind_address"`
	Port        int    `yaml:"port"`

	BuildIDs BuildIDs `yaml:"build_ids"`

	// Handshake key pairs, one per encrypted sub-protocol.
	AuthKeys KeyPair `yaml:"auth_keys"`
	GameKeys KeyPair `yaml:"game_keys"`
	GateKeys KeyPair `yaml:"gate_keys"`

	// Addresses the gatekeeper hands out to clients.
	FileServIP string `yaml:"file_serv_ip"`
	AuthServIP string `yaml:"auth_serv_ip"`

	// Data root for manifests, SDL descriptors, and Python assets.
	DataRoot string `yaml:"data_root"`

	// PythonInterpreter is the external interpreter path used to
	// byte-compile Python/*.py into Python.pak. Empty skips that step.
	PythonInterpreter string `yaml:"python_interpreter"`

	// SecureFiles encrypts SDL (and, with an interpreter configured,
	// packaged Python) assets at rest with the NTD key on startup.
	SecureFiles bool `yaml:"secure_files"`

	// CacheManifests rescans the data tree on startup and rewrites the
	// twelve per-variant .mfs_cache files the file service serves.
	CacheManifests bool `yaml:"cache_manifests"`

	// RestrictLogins rejects non-admin, non-beta accounts at login.
	RestrictLogins bool `yaml:"restrict_logins"`

	Database DatabaseConfig `yaml:"database"`

	LogLevel string `yaml:"log_level"` // debug, info, warn, error (default: info)
}

// NTDKeyPath returns the path of the NTD key file under the data root.
func (s Server) NTDKeyPath() string {
	return s.DataRoot + "/.ntd_server.key"
}

// Default returns a Server config with sensible defaults: memory backend,
// loopback addresses, and the public dev handshake key pair below for all
// three sub-protocols.
func Default() Server {
	devKey := KeyPair{N: hex.EncodeToString(devModulus), K: hex.EncodeToString(devExponent)}
	return Server{
		BindAddress: "0.0.0.0",
		Port:        14900,
		BuildIDs:    BuildIDs{Game: 918, Data: 918, Client: 918, Auth: 918},
		AuthKeys:    devKey,
		GameKeys:    devKey,
		GateKeys:    devKey,
		FileServIP:  "127.0.0.1",
		AuthServIP:  "127.0.0.1",
		DataRoot:    "data",
		LogLevel:    "info",
		Database: DatabaseConfig{
			Backend: "memory",
		},
	}
}

// devModulus/devExponent are a throwaway 512-bit RSA-like pair used only
// when no config file supplies real keys; never use this in production,
// it is public.
var (
	devModulus  = mustFill(64, 0xAB)
	devExponent = mustFill(64, 0x03)
)

func mustFill(n int, b byte) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = b
	}
	return buf
}

// configPathEnv overrides the config file path, mirroring the teacher's
// LA2GO_CONFIG convention.
const configPathEnv = "URUSERVER_CONFIG"

// Load reads Server config from a YAML file at path, falling back to
// Default() fields for anything the file doesn't set and to Default()
// entirely if the file doesn't exist. If the URUSERVER_CONFIG environment
// variable is set, it overrides path.
func Load(path string) (Server, error) {
	if p := os.Getenv(configPathEnv); p != "" {
		path = p
	}

	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}
