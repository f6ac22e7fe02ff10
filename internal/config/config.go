package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/petervdpas/onair/internal/util"
)

type Config struct {
	Show    Show    `json:"show"`
	Media   Media   `json:"media"`
	ICE     ICE     `json:"ice"`
	Viewer  Viewer  `json:"viewer"`
	Storage Storage `json:"storage"`
}

type Show struct {
	// Default name used when a show is started without one.
	DefaultName string `json:"default_name"`

	// Host display name in the participant grid.
	HostName string `json:"host_name"`

	// Media/device operation deadline (seconds).
	OpTimeoutSec int `json:"op_timeout_seconds"`

	// Upper bound on callers simultaneously on air. 0 means unlimited.
	MaxLive int `json:"max_live"`
}

type Media struct {
	MaxWidth  int `json:"max_width"`
	MaxHeight int `json:"max_height"`

	// Video encoder target bitrate in bits per second.
	BitRate int `json:"bit_rate"`
}

type ICE struct {
	STUNURLs []string `json:"stun_urls"`

	// Timeouts in seconds. 0 = library default.
	DisconnectedSec int `json:"disconnected_seconds"`
	FailedSec       int `json:"failed_seconds"`
	KeepAliveSec    int `json:"keepalive_seconds"`
}

type Viewer struct {
	HTTPAddr string `json:"http_addr"`
	Debug    bool   `json:"debug"`

	// bcrypt hash for HTTP Basic Auth (user "host"). Empty disables auth.
	AdminPasswordHash string `json:"admin_password_hash"`
}

type Storage struct {
	// Directory holding the SQLite database. Relative to the working dir.
	DataDir string `json:"data_dir"`
}

func Default() Config {
	return Config{
		Show: Show{
			DefaultName:  "Drive Time",
			HostName:     "Host",
			OpTimeoutSec: 15,
			MaxLive:      4,
		},
		Media: Media{
			MaxWidth:  640,
			MaxHeight: 480,
			BitRate:   1_500_000,
		},
		ICE: ICE{
			STUNURLs:        []string{"stun:stun.l.google.com:19302"},
			DisconnectedSec: 30,
			FailedSec:       120,
			KeepAliveSec:    2,
		},
		Viewer: Viewer{
			HTTPAddr: "127.0.0.1:8098",
			Debug:    false,
		},
		Storage: Storage{
			DataDir: "data",
		},
	}
}

func (c *Config) Validate() error {
	// Show
	if strings.TrimSpace(c.Show.DefaultName) == "" {
		return errors.New("show.default_name is required")
	}
	if strings.TrimSpace(c.Show.HostName) == "" {
		return errors.New("show.host_name is required")
	}
	if c.Show.OpTimeoutSec < 1 || c.Show.OpTimeoutSec > 120 {
		return errors.New("show.op_timeout_seconds must be 1..120")
	}
	if c.Show.MaxLive < 0 || c.Show.MaxLive > 64 {
		return errors.New("show.max_live must be 0..64")
	}

	// Media
	if c.Media.MaxWidth < 160 || c.Media.MaxWidth > 3840 {
		return errors.New("media.max_width must be 160..3840")
	}
	if c.Media.MaxHeight < 120 || c.Media.MaxHeight > 2160 {
		return errors.New("media.max_height must be 120..2160")
	}
	if c.Media.BitRate < 100_000 {
		return errors.New("media.bit_rate must be >= 100000")
	}

	// ICE
	if len(c.ICE.STUNURLs) == 0 {
		return errors.New("ice.stun_urls must not be empty")
	}
	for _, u := range c.ICE.STUNURLs {
		if !strings.HasPrefix(u, "stun:") && !strings.HasPrefix(u, "turn:") {
			return fmt.Errorf("ice.stun_urls: %q must start with stun: or turn:", u)
		}
	}
	if c.ICE.DisconnectedSec < 0 || c.ICE.FailedSec < 0 || c.ICE.KeepAliveSec < 0 {
		return errors.New("ice timeouts must be >= 0")
	}
	if c.ICE.FailedSec > 0 && c.ICE.DisconnectedSec > 0 && c.ICE.FailedSec <= c.ICE.DisconnectedSec {
		return errors.New("ice.failed_seconds must be > ice.disconnected_seconds")
	}

	// Viewer
	if addr := strings.TrimSpace(c.Viewer.HTTPAddr); addr != "" {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return fmt.Errorf("viewer.http_addr: %v", err)
		}
	}

	// Storage
	if strings.TrimSpace(c.Storage.DataDir) == "" {
		return errors.New("storage.data_dir is required")
	}

	return nil
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	// Strip UTF-8 BOM if present (common when editing JSON on Windows).
	b = stripBOM(b)

	// Start from defaults so missing JSON fields remain initialized.
	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// stripBOM removes a UTF-8 byte order mark if present.
func stripBOM(b []byte) []byte {
	if len(b) >= 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		return b[3:]
	}
	return b
}

func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	return util.WriteJSONFile(path, cfg)
}

// Ensure loads config if it exists; otherwise creates a default config file.
// Returns (cfg, createdNew, err).
func Ensure(path string) (Config, bool, error) {
	if _, err := os.Stat(path); err == nil {
		cfg, err := Load(path)
		return cfg, false, err
	} else if !os.IsNotExist(err) {
		return Config{}, false, err
	}

	cfg := Default()
	if err := Save(path, cfg); err != nil {
		return Config{}, false, fmt.Errorf("create default config: %w", err)
	}
	return cfg, true, nil
}
