package config

import (
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mosaicnetworks/parley/src/common"
	"github.com/pion/webrtc/v4"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

// Default filenames.
const (
	// DefaultBadgerFile is the default name of the folder containing the Badger
	// database
	DefaultBadgerFile = "badger_db"

	// DefaultCertFile is the default name of the file containing the TLS
	// certificate for connecting to the signaling server.
	DefaultCertFile = "cert.pem"
)

// Signaling backends.
const (
	SignalWAMP      = "wamp"
	SignalWebsocket = "ws"
)

// Default configuration values.
const (
	DefaultLogLevel         = "debug"
	DefaultRoom             = "lobby"
	DefaultDisplayName      = "Guest"
	DefaultServiceAddr      = "127.0.0.1:3001"
	DefaultSignalKind       = SignalWAMP
	DefaultSignalAddr       = "127.0.0.1:2443"
	DefaultSignalRealm      = "main"
	DefaultSignalSkipVerify = false
	DefaultSignalTimeout    = 5000 * time.Millisecond
	DefaultICEAddress       = "stun:stun.l.google.com:19302"
	DefaultICEUsername      = ""
	DefaultICEPassword      = ""
	DefaultOfferDelay       = 50 * time.Millisecond
	DefaultRemoveOnFailure  = false
	DefaultAudio            = true
	DefaultVideo            = true
	DefaultStore            = false
)

// Config contains all the configuration properties of a parley participant.
type Config struct {
	// DataDir is the top-level directory containing parley configuration and
	// data
	DataDir string `mapstructure:"datadir"`

	// LogLevel determines the chattiness of the log output.
	LogLevel string `mapstructure:"log"`

	// LogFile, when set, receives a copy of every log entry.
	LogFile string `mapstructure:"log-file"`

	// Room is the name of the meeting room to join.
	Room string `mapstructure:"room"`

	// PeerID identifies this participant for the duration of the session. A
	// random one is generated when it is left empty.
	PeerID string `mapstructure:"peer-id"`

	// DisplayName is the human readable name announced to the other
	// participants.
	DisplayName string `mapstructure:"name"`

	// SignalKind selects the signaling backend, "wamp" or "ws".
	SignalKind string `mapstructure:"signal"`

	// SignalAddr is the IP:PORT of the signaling server. With the WAMP
	// backend, the connection is over secured web-sockets, wss, and it possible
	// to include a self-signed certificated in a file called cert.pem in the
	// datadir. If no self-signed certificate is found, the server's certifacate
	// signing authority better be trusted. The websocket backend connects to a
	// relay started with "parley relay".
	SignalAddr string `mapstructure:"signal-addr"`

	// SignalRealm is an administrative domain within the WAMP signaling
	// server. Signaling messages are only routed within a Realm.
	SignalRealm string `mapstructure:"signal-realm"`

	// SignalSkipVerify controls whether the signal client verifies the server's
	// certificate chain and host name. This should be used only for testing.
	SignalSkipVerify bool `mapstructure:"signal-skip-verify"`

	// SignalTimeout bounds the requests made to the signaling server.
	SignalTimeout time.Duration `mapstructure:"signal-timeout"`

	// ICE address is the URI of a server providing services for ICE, such as
	// STUN and TURN. Username and password can be empty if the ICE server does
	// not use authentication.
	ICEAddress string `mapstructure:"ice-addr"`

	// ICEUsername is the username that will be used to authenticate with the
	// ICE server defined in ICEAddress.
	ICEUsername string `mapstructure:"ice-username"`

	// ICEPassword is the password that will be used to authenticate with the
	// ICE server defined in ICEAddress.
	ICEPassword string `mapstructure:"ice-password"`

	// OfferDelay is how long the initiating side of a connection waits before
	// creating its offer, so that the local senders are enumerated first.
	OfferDelay time.Duration `mapstructure:"offer-delay"`

	// RemoveOnFailure removes a peer from the room when its connection fails.
	// By default failed connections are kept, inert, until the peer leaves.
	RemoveOnFailure bool `mapstructure:"remove-on-failure"`

	// Audio and Video control which local media is acquired when joining.
	Audio bool `mapstructure:"audio"`
	Video bool `mapstructure:"video"`

	// NoService disables the HTTP status service.
	NoService bool `mapstructure:"no-service"`

	// ServiceAddr is the address:port of the HTTP status service.
	ServiceAddr string `mapstructure:"service-listen"`

	// Store activates persistant session history.
	Store bool `mapstructure:"store"`

	// DatabaseDir is the directory containing database files.
	DatabaseDir string `mapstructure:"db"`

	logger *logrus.Logger
}

// NewDefaultConfig returns a config object with default values.
func NewDefaultConfig() *Config {
	config := &Config{
		DataDir:          DefaultDataDir(),
		LogLevel:         DefaultLogLevel,
		Room:             DefaultRoom,
		DisplayName:      DefaultDisplayName,
		SignalKind:       DefaultSignalKind,
		SignalAddr:       DefaultSignalAddr,
		SignalRealm:      DefaultSignalRealm,
		SignalSkipVerify: DefaultSignalSkipVerify,
		SignalTimeout:    DefaultSignalTimeout,
		ICEAddress:       DefaultICEAddress,
		ICEUsername:      DefaultICEUsername,
		ICEPassword:      DefaultICEPassword,
		OfferDelay:       DefaultOfferDelay,
		RemoveOnFailure:  DefaultRemoveOnFailure,
		Audio:            DefaultAudio,
		Video:            DefaultVideo,
		ServiceAddr:      DefaultServiceAddr,
		Store:            DefaultStore,
		DatabaseDir:      DefaultDatabaseDir(),
	}

	return config
}

// NewTestConfig returns a config object with default values and a special
// logger for debugging tests.
func NewTestConfig(t testing.TB, level logrus.Level) *Config {
	config := NewDefaultConfig()
	config.OfferDelay = 5 * time.Millisecond
	config.logger = common.NewTestLogger(t, level)
	return config
}

// SetDataDir sets the top-level parley directory, and updates the database
// directory if it is currently set to the default value. If the database
// directory is not currently the default, it means the user has explicitely set
// it to something else, so avoid changing it again here.
func (c *Config) SetDataDir(dataDir string) {
	c.DataDir = dataDir
	if c.DatabaseDir == DefaultDatabaseDir() {
		c.DatabaseDir = filepath.Join(dataDir, DefaultBadgerFile)
	}
}

// EnsurePeerID generates a random PeerID if none was configured, and returns
// the PeerID.
func (c *Config) EnsurePeerID() string {
	if c.PeerID == "" {
		c.PeerID = "user-" + uuid.New().String()
	}
	return c.PeerID
}

// CertFile returns the full path of the file containing the signal-server TLS
// certificate.
func (c *Config) CertFile() string {
	return filepath.Join(c.DataDir, DefaultCertFile)
}

// ICEServers returns the list of ICE servers used to connect to peers. The
// list contains a single item which is based on the configuration passed
// through the config object.
func (c *Config) ICEServers() []webrtc.ICEServer {
	if c.ICEAddress == "" {
		return nil
	}
	return []webrtc.ICEServer{
		{
			URLs:       []string{c.ICEAddress},
			Username:   c.ICEUsername,
			Credential: c.ICEPassword,
		},
	}
}

// Logger returns a formatted logrus Entry, with prefix set to "parley". When
// LogFile is set, every entry is also written to that file.
func (c *Config) Logger() *logrus.Entry {
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.Level = LogLevel(c.LogLevel)
		c.logger.Formatter = new(prefixed.TextFormatter)

		if c.LogFile != "" {
			c.logger.Hooks.Add(lfshook.NewHook(
				c.LogFile,
				&logrus.TextFormatter{},
			))
		}
	}
	return c.logger.WithField("prefix", "parley")
}

// DefaultDatabaseDir returns the default path for the badger database files.
func DefaultDatabaseDir() string {
	return filepath.Join(DefaultDataDir(), DefaultBadgerFile)
}

// DefaultDataDir return the default directory name for top-level parley config
// based on the underlying OS, attempting to respect conventions.
func DefaultDataDir() string {
	// Try to place the data folder in the user's home dir
	home := HomeDir()
	if home != "" {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, ".Parley")
		} else if runtime.GOOS == "windows" {
			return filepath.Join(home, "AppData", "Roaming", "Parley")
		} else {
			return filepath.Join(home, ".parley")
		}
	}
	// As we cannot guess a stable location, return empty and handle later
	return ""
}

// HomeDir returns the user's home directory.
func HomeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}

// LogLevel parses a string into a Logrus log level.
func LogLevel(l string) logrus.Level {
	switch l {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.DebugLevel
	}
}
