package config

import (
	"flag"
	"fmt"
	"log/slog"
	"math"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-datachannel/internal/origin"
	"github.com/wilsonzlin/aero/proxy/webrtc-datachannel/internal/session"
)

const (
	envVarConfigFile      = "AERO_DATACHANNEL_CONFIG"
	envVarListenAddr      = "AERO_DATACHANNEL_LISTEN_ADDR"
	envVarAllowedOrigins  = "AERO_DATACHANNEL_ALLOWED_ORIGINS"
	envVarLogFormat       = "AERO_DATACHANNEL_LOG_FORMAT"
	envVarLogLevel        = "AERO_DATACHANNEL_LOG_LEVEL"
	envVarShutdownTimeout = "AERO_DATACHANNEL_SHUTDOWN_TIMEOUT"
	envVarMode            = "AERO_DATACHANNEL_MODE"

	envVarMaxSessions           = "AERO_DATACHANNEL_MAX_SESSIONS"
	envVarSessionConnectTimeout = "AERO_DATACHANNEL_SESSION_CONNECT_TIMEOUT"

	envVarDataChannelLabel             = "AERO_DATACHANNEL_LABEL"
	envVarDataChannelOrdered           = "AERO_DATACHANNEL_ORDERED"
	envVarDataChannelMaxRetransmitTime = "AERO_DATACHANNEL_MAX_RETRANSMIT_TIME"
	envVarDataChannelMaxRetransmits    = "AERO_DATACHANNEL_MAX_RETRANSMITS"

	envVarSignalingWSIdleTimeout        = "AERO_DATACHANNEL_SIGNALING_WS_IDLE_TIMEOUT"
	envVarSignalingWSPingInterval       = "AERO_DATACHANNEL_SIGNALING_WS_PING_INTERVAL"
	envVarMaxSignalingMessageBytes      = "AERO_DATACHANNEL_MAX_SIGNALING_MESSAGE_BYTES"
	envVarMaxSignalingMessagesPerSecond = "AERO_DATACHANNEL_MAX_SIGNALING_MESSAGES_PER_SECOND"
)

const (
	envVarWebRTCUDPPortMin = "WEBRTC_UDP_PORT_MIN"
	envVarWebRTCUDPPortMax = "WEBRTC_UDP_PORT_MAX"

	envVarWebRTCNAT1To1IPs             = "WEBRTC_NAT_1TO1_IPS"
	envVarWebRTCNAT1To1IPCandidateType = "WEBRTC_NAT_1TO1_IP_CANDIDATE_TYPE"

	envVarWebRTCUDPListenIP  = "WEBRTC_UDP_LISTEN_IP"
	DefaultWebRTCUDPListenIP = "0.0.0.0"

	// Caps inbound SCTP allocation in pion before data channel handlers run.
	envVarWebRTCSCTPMaxReceiveBufferBytes = "WEBRTC_SCTP_MAX_RECEIVE_BUFFER_BYTES"
)

const (
	flagConfigFile = "config"

	flagWebRTCUDPPortMin = "webrtc-udp-port-min"
	flagWebRTCUDPPortMax = "webrtc-udp-port-max"

	flagWebRTCNAT1To1IPs             = "webrtc-nat-1to1-ips"
	flagWebRTCNAT1To1IPCandidateType = "webrtc-nat-1to1-ip-candidate-type"

	flagWebRTCUDPListenIP = "webrtc-udp-listen-ip"

	flagWebRTCSCTPMaxReceiveBufferBytes = "webrtc-sctp-max-receive-buffer-bytes"

	flagDataChannelLabel             = "datachannel-label"
	flagDataChannelOrdered           = "datachannel-ordered"
	flagDataChannelMaxRetransmitTime = "datachannel-max-retransmit-time"
	flagDataChannelMaxRetransmits    = "datachannel-max-retransmits"

	flagMaxSessions           = "max-sessions"
	flagSessionConnectTimeout = "session-connect-timeout"
)

const (
	DefaultListenAddr = "127.0.0.1:8080"
	DefaultShutdown   = 15 * time.Second
	DefaultMode       = ModeDev

	DefaultSignalingWSIdleTimeout        = 60 * time.Second
	DefaultSignalingWSPingInterval       = 20 * time.Second
	DefaultMaxSignalingMessageBytes      = int64(64 * 1024)
	DefaultMaxSignalingMessagesPerSecond = 50

	DefaultDataChannelLabel   = session.DefaultChannelLabel
	DefaultDataChannelOrdered = true
)

// recommendedWebRTCUDPPortRangeSize is a conservative minimum. Each session
// may use several UDP ports, and running out shows up as hard-to-debug
// connectivity failures.
const recommendedWebRTCUDPPortRangeSize = 100

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type NAT1To1IPCandidateType string

const (
	NAT1To1CandidateTypeHost  NAT1To1IPCandidateType = "host"
	NAT1To1CandidateTypeSrflx NAT1To1IPCandidateType = "srflx"
)

type UDPPortRange struct {
	Min uint16
	Max uint16
}

type Config struct {
	ListenAddr      string
	AllowedOrigins  []string
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration
	Mode            Mode
	// ConfigFile is the TOML file settings were read from, if any.
	ConfigFile string

	ICEServers []webrtc.ICEServer

	WebRTCUDPPortRange              *UDPPortRange
	WebRTCUDPListenIP               net.IP
	WebRTCNAT1To1IPs                []string
	WebRTCNAT1To1IPCandidateType    NAT1To1IPCandidateType
	WebRTCSCTPMaxReceiveBufferBytes int

	// Data channel created for every session. At most one of the retransmit
	// limits is set.
	DataChannelLabel             string
	DataChannelOrdered           bool
	DataChannelMaxRetransmitTime *time.Duration
	DataChannelMaxRetransmits    *uint16

	// MaxSessions caps concurrent sessions (0 = unlimited).
	MaxSessions int
	// SessionConnectTimeout closes sessions whose data channel has not opened
	// in time (0 = never).
	SessionConnectTimeout time.Duration

	SignalingWSIdleTimeout        time.Duration
	SignalingWSPingInterval       time.Duration
	MaxSignalingMessageBytes      int64
	MaxSignalingMessagesPerSecond int

	iceConfigErr error
}

func (c Config) ICEConfigError() error {
	return c.iceConfigErr
}

// ChannelOptions returns the data channel options applied to every session.
func (c Config) ChannelOptions() session.ChannelOptions {
	label := c.DataChannelLabel
	if label == "" {
		label = DefaultDataChannelLabel
	}
	return session.ChannelOptions{
		Label:             label,
		Ordered:           c.DataChannelOrdered,
		MaxRetransmitTime: c.DataChannelMaxRetransmitTime,
		MaxRetransmits:    c.DataChannelMaxRetransmits,
	}
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	configFile := configFileFromArgs(args)
	if configFile == "" {
		configFile = envOrDefault(lookup, envVarConfigFile, "")
	}
	if configFile != "" {
		values, err := loadFile(configFile)
		if err != nil {
			return Config{}, err
		}
		lookup = withFileFallback(lookup, values)
	}

	envMode, _ := lookup(envVarMode)
	modeDefault := string(DefaultMode)
	if envMode != "" {
		modeDefault = envMode
	}

	envLogFormat, envLogFormatOK := lookup(envVarLogFormat)
	envLogFormatSet := envLogFormatOK && envLogFormat != ""
	logFormatDefault := envLogFormat
	if !envLogFormatSet {
		logFormatDefault = defaultLogFormatForMode(modeDefault)
	}

	envLogLevel, envLogLevelOK := lookup(envVarLogLevel)
	envLogLevelSet := envLogLevelOK && envLogLevel != ""
	logLevelDefault := envLogLevel
	if !envLogLevelSet {
		logLevelDefault = defaultLogLevelForMode(modeDefault)
	}

	listenAddr := envOrDefault(lookup, envVarListenAddr, DefaultListenAddr)
	allowedOriginsStr := envOrDefault(lookup, envVarAllowedOrigins, "")
	iceServersJSON := envOrDefault(lookup, envICEServersJSON, "")
	stunURLs := envOrDefault(lookup, envStunURLs, "")
	turnURLs := envOrDefault(lookup, envTurnURLs, "")
	turnUsername := envOrDefault(lookup, envTurnUsername, "")
	turnCredential := envOrDefault(lookup, envTurnCredential, "")

	shutdownTimeout, err := envDurationOrDefault(lookup, envVarShutdownTimeout, DefaultShutdown)
	if err != nil {
		return Config{}, err
	}
	sessionConnectTimeout, err := envDurationOrDefault(lookup, envVarSessionConnectTimeout, 0)
	if err != nil {
		return Config{}, err
	}
	maxSessions, err := envIntOrDefault(lookup, envVarMaxSessions, 0)
	if err != nil {
		return Config{}, err
	}

	dataChannelLabel := envOrDefault(lookup, envVarDataChannelLabel, DefaultDataChannelLabel)
	dataChannelOrdered := DefaultDataChannelOrdered
	if raw, ok := lookup(envVarDataChannelOrdered); ok && strings.TrimSpace(raw) != "" {
		v, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarDataChannelOrdered, raw, err)
		}
		dataChannelOrdered = v
	}
	dataChannelMaxRetransmitTimeStr := envOrDefault(lookup, envVarDataChannelMaxRetransmitTime, "")
	dataChannelMaxRetransmitsStr := envOrDefault(lookup, envVarDataChannelMaxRetransmits, "")

	signalingWSIdleTimeout, err := envDurationOrDefault(lookup, envVarSignalingWSIdleTimeout, DefaultSignalingWSIdleTimeout)
	if err != nil {
		return Config{}, err
	}
	signalingWSPingInterval, err := envDurationOrDefault(lookup, envVarSignalingWSPingInterval, DefaultSignalingWSPingInterval)
	if err != nil {
		return Config{}, err
	}

	maxSignalingMessageBytes := DefaultMaxSignalingMessageBytes
	if raw, ok := lookup(envVarMaxSignalingMessageBytes); ok && strings.TrimSpace(raw) != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarMaxSignalingMessageBytes, raw, err)
		}
		maxSignalingMessageBytes = n
	}
	maxSignalingMessagesPerSecond, err := envIntOrDefault(lookup, envVarMaxSignalingMessagesPerSecond, DefaultMaxSignalingMessagesPerSecond)
	if err != nil {
		return Config{}, err
	}

	// WebRTC network defaults (env values become flag defaults).
	var webrtcUDPPortMin uint
	if raw, ok := lookup(envVarWebRTCUDPPortMin); ok && strings.TrimSpace(raw) != "" {
		p, err := parsePortString(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarWebRTCUDPPortMin, raw, err)
		}
		webrtcUDPPortMin = uint(p)
	}
	var webrtcUDPPortMax uint
	if raw, ok := lookup(envVarWebRTCUDPPortMax); ok && strings.TrimSpace(raw) != "" {
		p, err := parsePortString(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarWebRTCUDPPortMax, raw, err)
		}
		webrtcUDPPortMax = uint(p)
	}
	webrtcUDPListenIPStr := envOrDefault(lookup, envVarWebRTCUDPListenIP, DefaultWebRTCUDPListenIP)
	webrtcNAT1To1IPsStr := envOrDefault(lookup, envVarWebRTCNAT1To1IPs, "")
	webrtcNAT1To1CandidateTypeStr := envOrDefault(lookup, envVarWebRTCNAT1To1IPCandidateType, string(NAT1To1CandidateTypeHost))
	webrtcSCTPMaxReceiveBufferBytes, err := envIntOrDefault(lookup, envVarWebRTCSCTPMaxReceiveBufferBytes, 0)
	if err != nil {
		return Config{}, err
	}

	fs := flag.NewFlagSet("aero-webrtc-datachannel", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		modeStr      string
		logFormatStr string
		logLevelStr  string
	)

	fs.StringVar(&configFile, flagConfigFile, configFile, "Optional TOML config file; keys are flag names (env "+envVarConfigFile+")")
	fs.StringVar(&listenAddr, "listen-addr", listenAddr, "HTTP listen address (host:port)")
	fs.StringVar(&allowedOriginsStr, "allowed-origins", allowedOriginsStr, "Comma-separated list of allowed browser origins (env "+envVarAllowedOrigins+")")
	fs.StringVar(&modeStr, "mode", modeDefault, "Run mode: dev or prod")
	fs.StringVar(&logFormatStr, "log-format", logFormatDefault, "Log format: text or json")
	fs.StringVar(&logLevelStr, "log-level", logLevelDefault, "Log level: debug, info, warn, error")
	fs.DurationVar(&shutdownTimeout, "shutdown-timeout", shutdownTimeout, "Graceful shutdown timeout (e.g. 15s)")
	fs.StringVar(&iceServersJSON, "ice-servers-json", iceServersJSON, "ICE server JSON config ("+envICEServersJSON+")")
	fs.StringVar(&stunURLs, "stun-urls", stunURLs, "comma-separated STUN URLs ("+envStunURLs+")")
	fs.StringVar(&turnURLs, "turn-urls", turnURLs, "comma-separated TURN URLs ("+envTurnURLs+")")
	fs.StringVar(&turnUsername, "turn-username", turnUsername, "TURN username ("+envTurnUsername+")")
	fs.StringVar(&turnCredential, "turn-credential", turnCredential, "TURN credential ("+envTurnCredential+")")

	fs.UintVar(&webrtcUDPPortMin, flagWebRTCUDPPortMin, webrtcUDPPortMin, "Min UDP port for WebRTC ICE (0 = unset; env "+envVarWebRTCUDPPortMin+")")
	fs.UintVar(&webrtcUDPPortMax, flagWebRTCUDPPortMax, webrtcUDPPortMax, "Max UDP port for WebRTC ICE (0 = unset; env "+envVarWebRTCUDPPortMax+")")
	fs.StringVar(&webrtcUDPListenIPStr, flagWebRTCUDPListenIP, webrtcUDPListenIPStr, "Local listen IP for WebRTC ICE UDP sockets (env "+envVarWebRTCUDPListenIP+")")
	fs.StringVar(&webrtcNAT1To1IPsStr, flagWebRTCNAT1To1IPs, webrtcNAT1To1IPsStr, "Comma-separated public IPs to advertise for WebRTC ICE (env "+envVarWebRTCNAT1To1IPs+")")
	fs.StringVar(&webrtcNAT1To1CandidateTypeStr, flagWebRTCNAT1To1IPCandidateType, webrtcNAT1To1CandidateTypeStr, "Candidate type for NAT 1:1 IPs: host or srflx (env "+envVarWebRTCNAT1To1IPCandidateType+")")
	fs.IntVar(&webrtcSCTPMaxReceiveBufferBytes, flagWebRTCSCTPMaxReceiveBufferBytes, webrtcSCTPMaxReceiveBufferBytes, "Max SCTP receive buffer size in bytes (0 = pion default; env "+envVarWebRTCSCTPMaxReceiveBufferBytes+")")

	fs.StringVar(&dataChannelLabel, flagDataChannelLabel, dataChannelLabel, "Label of the data channel created for each session (env "+envVarDataChannelLabel+")")
	fs.BoolVar(&dataChannelOrdered, flagDataChannelOrdered, dataChannelOrdered, "Deliver data channel messages in order (env "+envVarDataChannelOrdered+")")
	fs.StringVar(&dataChannelMaxRetransmitTimeStr, flagDataChannelMaxRetransmitTime, dataChannelMaxRetransmitTimeStr, "Max time to retransmit a message, e.g. 500ms (empty or negative = reliable; exclusive with --"+flagDataChannelMaxRetransmits+"; env "+envVarDataChannelMaxRetransmitTime+")")
	fs.StringVar(&dataChannelMaxRetransmitsStr, flagDataChannelMaxRetransmits, dataChannelMaxRetransmitsStr, "Max retransmissions per message (empty or negative = reliable; exclusive with --"+flagDataChannelMaxRetransmitTime+"; env "+envVarDataChannelMaxRetransmits+")")

	fs.IntVar(&maxSessions, flagMaxSessions, maxSessions, "Maximum concurrent sessions (0 = unlimited; env "+envVarMaxSessions+")")
	fs.DurationVar(&sessionConnectTimeout, flagSessionConnectTimeout, sessionConnectTimeout, "Close sessions whose data channel has not opened after this duration (0 = never; env "+envVarSessionConnectTimeout+")")

	fs.DurationVar(&signalingWSIdleTimeout, "signaling-ws-idle-timeout", signalingWSIdleTimeout, "Close idle signaling WebSocket connections after this duration (0 = never; env "+envVarSignalingWSIdleTimeout+")")
	fs.DurationVar(&signalingWSPingInterval, "signaling-ws-ping-interval", signalingWSPingInterval, "Send ping frames on signaling WebSocket connections at this interval (must be < --signaling-ws-idle-timeout; env "+envVarSignalingWSPingInterval+")")
	fs.Int64Var(&maxSignalingMessageBytes, "max-signaling-message-bytes", maxSignalingMessageBytes, "Max inbound signaling WS message size in bytes (env "+envVarMaxSignalingMessageBytes+")")
	fs.IntVar(&maxSignalingMessagesPerSecond, "max-signaling-messages-per-second", maxSignalingMessagesPerSecond, "Max inbound signaling WS messages per second (0 = unlimited; env "+envVarMaxSignalingMessagesPerSecond+")")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	mode, err := parseMode(modeStr)
	if err != nil {
		return Config{}, err
	}

	setFlags := map[string]bool{}
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})
	// --mode implies log defaults unless they were set explicitly.
	if setFlags["mode"] {
		if !envLogFormatSet && !setFlags["log-format"] {
			logFormatStr = defaultLogFormatForMode(string(mode))
		}
		if !envLogLevelSet && !setFlags["log-level"] {
			logLevelStr = defaultLogLevelForMode(string(mode))
		}
	}

	logFormat, err := parseLogFormat(logFormatStr)
	if err != nil {
		return Config{}, err
	}
	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}

	allowedOrigins, err := parseAllowedOrigins(allowedOriginsStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid %s/--allowed-origins: %w", envVarAllowedOrigins, err)
	}

	if shutdownTimeout <= 0 {
		return Config{}, fmt.Errorf("shutdown timeout must be > 0")
	}
	if maxSessions < 0 {
		return Config{}, fmt.Errorf("%s/--%s must be >= 0", envVarMaxSessions, flagMaxSessions)
	}
	if sessionConnectTimeout < 0 {
		return Config{}, fmt.Errorf("%s/--%s must be >= 0", envVarSessionConnectTimeout, flagSessionConnectTimeout)
	}
	if signalingWSIdleTimeout < 0 {
		return Config{}, fmt.Errorf("%s/--signaling-ws-idle-timeout must be >= 0", envVarSignalingWSIdleTimeout)
	}
	if signalingWSIdleTimeout > 0 {
		if signalingWSPingInterval <= 0 {
			return Config{}, fmt.Errorf("%s/--signaling-ws-ping-interval must be > 0", envVarSignalingWSPingInterval)
		}
		if signalingWSPingInterval >= signalingWSIdleTimeout {
			return Config{}, fmt.Errorf("%s/--signaling-ws-ping-interval (%s) must be < --signaling-ws-idle-timeout (%s)", envVarSignalingWSPingInterval, signalingWSPingInterval, signalingWSIdleTimeout)
		}
	}
	if maxSignalingMessageBytes <= 0 {
		return Config{}, fmt.Errorf("%s/--max-signaling-message-bytes must be > 0", envVarMaxSignalingMessageBytes)
	}
	if maxSignalingMessagesPerSecond < 0 {
		return Config{}, fmt.Errorf("%s/--max-signaling-messages-per-second must be >= 0", envVarMaxSignalingMessagesPerSecond)
	}

	dataChannelLabel = strings.TrimSpace(dataChannelLabel)
	if dataChannelLabel == "" {
		return Config{}, fmt.Errorf("%s/--%s must not be empty", envVarDataChannelLabel, flagDataChannelLabel)
	}
	var dataChannelMaxRetransmitTime *time.Duration
	if raw := strings.TrimSpace(dataChannelMaxRetransmitTimeStr); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s/--%s %q: %w", envVarDataChannelMaxRetransmitTime, flagDataChannelMaxRetransmitTime, raw, err)
		}
		if d >= 0 {
			dataChannelMaxRetransmitTime = &d
		}
	}
	var dataChannelMaxRetransmits *uint16
	if raw := strings.TrimSpace(dataChannelMaxRetransmitsStr); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n > math.MaxUint16 {
			return Config{}, fmt.Errorf("invalid %s/--%s %q: expected an integer <= %d", envVarDataChannelMaxRetransmits, flagDataChannelMaxRetransmits, raw, math.MaxUint16)
		}
		if n >= 0 {
			v := uint16(n)
			dataChannelMaxRetransmits = &v
		}
	}

	var webrtcUDPPortRange *UDPPortRange
	if webrtcUDPPortMin != 0 || webrtcUDPPortMax != 0 {
		if webrtcUDPPortMin == 0 || webrtcUDPPortMax == 0 {
			return Config{}, fmt.Errorf("%s/--%s and %s/--%s must be set together", envVarWebRTCUDPPortMin, flagWebRTCUDPPortMin, envVarWebRTCUDPPortMax, flagWebRTCUDPPortMax)
		}
		minPort, err := parsePortUint(webrtcUDPPortMin)
		if err != nil {
			return Config{}, fmt.Errorf("invalid --%s: %w", flagWebRTCUDPPortMin, err)
		}
		maxPort, err := parsePortUint(webrtcUDPPortMax)
		if err != nil {
			return Config{}, fmt.Errorf("invalid --%s: %w", flagWebRTCUDPPortMax, err)
		}
		if minPort > maxPort {
			return Config{}, fmt.Errorf("--%s (%d) must be <= --%s (%d)", flagWebRTCUDPPortMin, minPort, flagWebRTCUDPPortMax, maxPort)
		}
		if size := int(maxPort) - int(minPort) + 1; size < recommendedWebRTCUDPPortRangeSize {
			return Config{}, fmt.Errorf("WebRTC UDP port range too small (%d ports); need at least %d", size, recommendedWebRTCUDPPortRangeSize)
		}
		webrtcUDPPortRange = &UDPPortRange{Min: minPort, Max: maxPort}
	}

	webrtcUDPListenIP := net.ParseIP(strings.TrimSpace(webrtcUDPListenIPStr))
	if webrtcUDPListenIP == nil {
		return Config{}, fmt.Errorf("invalid %s/--%s %q", envVarWebRTCUDPListenIP, flagWebRTCUDPListenIP, webrtcUDPListenIPStr)
	}

	var webrtcNAT1To1IPs []string
	if strings.TrimSpace(webrtcNAT1To1IPsStr) != "" {
		webrtcNAT1To1IPs, err = parseIPList(webrtcNAT1To1IPsStr)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s/--%s: %w", envVarWebRTCNAT1To1IPs, flagWebRTCNAT1To1IPs, err)
		}
	}
	webrtcNAT1To1CandidateType, err := parseCandidateType(webrtcNAT1To1CandidateTypeStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid %s/--%s: %w", envVarWebRTCNAT1To1IPCandidateType, flagWebRTCNAT1To1IPCandidateType, err)
	}

	if err := validateSCTPMaxReceiveBufferBytes(webrtcSCTPMaxReceiveBufferBytes); err != nil {
		return Config{}, fmt.Errorf("invalid %s/--%s: %w", envVarWebRTCSCTPMaxReceiveBufferBytes, flagWebRTCSCTPMaxReceiveBufferBytes, err)
	}

	cfg := Config{
		ListenAddr:      listenAddr,
		AllowedOrigins:  allowedOrigins,
		LogFormat:       logFormat,
		LogLevel:        level,
		ShutdownTimeout: shutdownTimeout,
		Mode:            mode,
		ConfigFile:      configFile,

		WebRTCUDPPortRange:              webrtcUDPPortRange,
		WebRTCUDPListenIP:               webrtcUDPListenIP,
		WebRTCNAT1To1IPs:                webrtcNAT1To1IPs,
		WebRTCNAT1To1IPCandidateType:    webrtcNAT1To1CandidateType,
		WebRTCSCTPMaxReceiveBufferBytes: webrtcSCTPMaxReceiveBufferBytes,

		DataChannelLabel:             dataChannelLabel,
		DataChannelOrdered:           dataChannelOrdered,
		DataChannelMaxRetransmitTime: dataChannelMaxRetransmitTime,
		DataChannelMaxRetransmits:    dataChannelMaxRetransmits,

		MaxSessions:           maxSessions,
		SessionConnectTimeout: sessionConnectTimeout,

		SignalingWSIdleTimeout:        signalingWSIdleTimeout,
		SignalingWSPingInterval:       signalingWSPingInterval,
		MaxSignalingMessageBytes:      maxSignalingMessageBytes,
		MaxSignalingMessagesPerSecond: maxSignalingMessagesPerSecond,
	}

	if err := cfg.ChannelOptions().Validate(); err != nil {
		return Config{}, fmt.Errorf("--%s/--%s: %w", flagDataChannelMaxRetransmitTime, flagDataChannelMaxRetransmits, err)
	}

	iceServers, err := parseICEServersFromValues(iceServersJSON, stunURLs, turnURLs, turnUsername, turnCredential)
	if err != nil {
		cfg.iceConfigErr = err
	} else {
		cfg.ICEServers = iceServers
	}

	return cfg, nil
}

func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func defaultLogFormatForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return string(LogFormatJSON)
	default:
		return string(LogFormatText)
	}
}

func defaultLogLevelForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return "info"
	default:
		return "debug"
	}
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid mode %q (expected dev or prod)", raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (expected text or json)", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (expected debug, info, warn, error)", raw)
	}
}

func IsUnspecifiedIP(ip net.IP) bool {
	return ip == nil || ip.Equal(net.IPv4zero) || ip.Equal(net.IPv6zero)
}

func parseAllowedOrigins(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	var out []string
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if entry == "*" || entry == "null" {
			out = append(out, entry)
			continue
		}

		normalizedOrigin, _, ok := origin.NormalizeHeader(entry)
		if !ok {
			return nil, fmt.Errorf("invalid origin %q (expected full origin like https://example.com)", entry)
		}
		out = append(out, normalizedOrigin)
	}

	return out, nil
}

func parsePortString(s string) (uint16, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	return parsePortUint(uint(v))
}

func parsePortUint(v uint) (uint16, error) {
	if v == 0 || v > 65535 {
		return 0, fmt.Errorf("port %d out of range (1-65535)", v)
	}
	return uint16(v), nil
}

func parseCandidateType(s string) (NAT1To1IPCandidateType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(NAT1To1CandidateTypeHost):
		return NAT1To1CandidateTypeHost, nil
	case string(NAT1To1CandidateTypeSrflx):
		return NAT1To1CandidateTypeSrflx, nil
	default:
		return "", fmt.Errorf("unknown candidate type %q", s)
	}
}

func parseIPList(s string) ([]string, error) {
	var out []string
	for _, raw := range strings.Split(s, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		ip := net.ParseIP(raw)
		if ip == nil {
			return nil, fmt.Errorf("invalid IP %q", raw)
		}
		out = append(out, ip.String())
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("must include at least one IP")
	}
	return out, nil
}
