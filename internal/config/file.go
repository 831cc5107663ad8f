package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// fileKeys maps config file keys (the flag names) to the environment variable
// each one backs. File values only apply when that variable is unset.
var fileKeys = map[string]string{
	"listen-addr":      envVarListenAddr,
	"allowed-origins":  envVarAllowedOrigins,
	"mode":             envVarMode,
	"log-format":       envVarLogFormat,
	"log-level":        envVarLogLevel,
	"shutdown-timeout": envVarShutdownTimeout,

	"ice-servers-json": envICEServersJSON,
	"stun-urls":        envStunURLs,
	"turn-urls":        envTurnURLs,
	"turn-username":    envTurnUsername,
	"turn-credential":  envTurnCredential,

	flagWebRTCUDPPortMin:                envVarWebRTCUDPPortMin,
	flagWebRTCUDPPortMax:                envVarWebRTCUDPPortMax,
	flagWebRTCUDPListenIP:               envVarWebRTCUDPListenIP,
	flagWebRTCNAT1To1IPs:                envVarWebRTCNAT1To1IPs,
	flagWebRTCNAT1To1IPCandidateType:    envVarWebRTCNAT1To1IPCandidateType,
	flagWebRTCSCTPMaxReceiveBufferBytes: envVarWebRTCSCTPMaxReceiveBufferBytes,

	flagDataChannelLabel:             envVarDataChannelLabel,
	flagDataChannelOrdered:           envVarDataChannelOrdered,
	flagDataChannelMaxRetransmitTime: envVarDataChannelMaxRetransmitTime,
	flagDataChannelMaxRetransmits:    envVarDataChannelMaxRetransmits,

	flagMaxSessions:           envVarMaxSessions,
	flagSessionConnectTimeout: envVarSessionConnectTimeout,

	"signaling-ws-idle-timeout":         envVarSignalingWSIdleTimeout,
	"signaling-ws-ping-interval":        envVarSignalingWSPingInterval,
	"max-signaling-message-bytes":       envVarMaxSignalingMessageBytes,
	"max-signaling-messages-per-second": envVarMaxSignalingMessagesPerSecond,
}

// loadFile reads a flat TOML file and returns its values keyed by the
// environment variable they stand in for.
func loadFile(path string) (map[string]string, error) {
	var raw map[string]any
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]string, len(raw))
	for _, key := range keys {
		env, ok := fileKeys[key]
		if !ok {
			return nil, fmt.Errorf("config file %s: unknown key %q", path, key)
		}
		v, err := fileValueString(raw[key])
		if err != nil {
			return nil, fmt.Errorf("config file %s: %s: %w", path, key, err)
		}
		out[env] = v
	}
	return out, nil
}

func fileValueString(v any) (string, error) {
	switch v := v.(type) {
	case string:
		return v, nil
	case bool:
		return strconv.FormatBool(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return "", fmt.Errorf("arrays must contain strings, got %T", item)
			}
			parts = append(parts, s)
		}
		return strings.Join(parts, ","), nil
	default:
		return "", fmt.Errorf("unsupported value type %T", v)
	}
}

func withFileFallback(lookup func(string) (string, bool), values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		if v, ok := lookup(key); ok && v != "" {
			return v, true
		}
		v, ok := values[key]
		return v, ok
	}
}

// configFileFromArgs finds --config ahead of full flag parsing, since the
// file supplies flag defaults.
func configFileFromArgs(args []string) string {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			break
		}
		if !strings.HasPrefix(arg, "-") {
			continue
		}
		name := strings.TrimLeft(arg, "-")
		if value, ok := strings.CutPrefix(name, flagConfigFile+"="); ok {
			return value
		}
		if name == flagConfigFile && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}
