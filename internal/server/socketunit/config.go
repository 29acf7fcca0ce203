package socketunit

import "time"

// Config holds the manifest surface enumerated in spec.md §6, with the
// defaults spec.md §3 names.
type Config struct {
	BindIPv6Only    bool
	Backlog         int // default 128 (the classic SOMAXCONN), set by DefaultConfig
	BindToDevice    string
	DirectoryMode   uint32 // default 0o755
	SocketMode      uint32 // default 0o666
	Accept          bool
	MaxConnections  int // default 64
	KeepAlive       bool
	Priority        int // default -1 (unset)
	ReceiveBuffer   int
	SendBuffer      int
	IPTOS           int
	IPTTL           int
	Mark            int
	PipeSize        int
	FreeBind        bool
	Transparent     bool
	Broadcast       bool
	PassCredentials bool
	PassSecurity    bool
	TCPCongestion   string
	ReusePort       bool
	SmackLabel      string
	SmackLabelIPIn  string
	SmackLabelIPOut string

	MessageQueueMaxMessages int64
	MessageQueueMessageSize int64

	SocketUser  string
	SocketGroup string

	TimeoutUsec int64

	// Trigger-limit: a ratelimit on shared-descriptor re-activation,
	// supplemented from the original implementation (SPEC_FULL.md §3).
	TriggerLimitIntervalUsec int64
	TriggerLimitBurst        int

	KillModeControlGroup bool // required when PAMName != ""
	PAMName              string

	// SendSigkill gates the timer-driven escalation from SIGTERM to
	// SIGKILL in StopPreSigterm/FinalSigterm (spec.md §4.1's timer
	// table). Defaults true.
	SendSigkill bool

	DefaultDependencies bool
}

// DefaultConfig returns a Config with every spec.md §3 default applied.
func DefaultConfig() Config {
	return Config{
		Backlog:        128, // SOMAXCONN on Linux
		DirectoryMode:  0o755,
		SocketMode:     0o666,
		MaxConnections: 64,
		Priority:       -1,
		TimeoutUsec:    int64(90 * time.Second / time.Microsecond),
		SendSigkill:    true,
	}
}
