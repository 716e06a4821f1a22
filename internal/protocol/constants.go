package protocol

import "time"

// Sentinel lines. A payload line must never equal one of these.
const (
	EndCommand  = "END_CMD"
	EndResponse = "END_RESPONSE"
	StatusOK    = "OK"
	StatusError = "ERROR"
)

// Reserved commands understood by every worker.
const (
	CmdPing = "PING"
	CmdQuit = "QUIT"

	// PingAck is the acknowledgement a live worker sends back for CmdPing.
	PingAck = "PONG"
)

// ProgressPrefix marks an ephemeral progress line, e.g. "PROGRESS:1250 ns".
// Progress lines are payload-level output, not part of the envelope.
const ProgressPrefix = "PROGRESS:"

// Timing defaults
const (
	DefaultConnectTimeout = 5 * time.Second
	DefaultCommandTimeout = 10 * time.Minute // builds are slow
	DefaultPingTimeout    = 2 * time.Second
	DefaultQuitTimeout    = 5 * time.Second
	DefaultInterruptGrace = 30 * time.Second
)

// Exit codes surfaced to the shell.
const (
	ExitOK          = 0
	ExitRemote      = 1
	ExitTransport   = 2
	ExitLocked      = 3
	ExitLaunch      = 4
	ExitNotRunning  = 5
	ExitUsage       = 64
	ExitInterrupted = 130
)
