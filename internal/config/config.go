// Package config holds the plain configuration record reactor.New
// accepts: a data bag, not a parser. The CLI layer (cmd/webserver) is the only
// thing that knows how to fill it in.
package config

import "time"

// TriggerMode selects the epoll edge/level combination for the listen
// socket and for client connections.
type TriggerMode int

const (
	// LTListenLTConn: level-triggered listen, level-triggered connections.
	LTListenLTConn TriggerMode = iota
	// LTListenETConn: level-triggered listen, edge-triggered connections.
	LTListenETConn
	// ETListenLTConn: edge-triggered listen, level-triggered connections.
	ETListenLTConn
	// ETListenETConn: edge-triggered listen, edge-triggered connections.
	ETListenETConn
)

// ListenEdgeTriggered reports whether the listening socket is registered
// edge-triggered under this mode.
func (m TriggerMode) ListenEdgeTriggered() bool {
	return m == ETListenLTConn || m == ETListenETConn
}

// ConnEdgeTriggered reports whether client connections are registered
// edge-triggered under this mode.
func (m TriggerMode) ConnEdgeTriggered() bool {
	return m == LTListenETConn || m == ETListenETConn
}

// DBConfig names the database this server's form-action handler leases
// connections from.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	PoolSize int
}

// LogConfig controls the async log sink.
type LogConfig struct {
	Enabled       bool
	Level         int // see asynclog.Level
	Dir           string
	Suffix        string
	AsyncQueueCap int // 0 => synchronous writes
}

// Config is the full set of options Server::new (reactor.New) accepts.
type Config struct {
	Port      int
	SrcDir    string
	TrigMode  TriggerMode
	TimeoutMS int64 // 0 disables idle timeout
	OptLinger bool

	DB  DBConfig
	Log LogConfig

	ThreadNum int

	// MaxFD bounds simultaneous connections; the 65537th client gets an
	// inline 503 at the default of 65536.
	MaxFD int

	// AcceptCap bounds how many connections one listen-readable event
	// accepts before yielding back to the poll loop.
	AcceptCap int

	// PollTimeout bounds how long a single poll() call may block when no
	// timer is scheduled; see timerwheel.New's sentinelWait.
	PollTimeout time.Duration
}

// Default returns a Config with working defaults for anything the caller
// doesn't override.
func Default() Config {
	return Config{
		Port:        1316,
		TrigMode:    ETListenETConn,
		TimeoutMS:   60_000,
		OptLinger:   false,
		ThreadNum:   4,
		MaxFD:       65536,
		AcceptCap:   64,
		PollTimeout: time.Second,
		Log: LogConfig{
			Enabled:       true,
			Dir:           "./log",
			Suffix:        ".log",
			AsyncQueueCap: 1024,
		},
	}
}
