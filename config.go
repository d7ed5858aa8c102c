package mysql

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
)

// Default connection and pool settings.
const (
	DefaultHost           = "127.0.0.1"
	DefaultPort           = 3306
	DefaultCharset        = "utf8mb4"
	DefaultCollation      = "utf8mb4_unicode_ci"
	DefaultConnectTimeout = 10 * time.Second
	DefaultPoolSize       = 5
	DefaultPoolOverflow   = 10
	DefaultAcquireTimeout = 30 * time.Second
	DefaultStaleAfter     = 8 * time.Hour
	DefaultRetryBase      = 100 * time.Millisecond
	DefaultRetryMax       = 2 * time.Second
	DefaultRetryAttempts  = 3
)

// defaultInitCommand is executed on every new connection before it is
// handed out. Strict mode keeps truncation and zero-date coercions from
// silently corrupting round-tripped values.
const defaultInitCommand = "SET sql_mode = 'STRICT_TRANS_TABLES'"

// Config holds connection, session and pool settings for a Backend.
// The zero value is not usable; start from DefaultConfig.
type Config struct {
	// Connection endpoint and credentials.
	Host     string
	Port     int
	User     string
	Password string
	Database string

	// Session settings applied to every connection.
	Charset     string
	Collation   string
	TimeZone    *time.Location // nil means the server default
	InitCommand string         // executed after connect; see defaultInitCommand
	Autocommit  bool
	TLS         string // driver TLS profile: "", "true", "skip-verify" or a registered name

	// Network timeouts.
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration

	// Pool sizing and acquire behavior.
	PoolSize       int           // base number of pooled connections
	PoolOverflow   int           // extra connections allowed under burst load
	AcquireTimeout time.Duration // how long Acquire waits before PoolExhaustedError
	StaleAfter     time.Duration // idle age beyond which a connection is ping-validated

	// Retry behavior for transient connect failures during Acquire.
	RetryBase     time.Duration // first backoff delay
	RetryMax      time.Duration // ceiling on a single delay
	RetryAttempts int           // total connect attempts per acquire

	// ServerVersion pins the version used for capability detection,
	// skipping the SELECT VERSION() probe. Leave empty to detect.
	ServerVersion string
}

// DefaultConfig returns a Config populated with the default settings.
func DefaultConfig() Config {
	return Config{
		Host:           DefaultHost,
		Port:           DefaultPort,
		Charset:        DefaultCharset,
		Collation:      DefaultCollation,
		InitCommand:    defaultInitCommand,
		Autocommit:     true,
		ConnectTimeout: DefaultConnectTimeout,
		PoolSize:       DefaultPoolSize,
		PoolOverflow:   DefaultPoolOverflow,
		AcquireTimeout: DefaultAcquireTimeout,
		StaleAfter:     DefaultStaleAfter,
		RetryBase:      DefaultRetryBase,
		RetryMax:       DefaultRetryMax,
		RetryAttempts:  DefaultRetryAttempts,
	}
}

// Addr returns the host:port endpoint.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// normalize fills unset fields with defaults and bounds pool settings.
func (c *Config) normalize() {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Charset == "" {
		c.Charset = DefaultCharset
	}
	if c.Collation == "" {
		c.Collation = DefaultCollation
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.PoolSize <= 0 {
		c.PoolSize = DefaultPoolSize
	}
	if c.PoolOverflow < 0 {
		c.PoolOverflow = 0
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = DefaultAcquireTimeout
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = DefaultStaleAfter
	}
	if c.RetryBase <= 0 {
		c.RetryBase = DefaultRetryBase
	}
	if c.RetryMax < c.RetryBase {
		c.RetryMax = DefaultRetryMax
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = DefaultRetryAttempts
	}
}

// DSN renders the driver connection string. Session settings that the
// driver does not model directly travel as connection parameters.
func (c Config) DSN() string {
	dc := mysql.NewConfig()
	dc.Net = "tcp"
	dc.Addr = c.Addr()
	dc.User = c.User
	dc.Passwd = c.Password
	dc.DBName = c.Database
	dc.Collation = c.Collation
	dc.Timeout = c.ConnectTimeout
	dc.ReadTimeout = c.ReadTimeout
	dc.WriteTimeout = c.WriteTimeout
	dc.ParseTime = true
	dc.MultiStatements = false
	dc.TLSConfig = c.TLS
	if c.TimeZone != nil {
		dc.Loc = c.TimeZone
	}
	dc.Params = map[string]string{
		"charset": c.Charset,
	}
	if !c.Autocommit {
		dc.Params["autocommit"] = "0"
	}
	if c.TimeZone != nil {
		dc.Params["time_zone"] = fmt.Sprintf("'%s'", c.TimeZone.String())
	}
	return dc.FormatDSN()
}
