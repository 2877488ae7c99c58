// Package config loads, validates, persists and hot-reloads the declarative
// configuration set: one root config plus the clients, servers, events and
// sinks category directories.
package config

import (
	"github.com/user/notifirc/pkg/filter"
)

// Category names, doubling as sub-directory names under the config root.
const (
	CategoryClients = "clients"
	CategoryServers = "servers"
	CategoryEvents  = "events"
	CategorySinks   = "sinks"
)

// Categories lists every category in load order.
var Categories = []string{CategoryClients, CategoryServers, CategoryEvents, CategorySinks}

// Base event tags events can be written against.
var BaseEvents = []string{
	"message", "join", "part", "quit", "nick", "kick",
	"mode", "topic", "connect", "disconnect", "any",
}

// Sink kinds.
const (
	SinkKindNtfy    = "ntfy"
	SinkKindWebhook = "webhook"
	SinkKindConsole = "console"
	SinkKindFile    = "file"
	SinkKindCustom  = "custom"
)

// Root is the top-level configuration (config.json).
type Root struct {
	PollingInterval     int    `json:"pollingInterval,omitempty"` // milliseconds
	Debug               bool   `json:"debug,omitempty"`
	LogDirectory        string `json:"logDirectory,omitempty"`
	ConfigDirectory     string `json:"configDirectory,omitempty"`
	RescanLogsOnStartup bool   `json:"rescanLogsOnStartup,omitempty"`
	API                 *API   `json:"api,omitempty"`
}

// API is the optional control-plane sub-record of the root config.
type API struct {
	Enabled       bool   `json:"enabled"`
	Port          int    `json:"port,omitempty"`
	Host          string `json:"host,omitempty"`
	AuthToken     string `json:"authToken,omitempty"`
	EnableFileOps bool   `json:"enableFileOps,omitempty"`
}

// PathPattern extracts one capture group from a log file path.
type PathPattern struct {
	Pattern string `json:"pattern"`
	Group   int    `json:"group,omitempty"` // defaults to 1
}

// Discovery describes how a client's log files are found and how
// target/server identifiers are extracted from each path.
type Discovery struct {
	ConsoleGlobs []string `json:"consoleGlobs,omitempty"`
	ChannelGlobs []string `json:"channelGlobs,omitempty"`
	QueryGlobs   []string `json:"queryGlobs,omitempty"`

	ServerPattern  *PathPattern `json:"serverPattern,omitempty"`
	ConsolePattern *PathPattern `json:"consolePattern,omitempty"`
	ChannelPattern *PathPattern `json:"channelPattern,omitempty"`
	QueryPattern   *PathPattern `json:"queryPattern,omitempty"`
}

// Server discovery modes.
const (
	DiscoverStatic     = "static"
	DiscoverFilesystem = "filesystem"
	DiscoverJSON       = "json"
	DiscoverSQLite     = "sqlite"
)

// ServerDiscovery describes how a client enumerates the servers it is
// connected to.
type ServerDiscovery struct {
	Mode string `json:"mode"`

	// static
	Servers []Server `json:"servers,omitempty"`

	// filesystem
	Glob            string `json:"glob,omitempty"`
	HostnamePattern string `json:"hostnamePattern,omitempty"`

	// json + sqlite
	Path          string `json:"path,omitempty"`
	HostnameField string `json:"hostnameField,omitempty"`

	// sqlite
	Query string `json:"query,omitempty"`
}

// FileType describes the storage format of a client's log files. Only text
// is fully supported; sqlite and json may be declared with their own read
// cadence.
type FileType struct {
	Type         string `json:"type"`
	ReadInterval int    `json:"readInterval,omitempty"` // milliseconds
}

// ParserRule is one prioritized regex rule turning a raw line into a record.
type ParserRule struct {
	Name        string            `json:"name"`
	Pattern     string            `json:"pattern"`
	Flags       string            `json:"flags,omitempty"`
	MessageType string            `json:"messageType,omitempty"`
	Fields      map[string]string `json:"fields,omitempty"`
	Skip        bool              `json:"skip,omitempty"`
	Priority    int               `json:"priority,omitempty"`
}

// Client configures one IRC client kind/instance.
type Client struct {
	ID              string           `json:"id"`
	Type            string           `json:"type"`
	Name            string           `json:"name,omitempty"`
	Enabled         *bool            `json:"enabled,omitempty"`
	LogDirectory    string           `json:"logDirectory"`
	Discovery       Discovery        `json:"discovery"`
	ServerDiscovery *ServerDiscovery `json:"serverDiscovery,omitempty"`
	FileType        *FileType        `json:"fileType,omitempty"`
	ParserRules     []ParserRule     `json:"parserRules"`
	Metadata        map[string]any   `json:"metadata,omitempty"`
}

// IsEnabled treats an absent enabled flag as true.
func (c *Client) IsEnabled() bool { return c.Enabled == nil || *c.Enabled }

// User is a known user on a server, keyed by nickname.
type User struct {
	Realname string         `json:"realname,omitempty"`
	Modes    []string       `json:"modes,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Server configures one IRC server connection context.
type Server struct {
	ID             string          `json:"id"`
	Hostname       string          `json:"hostname"`
	DisplayName    string          `json:"displayName,omitempty"`
	ClientNickname string          `json:"clientNickname,omitempty"`
	Network        string          `json:"network,omitempty"`
	Port           int             `json:"port,omitempty"`
	TLS            bool            `json:"tls,omitempty"`
	Enabled        *bool           `json:"enabled,omitempty"`
	Users          map[string]User `json:"users,omitempty"`
	Metadata       map[string]any  `json:"metadata,omitempty"`
}

// IsEnabled treats an absent enabled flag as true.
func (s *Server) IsEnabled() bool { return s.Enabled == nil || *s.Enabled }

// Event is a declarative notification rule.
type Event struct {
	ID        string         `json:"id"`
	Name      string         `json:"name,omitempty"`
	Enabled   *bool          `json:"enabled,omitempty"`
	BaseEvent string         `json:"baseEvent"`
	ServerIDs []string       `json:"serverIds,omitempty"`
	Filters   *filter.Node   `json:"filters,omitempty"`
	SinkIDs   []string       `json:"sinkIds,omitempty"`
	Priority  int            `json:"priority,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// IsEnabled treats an absent enabled flag as true.
func (e *Event) IsEnabled() bool { return e.Enabled == nil || *e.Enabled }

// Template configures how a sink renders notifications.
type Template struct {
	Title  string `json:"title,omitempty"`
	Body   string `json:"body,omitempty"`
	Format string `json:"format,omitempty"` // text, markdown, json
}

// RateLimit caps deliveries per sink over trailing windows.
type RateLimit struct {
	MaxPerMinute int `json:"maxPerMinute,omitempty"`
	MaxPerHour   int `json:"maxPerHour,omitempty"`
}

// Sink configures one notification destination.
type Sink struct {
	ID              string         `json:"id"`
	Kind            string         `json:"kind"`
	Name            string         `json:"name,omitempty"`
	Enabled         *bool          `json:"enabled,omitempty"`
	Config          map[string]any `json:"config,omitempty"`
	Template        *Template      `json:"template,omitempty"`
	RateLimit       *RateLimit     `json:"rateLimit,omitempty"`
	AllowedMetadata []string       `json:"allowedMetadata,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// IsEnabled treats an absent enabled flag as true.
func (s *Sink) IsEnabled() bool { return s.Enabled == nil || *s.Enabled }

// Bool is a convenience for building *bool literals in configs and tests.
func Bool(b bool) *bool { return &b }
