package internal

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config  *Config
	version string
	// mcpStdio serves MCP on stdin/stdout instead of starting the HTTP server.
	mcpStdio bool
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithVersion sets the version reported to MCP clients.
func WithVersion(v string) Option {
	return func(a *application) {
		a.version = v
	}
}

// WithMCPStdio runs the MCP tools over stdio instead of serving HTTP.
func WithMCPStdio() Option {
	return func(a *application) {
		a.mcpStdio = true
	}
}
