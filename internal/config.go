package internal

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/navigator/internal/detect"
	"github.com/starford/navigator/internal/logging"
	"github.com/starford/navigator/internal/navcache"
	"github.com/starford/navigator/internal/parser"
	"github.com/starford/navigator/internal/thumbnail"
	"github.com/starford/navigator/internal/vault"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App         ApplicationConfig `yaml:"app"`
	Vault       VaultConfig       `yaml:"vault"`
	Cache       CacheConfig       `yaml:"cache"`
	Content     ContentConfig     `yaml:"content"`
	Frontmatter FrontmatterConfig `yaml:"frontmatter"`
	Appearance  AppearanceConfig  `yaml:"appearance"`
	Auth        AuthConfig        `yaml:"auth"`
	MCP         MCPConfig         `yaml:"mcp"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Vault.Validate(); err != nil {
		return err
	}
	if err := c.Cache.Validate(); err != nil {
		return err
	}
	if err := c.Content.Validate(); err != nil {
		return err
	}
	if err := c.Frontmatter.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	Log      LogConfig  `yaml:"log"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// LogConfig mirrors logs into a rotated file when File is set.
type LogConfig struct {
	File     string            `yaml:"file"`
	Stdout   bool              `yaml:"stdout"`
	Rotation logging.Rotation `yaml:"rotation"`
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// VaultConfig describes the watched note folder.
type VaultConfig struct {
	Path           string        `yaml:"path"`
	Extensions     []string      `yaml:"extensions"`
	IgnoredFolders []string      `yaml:"ignored_folders"`
	RenameWindow   time.Duration `yaml:"rename_window"`
}

// Validate validates the vault configuration.
func (c *VaultConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
		validation.Field(&c.Extensions, validation.Each(validation.By(dotted))),
		validation.Field(&c.RenameWindow, validation.Min(time.Duration(0))),
	)
}

func dotted(v any) error {
	if s, _ := v.(string); !strings.HasPrefix(s, ".") {
		return fmt.Errorf("must start with a dot")
	}
	return nil
}

// Options converts the section for vault.NewFS.
func (c *VaultConfig) Options() vault.Options {
	return vault.Options{Extensions: c.Extensions, IgnoredFolders: c.IgnoredFolders}
}

// CacheConfig bounds the metadata cache. Zero sizes take the platform
// defaults selected by Constrained.
type CacheConfig struct {
	Dir                         string        `yaml:"dir"`
	InstanceID                  string        `yaml:"instance_id"`
	Constrained                 bool          `yaml:"constrained"`
	FeatureImageCacheMaxEntries int           `yaml:"feature_image_cache_max_entries"`
	PreviewTextCacheMaxEntries  int           `yaml:"preview_text_cache_max_entries"`
	PreviewLoadMaxBatch         int           `yaml:"preview_load_max_batch"`
	BlobStoreMaxEntries         int           `yaml:"blob_store_max_entries"`
	MaxBatch                    int           `yaml:"max_batch"`
	TickInterval                time.Duration `yaml:"tick_interval"`
	HashContent                 *bool         `yaml:"hash_content"`
}

// Validate validates the cache configuration.
func (c *CacheConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Dir, validation.Required),
		validation.Field(&c.FeatureImageCacheMaxEntries, validation.Min(0)),
		validation.Field(&c.PreviewTextCacheMaxEntries, validation.Min(0)),
		validation.Field(&c.PreviewLoadMaxBatch, validation.Min(0)),
		validation.Field(&c.BlobStoreMaxEntries, validation.Min(0)),
		validation.Field(&c.MaxBatch, validation.Min(0)),
		validation.Field(&c.TickInterval, validation.Min(time.Duration(0))),
	)
}

// ContentConfig tunes the content providers.
type ContentConfig struct {
	PreviewLength          int      `yaml:"preview_length"`
	SkipHeadings           bool     `yaml:"skip_headings"`
	SkipCodeBlocks         bool     `yaml:"skip_code_blocks"`
	FeatureImageProperties []string `yaml:"feature_image_properties"`
	PropertyKeys           []string `yaml:"property_keys"`
	ThumbnailSize          int      `yaml:"thumbnail_size"`
	ThumbnailQuality       int      `yaml:"thumbnail_quality"`
}

// Validate validates the content configuration.
func (c *ContentConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.PreviewLength, validation.Min(0), validation.Max(10000)),
		validation.Field(&c.ThumbnailSize, validation.Min(0), validation.Max(4096)),
		validation.Field(&c.ThumbnailQuality, validation.Min(0), validation.Max(100)),
	)
}

// Thumbnails returns generator options.
func (c *ContentConfig) Thumbnails() thumbnail.Options {
	return thumbnail.Options{MaxDimension: c.ThumbnailSize, Quality: c.ThumbnailQuality}
}

// FrontmatterConfig names the frontmatter keys read into metadata.
type FrontmatterConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Tags         bool   `yaml:"tags"`
	FeatureImage bool   `yaml:"feature_image"`
	Name         string `yaml:"name"`
	Created      string `yaml:"created"`
	Modified     string `yaml:"modified"`
	Icon         string `yaml:"icon"`
	Color        string `yaml:"color"`
	DateFormat   string `yaml:"date_format"`
}

// Validate validates the frontmatter configuration.
func (c *FrontmatterConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Name, validation.Required),
		validation.Field(&c.Created, validation.Required),
		validation.Field(&c.Modified, validation.Required),
	)
}

// AppearanceConfig locates the sidecar settings file.
type AppearanceConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// MCPConfig toggles the MCP tools on the HTTP server.
type MCPConfig struct {
	Enabled bool `yaml:"enabled"`
}

// CacheOptions assembles navcache options from the cache, content and
// frontmatter sections.
func (c *Config) CacheOptions() navcache.Options {
	o := navcache.DefaultOptions(c.Cache.Constrained)
	o.DatabaseDir = c.Cache.Dir
	if v := c.Cache.FeatureImageCacheMaxEntries; v > 0 {
		o.FeatureImageCacheMaxEntries = v
	}
	if v := c.Cache.PreviewTextCacheMaxEntries; v > 0 {
		o.PreviewTextCacheMaxEntries = v
	}
	if v := c.Cache.PreviewLoadMaxBatch; v > 0 {
		o.PreviewLoadMaxBatch = v
	}
	if v := c.Cache.BlobStoreMaxEntries; v > 0 {
		o.BlobStoreMaxEntries = v
	}
	if v := c.Cache.MaxBatch; v > 0 {
		o.MaxBatch = v
	}
	if v := c.Cache.TickInterval; v > 0 {
		o.TickInterval = v
	}
	if c.Cache.HashContent != nil {
		o.HashContent = *c.Cache.HashContent
	}

	o.Content.Preview = parser.PreviewOptions{
		MaxLength:      c.Content.PreviewLength,
		SkipHeadings:   c.Content.SkipHeadings,
		SkipCodeBlocks: c.Content.SkipCodeBlocks,
	}
	o.Content.Image = parser.ImageOptions{Properties: c.Content.FeatureImageProperties}
	o.Content.PropertyKeys = c.Content.PropertyKeys
	o.Content.Frontmatter = c.Frontmatter.Enabled
	o.Content.Fields = parser.FieldMap{
		Name:       c.Frontmatter.Name,
		Created:    c.Frontmatter.Created,
		Modified:   c.Frontmatter.Modified,
		Icon:       c.Frontmatter.Icon,
		Color:      c.Frontmatter.Color,
		DateFormat: c.Frontmatter.DateFormat,
	}
	o.Detect = detect.Options{
		FrontmatterTags:  c.Frontmatter.Enabled && c.Frontmatter.Tags,
		FrontmatterImage: c.Frontmatter.Enabled && c.Frontmatter.FeatureImage,
	}
	return o
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			Log: LogConfig{
				Stdout:   true,
				Rotation: logging.Rotation{MaxSizeMB: 50, MaxBackups: 3, MaxAgeDays: 28},
			},
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Vault: VaultConfig{
			Path:         "./vault",
			Extensions:   []string{".md"},
			RenameWindow: vault.DefaultRenameWindow,
		},
		Cache: CacheConfig{
			Dir: "./data",
		},
		Content: ContentConfig{
			PreviewLength:    parser.DefaultPreviewLength,
			SkipCodeBlocks:   true,
			ThumbnailSize:    thumbnail.DefaultMaxDimension,
			ThumbnailQuality: thumbnail.DefaultQuality,
		},
		Frontmatter: FrontmatterConfig{
			Enabled:      true,
			Tags:         true,
			FeatureImage: true,
			Name:         parser.DefaultFieldMap.Name,
			Created:      parser.DefaultFieldMap.Created,
			Modified:     parser.DefaultFieldMap.Modified,
			Icon:         parser.DefaultFieldMap.Icon,
			Color:        parser.DefaultFieldMap.Color,
		},
		Appearance: AppearanceConfig{
			Path: "./data/appearance.yaml",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
