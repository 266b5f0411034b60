package config

import (
	_ "embed"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
	"github.com/tomas/slidemanager-daemon/internal/constants"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Config is the daemon-scoped configuration, loaded once at startup and
// passed explicitly to every worker instead of relying on package-level
// globals.
type Config struct {
	OpenAI   OpenAIConfig
	Server   ServerConfig
	Defaults JobOptions
}

type OpenAIConfig struct {
	APIKey string
}

type ServerConfig struct {
	Host string
	Port int
}

// JobOptions is the typed options record replacing the dynamic options dict
// named in the design notes: enable_text, enable_thumb, enable_text_vec,
// enable_img_vec, enable_bm25, force_rebuild, commit_every_pages,
// commit_every_sec, pdf_timeout_sec, text_embed_model, image_embed_model,
// thumb_default_aspect, watchdog_threshold_sec, req_per_min, tok_per_min.
type JobOptions struct {
	EnableText    bool `yaml:"enable_text" json:"enable_text"`
	EnableThumb   bool `yaml:"enable_thumb" json:"enable_thumb"`
	EnableTextVec bool `yaml:"enable_text_vec" json:"enable_text_vec"`
	EnableImgVec  bool `yaml:"enable_img_vec" json:"enable_img_vec"`
	EnableBm25    bool `yaml:"enable_bm25" json:"enable_bm25"`
	ForceRebuild  bool `yaml:"force_rebuild" json:"force_rebuild"`

	CommitEveryPages int `yaml:"commit_every_pages" json:"commit_every_pages"`
	CommitEverySec   int `yaml:"commit_every_sec" json:"commit_every_sec"`
	PdfTimeoutSec    int `yaml:"pdf_timeout_sec" json:"pdf_timeout_sec"`

	TextEmbedModel      string `yaml:"text_embed_model" json:"text_embed_model"`
	ImageEmbedModel     string `yaml:"image_embed_model" json:"image_embed_model"`
	ThumbDefaultAspect  string `yaml:"thumb_default_aspect" json:"thumb_default_aspect"`
	WatchdogThresholdSec int   `yaml:"watchdog_threshold_sec" json:"watchdog_threshold_sec"`

	ReqPerMin int `yaml:"req_per_min" json:"req_per_min"`
	TokPerMin int `yaml:"tok_per_min" json:"tok_per_min"`

	// Recursive controls whether scan_files_under walks subdirectories of the
	// library root. Non-recursive is the test contract default (spec 4.10);
	// recursion is the caller's (whitelist config's) responsibility.
	Recursive bool `yaml:"recursive" json:"recursive"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// Load reads the daemon's ambient config from the environment and merges in
// the embedded default job options.
func Load() *Config {
	var defaults JobOptions
	if err := yaml.Unmarshal(defaultsYAML, &defaults); err != nil {
		// This is an embedded file; it should never fail to parse.
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}
	applyJobOptionDefaults(&defaults)

	return &Config{
		OpenAI: OpenAIConfig{
			APIKey: os.Getenv("OPENAI_TOKEN"),
		},
		Server: ServerConfig{
			Host: envString("DAEMON_HOST", "127.0.0.1"),
			Port: envInt("DAEMON_PORT", 8787),
		},
		Defaults: defaults,
	}
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// applyJobOptionDefaults fills any zero-valued numeric/string fields left
// unset by defaults.yaml with the package constants, the same "defaults
// layered under env/file config" idiom the ambient stack uses elsewhere.
func applyJobOptionDefaults(o *JobOptions) {
	if o.CommitEveryPages <= 0 {
		o.CommitEveryPages = constants.DefaultCommitEveryPages
	}
	if o.CommitEverySec <= 0 {
		o.CommitEverySec = constants.DefaultCommitEverySec
	}
	if o.PdfTimeoutSec <= 0 {
		o.PdfTimeoutSec = constants.DefaultPdfTimeoutSec
	}
	if o.WatchdogThresholdSec <= 0 {
		o.WatchdogThresholdSec = constants.DefaultWatchdogThreshold
	}
	if o.ReqPerMin <= 0 {
		o.ReqPerMin = constants.DefaultReqPerMin
	}
	if o.TokPerMin <= 0 {
		o.TokPerMin = constants.DefaultTokPerMin
	}
	if o.TextEmbedModel == "" {
		o.TextEmbedModel = constants.DefaultTextEmbedModel
	}
	if o.ImageEmbedModel == "" {
		o.ImageEmbedModel = constants.DefaultImageEmbedModel
	}
	if o.ThumbDefaultAspect == "" {
		o.ThumbDefaultAspect = constants.AspectUnknown
	}
}
