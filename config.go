package onpair

import (
	"math"

	"github.com/ledgerwatch/log/v3"
)

const (
	singleByteTokens = 256   // number of reserved single-byte tokens (0-255)
	maxTokenID       = 65535 // maximum token ID (uint16 max)

	defaultSampleBytes = 1 << 20 // training sample budget for large corpora
	defaultMaxClusters = 256     // template clusters tracked by the sampler
)

// Config holds tuning knobs shared by both codec variants. The zero value
// selects the defaults; use the functional options to change it.
type Config struct {
	Threshold           int        // fixed promotion threshold (0 = derived from sample size)
	MaxTokenID          uint16     // highest token ID to allocate (0 = 65535)
	Seed                uint32     // shuffle seed (0 = fresh entropy per compress call)
	TrainingSampleBytes int        // training sample budget in bytes (0 = 1 MiB)
	Stratified          bool       // sample round-robin across template clusters
	MaxTemplateClusters int        // cluster cache size for stratified sampling (0 = 256)
	Logger              log.Logger // optional training logger (nil = silent)
	LogLvl              log.Lvl    // level for training log lines
}

// Option is a functional option applied at codec construction.
type Option func(*Config)

// WithThreshold sets a fixed promotion threshold instead of the size-derived
// default.
func WithThreshold(t int) Option {
	return func(c *Config) { c.Threshold = t }
}

// WithMaxTokenID caps the highest token ID the trainer may allocate.
// Values outside [255, 65535] are clamped.
func WithMaxTokenID(id uint16) Option {
	return func(c *Config) { c.MaxTokenID = id }
}

// WithSeed makes the training shuffle deterministic. Intended for tests;
// without it every compress call seeds from fresh entropy.
func WithSeed(seed uint32) Option {
	return func(c *Config) { c.Seed = seed }
}

// WithTrainingSampleBytes sets the byte budget of the training sample taken
// from corpora larger than the budget.
func WithTrainingSampleBytes(n int) Option {
	return func(c *Config) { c.TrainingSampleBytes = n }
}

// WithStratifiedSampling spreads the training sample round-robin across
// drain-style template clusters so rare string shapes stay represented.
func WithStratifiedSampling() Option {
	return func(c *Config) { c.Stratified = true }
}

// WithMaxTemplateClusters bounds the cluster cache used by stratified
// sampling.
func WithMaxTemplateClusters(n int) Option {
	return func(c *Config) { c.MaxTemplateClusters = n }
}

// WithLogger attaches a logger that receives a summary line after training.
func WithLogger(logger log.Logger, lvl log.Lvl) Option {
	return func(c *Config) {
		c.Logger = logger
		c.LogLvl = lvl
	}
}

func makeConfig(opts []Option) Config {
	var cfg Config
	cfg.LogLvl = log.LvlDebug
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// resolveThreshold derives the promotion threshold from the sampled byte
// count: max(2, floor(log2(MiB))). Small corpora always get 2.
func resolveThreshold(cfg Config, sampleBytes int) int {
	if cfg.Threshold > 0 {
		return cfg.Threshold
	}
	mib := float64(sampleBytes) / float64(1<<20)
	if l := math.Log2(mib); l > 2 {
		return int(math.Floor(l))
	}
	return 2
}

func resolveTokenLimit(cfg Config) uint16 {
	if cfg.MaxTokenID == 0 {
		return maxTokenID
	}
	if cfg.MaxTokenID < singleByteTokens-1 {
		return singleByteTokens - 1
	}
	return cfg.MaxTokenID
}

func resolveSampleBytes(cfg Config) int {
	if cfg.TrainingSampleBytes > 0 {
		return cfg.TrainingSampleBytes
	}
	return defaultSampleBytes
}

func resolveMaxClusters(cfg Config) int {
	if cfg.MaxTemplateClusters > 0 {
		return cfg.MaxTemplateClusters
	}
	return defaultMaxClusters
}
