package lowka

import (
	"io/ioutil"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// CompressionCodec selects the wire-level compression applied to a
// message-set before it is framed into the outer record (§4.2, §4.4).
type CompressionCodec string

const (
	CompressionNone   CompressionCodec = "none"
	CompressionGZIP   CompressionCodec = "gzip"
	CompressionSnappy CompressionCodec = "snappy"
)

// RotationMode selects how (if at all) the producer walks across partitions
// over successive metadata refreshes (§4.8).
type RotationMode string

const (
	RotationOff        RotationMode = "off"
	RotationPerRefresh RotationMode = "per-refresh"
	RotationQuick      RotationMode = "quick"
)

// Config groups the producer's bound parameters the way the teacher groups
// its own Config into Net/Producer/Metadata sections. Construct with
// NewConfig, mutate the fields you care about, then pass to NewProducer.
type Config struct {
	Net struct {
		// TimeoutMs is the broker timeout advertised in the produce
		// request, and the base for the read-timeout computed as
		// TimeoutMs + 1000ms.
		TimeoutMs int `yaml:"timeoutMs"`

		// SendBufferSize is both the capacity of the reusable send buffer
		// and the hint passed to the socket's SetWriteBuffer.
		SendBufferSize int `yaml:"sendBufferSize"`

		// DialTimeout bounds how long connecting to a broker may take.
		DialTimeout time.Duration `yaml:"-"`
	}

	Producer struct {
		// RequiredAcks: -1 = all ISR, 0 = fire and forget, 1 = leader only,
		// n>1 = wait for n acks.
		RequiredAcks int16 `yaml:"requiredAcks"`

		Compression      CompressionCodec `yaml:"compression"`
		CompressionLevel int              `yaml:"compressionLevel"`

		MessageBufferSize int  `yaml:"messageBufferSize"`
		NumBuffers        int  `yaml:"numBuffers"`
		UseSharedBuffers  bool `yaml:"useSharedBuffers"`

		// EnqueueTimeoutMs: -1 blocks forever, 0 never blocks, >0 is a
		// millisecond bound on the pool take.
		EnqueueTimeoutMs int `yaml:"enqueueTimeoutMs"`

		FlushMs int `yaml:"flushMs"`

		Retry struct {
			Max       int `yaml:"max"`
			BackoffMs int `yaml:"backoffMs"`
		} `yaml:"retry"`

		RotatePartitions         RotationMode `yaml:"rotatePartitions"`
		QuickRotateMessageBlocks int32        `yaml:"quickRotateMessageBlocks"`
	}

	Metadata struct {
		BrokerList []string `yaml:"brokerList"`

		// RefreshIntervalMs < 0 disables time-based refresh entirely.
		RefreshIntervalMs int `yaml:"refreshIntervalMs"`

		ElectRetries   int `yaml:"electRetries"`
		ElectTimeoutMs int `yaml:"electTimeoutMs"`
	}

	ClientID string `yaml:"clientId"`
}

// NewConfig returns a Config populated with defaults: acks=1, no compression, a 16-buffer pool of 1MiB buffers, a
// 1MiB send buffer, 3 retries with a 100ms backoff, and a 10s metadata
// refresh interval.
func NewConfig() *Config {
	c := &Config{}
	c.ClientID = "lowka"

	c.Net.TimeoutMs = 1500
	c.Net.SendBufferSize = 1 << 20
	c.Net.DialTimeout = 30 * time.Second

	c.Producer.RequiredAcks = 1
	c.Producer.Compression = CompressionNone
	c.Producer.CompressionLevel = -1
	c.Producer.MessageBufferSize = 1 << 20
	c.Producer.NumBuffers = 16
	c.Producer.UseSharedBuffers = false
	c.Producer.EnqueueTimeoutMs = 1000
	c.Producer.FlushMs = 1000
	c.Producer.Retry.Max = 3
	c.Producer.Retry.BackoffMs = 100
	c.Producer.RotatePartitions = RotationOff

	c.Metadata.RefreshIntervalMs = 10000
	c.Metadata.ElectRetries = 3
	c.Metadata.ElectTimeoutMs = 1000

	return c
}

// LoadConfigFile parses a YAML document into a fresh Config seeded with
// NewConfig's defaults, so a file only needs to set the fields it wants to
// override - the same convention the wider plugin-config ecosystem this
// package's ancestry comes from uses for its own YAML files.
func LoadConfigFile(path string) (*Config, error) {
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "lowka: reading config file %s", path)
	}

	c := NewConfig()
	if err := yaml.Unmarshal(raw, c); err != nil {
		return nil, errors.Wrapf(err, "lowka: parsing config file %s", path)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate returns an aggregate error describing every out-of-range field,
// or nil if the configuration is usable.
func (c *Config) Validate() error {
	var problems []string

	if len(c.Metadata.BrokerList) == 0 {
		problems = append(problems, "Metadata.BrokerList must not be empty")
	}
	if c.Producer.NumBuffers <= 0 {
		problems = append(problems, "Producer.NumBuffers must be > 0")
	}
	if c.Producer.MessageBufferSize <= 64 {
		problems = append(problems, "Producer.MessageBufferSize must be > 64")
	}
	if c.Net.SendBufferSize <= 64 {
		problems = append(problems, "Net.SendBufferSize must be > 64")
	}
	if c.Producer.Retry.Max < 0 {
		problems = append(problems, "Producer.Retry.Max must be >= 0")
	}
	switch c.Producer.Compression {
	case CompressionNone, CompressionGZIP, CompressionSnappy:
	default:
		problems = append(problems, "Producer.Compression must be one of none|gzip|snappy")
	}

	if len(problems) == 0 {
		return nil
	}
	msg := "lowka: invalid config:"
	for _, p := range problems {
		msg += "\n  - " + p
	}
	return errors.New(msg)
}
