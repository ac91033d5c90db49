package link

import (
	"github.com/ultracold-lab/sequencer/comm"
	"github.com/ultracold-lab/sequencer/eventbuf"
)

// Config holds the session parameters.  Times are in seconds.
type Config struct {
	// ListenAddr is where the executor connects back to; empty means an
	// ephemeral port on every interface
	ListenAddr string `koanf:"ListenAddr" yaml:"ListenAddr"`

	// Local announces to AnnounceAddr on this machine instead of the
	// multicast group
	Local bool `koanf:"Local" yaml:"Local"`

	AnnounceAddr   string `koanf:"AnnounceAddr" yaml:"AnnounceAddr"`
	MulticastGroup string `koanf:"MulticastGroup" yaml:"MulticastGroup"`

	DiscoveryTimeout float64 `koanf:"DiscoveryTimeout" yaml:"DiscoveryTimeout"`

	// RecvTimeout is the receive timeout right after connecting
	RecvTimeout float64 `koanf:"RecvTimeout" yaml:"RecvTimeout"`

	// IdleTimeout is the receive timeout restored after each run
	IdleTimeout float64 `koanf:"IdleTimeout" yaml:"IdleTimeout"`

	// AckMargin is added to the runtime the executor reports when waiting
	// for the end of a run
	AckMargin float64 `koanf:"AckMargin" yaml:"AckMargin"`

	// Capacity is the initial size of the local buffer, in records
	Capacity int `koanf:"Capacity" yaml:"Capacity"`

	// RemoteBuffering leaves buffering to the executor: build, clear and run
	// are sent as commands and writes go out as they are made
	RemoteBuffering bool `koanf:"RemoteBuffering" yaml:"RemoteBuffering"`

	// LastRunPath is where the last run is kept for reruns; empty keeps it
	// in memory only
	LastRunPath string `koanf:"LastRunPath" yaml:"LastRunPath"`
}

// DefaultConfig is a local executor with the usual timeouts
func DefaultConfig() Config {
	return Config{
		Local:            true,
		AnnounceAddr:     comm.LocalAnnounceAddr,
		MulticastGroup:   comm.DefaultMulticastGroup,
		DiscoveryTimeout: 10,
		RecvTimeout:      comm.DefaultTimeout.Seconds(),
		IdleTimeout:      10,
		AckMargin:        20.5,
		Capacity:         eventbuf.DefaultCapacity,
		LastRunPath:      "LastCompiledRun.dat"}
}
