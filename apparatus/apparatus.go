package apparatus

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ultracold-lab/sequencer/boards"
	"github.com/ultracold-lab/sequencer/output"
	"github.com/ultracold-lab/sequencer/timing"
)

// ErrUnknownLine is generated when a name is not in the channel map
var ErrUnknownLine = errors.New("no line by that name")

// LineSpec locates a digital line
type LineSpec struct {
	Connector int `koanf:"Connector" yaml:"Connector"`
	Pin       int `koanf:"Pin" yaml:"Pin"`
}

// AnalogSpec locates an analog channel
type AnalogSpec struct {
	Board   int `koanf:"Board" yaml:"Board"`
	Channel int `koanf:"Channel" yaml:"Channel"`
}

// DigitalDefault is an idle state for a digital line
type DigitalDefault struct {
	Line  string `koanf:"Line" yaml:"Line"`
	State int    `koanf:"State" yaml:"State"`
}

// AnalogDefault is an idle value for an analog line
type AnalogDefault struct {
	Line  string  `koanf:"Line" yaml:"Line"`
	Value float64 `koanf:"Value" yaml:"Value"`
}

// Defaults are written, in order, to put the hardware in its idle state
type Defaults struct {
	Digital []DigitalDefault `koanf:"Digital" yaml:"Digital"`
	Analog  []AnalogDefault  `koanf:"Analog" yaml:"Analog"`
}

// Config is the channel map of an apparatus
type Config struct {
	Lines       map[string]LineSpec            `koanf:"Lines" yaml:"Lines"`
	AnalogLines map[string]AnalogSpec          `koanf:"AnalogLines" yaml:"AnalogLines"`
	DDS         map[string]boards.AD9959Config `koanf:"DDS" yaml:"DDS"`
	Defaults    Defaults                       `koanf:"Defaults" yaml:"Defaults"`
}

// DefaultConfig is a small example apparatus
func DefaultConfig() Config {
	return Config{
		Lines: map[string]LineSpec{
			"mot_shutter":    {Connector: 3, Pin: 18},
			"probe_shutter":  {Connector: 3, Pin: 26},
			"repump_shutter": {Connector: 3, Pin: 24},
			"camera_sync":    {Connector: 0, Pin: 18},
			"ag_trigger":     {Connector: 1, Pin: 19},
			"rf_switch":      {Connector: 1, Pin: 23},
		},
		AnalogLines: map[string]AnalogSpec{
			"pinch_servo": {Board: 0, Channel: 1},
			"bias_servo":  {Board: 0, Channel: 3},
			"ag_servo":    {Board: 0, Channel: 6},
			"dipole":      {Board: 1, Channel: 7},
		},
		DDS: map[string]boards.AD9959Config{
			"rf": {Connector: 0, DataPin: 1, ClockPin: 3, ResetPin: 5, UpdatePin: 7, RefClock: 125 * timing.MHz, Multiplier: 4},
		},
		Defaults: Defaults{
			Digital: []DigitalDefault{
				{Line: "mot_shutter", State: 1},
				{Line: "probe_shutter", State: 0},
				{Line: "camera_sync", State: 0},
			},
			Analog: []AnalogDefault{
				{Line: "pinch_servo", Value: 0},
				{Line: "bias_servo", Value: 0},
			},
		},
	}
}

// Apparatus binds the channel map to an output
type Apparatus struct {
	Out   *output.Outputs
	State *State

	cfg    Config
	lines  map[string]output.Line
	analog map[string]output.AnalogLine
	dds    map[string]*boards.AD9959
}

// New validates cfg and binds every named line to out
func New(out *output.Outputs, cfg Config) (*Apparatus, error) {
	a := &Apparatus{
		Out:    out,
		State:  &State{},
		cfg:    cfg,
		lines:  make(map[string]output.Line, len(cfg.Lines)),
		analog: make(map[string]output.AnalogLine, len(cfg.AnalogLines)),
		dds:    make(map[string]*boards.AD9959, len(cfg.DDS)),
	}
	for name, l := range cfg.Lines {
		if l.Connector < 0 || l.Connector >= output.DigitalConnectors {
			return nil, fmt.Errorf("line %s: %w %d", name, output.ErrConnector, l.Connector)
		}
		if l.Pin < 0 || l.Pin >= output.DigitalChannels {
			return nil, fmt.Errorf("line %s: %w %d", name, output.ErrChannel, l.Pin)
		}
		a.lines[name] = output.Line{Out: out, Connector: l.Connector, Channel: l.Pin}
	}
	for name, l := range cfg.AnalogLines {
		if l.Board < 0 || l.Board >= output.AnalogBoards {
			return nil, fmt.Errorf("analog line %s: %w %d", name, output.ErrConnector, l.Board)
		}
		if l.Channel < 0 || l.Channel >= output.AnalogChannels {
			return nil, fmt.Errorf("analog line %s: %w %d", name, output.ErrChannel, l.Channel)
		}
		a.analog[name] = output.AnalogLine{Out: out, Board: l.Board, Channel: l.Channel}
	}
	for name, c := range cfg.DDS {
		d, err := boards.NewAD9959(out, c)
		if err != nil {
			return nil, fmt.Errorf("dds %s: %w", name, err)
		}
		a.dds[name] = d
	}
	for _, d := range cfg.Defaults.Digital {
		if _, ok := a.lines[d.Line]; !ok {
			return nil, fmt.Errorf("default for %s: %w", d.Line, ErrUnknownLine)
		}
	}
	for _, d := range cfg.Defaults.Analog {
		if _, ok := a.analog[d.Line]; !ok {
			return nil, fmt.Errorf("default for %s: %w", d.Line, ErrUnknownLine)
		}
	}
	return a, nil
}

// Line returns the digital line called name
func (a *Apparatus) Line(name string) (output.Line, error) {
	l, ok := a.lines[name]
	if !ok {
		return l, fmt.Errorf("%w: %s", ErrUnknownLine, name)
	}
	return l, nil
}

// Analog returns the analog line called name
func (a *Apparatus) Analog(name string) (output.AnalogLine, error) {
	l, ok := a.analog[name]
	if !ok {
		return l, fmt.Errorf("%w: %s", ErrUnknownLine, name)
	}
	return l, nil
}

// DDS returns the AD9959 called name
func (a *Apparatus) DDS(name string) (*boards.AD9959, error) {
	d, ok := a.dds[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownLine, name)
	}
	return d, nil
}

// LineNames returns the digital and analog line names, sorted
func (a *Apparatus) LineNames() (digital, analog []string) {
	for k := range a.lines {
		digital = append(digital, k)
	}
	for k := range a.analog {
		analog = append(analog, k)
	}
	sort.Strings(digital)
	sort.Strings(analog)
	return digital, analog
}

// ApplyDefaults writes the idle state of every line with a default, at time t.
// Outside a sequence these take effect immediately.
func (a *Apparatus) ApplyDefaults(t float64) error {
	for _, d := range a.cfg.Defaults.Digital {
		if _, err := a.lines[d.Line].Set(d.State)(t); err != nil {
			return fmt.Errorf("default for %s: %w", d.Line, err)
		}
	}
	for _, d := range a.cfg.Defaults.Analog {
		if _, err := a.analog[d.Line].Set(d.Value)(t); err != nil {
			return fmt.Errorf("default for %s: %w", d.Line, err)
		}
	}
	return nil
}
