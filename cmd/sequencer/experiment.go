package main

import (
	"github.com/ultracold-lab/sequencer/apparatus"
	"github.com/ultracold-lab/sequencer/boards"
	"github.com/ultracold-lab/sequencer/output"
	"github.com/ultracold-lab/sequencer/ramp"
	"github.com/ultracold-lab/sequencer/timing"
)

// Experiment loads a MOT, compresses it with the bias coil, releases onto
// the anti-gravity coil while sweeping the RF, and takes an image
type Experiment struct {
	timing.Sequence

	// LoadTime is how long the MOT loads, seconds
	LoadTime float64

	// TOF is the time of flight between release and the image, seconds
	TOF float64

	app     *apparatus.Apparatus
	load    *loadStage
	release *releaseStage
	image   *imageStage
}

type loadStage struct {
	timing.Sequence
	state        *apparatus.State
	mot, repump  output.Line
	pinchServo   output.AnalogLine
	compress     *ramp.Ramp
	duration     float64
	pinchVoltage float64
}

// Load opens the MOT beams, energizes the pinch coil, and compresses with a
// linear bias ramp at the end of the load
func (l *loadStage) Load(t float64) (float64, error) {
	return l.Run(t, func() {
		l.Abs(0, timing.Simultaneous(l.mot.On, l.repump.On))
		l.Rel(0, l.pinchServo.Set(l.pinchVoltage))
		l.state.SetOn(apparatus.Pinch, true)
		l.Abs(l.duration-l.compress.TotalTime, l.compress.Linear)
		l.state.SetOn(apparatus.Bias, true)
	})
}

type releaseStage struct {
	timing.Sequence
	state       *apparatus.State
	mot, repump output.Line
	agTrigger   output.Line
	pinchDown   *ramp.Ramp
	biasDown    *ramp.Ramp
	agWobble    *ramp.Oscillator
	rf          *boards.AD9959
	rfFreqs     []float64
	rfPowers    []float64
	rfDuration  float64
}

// Release drops the atoms.  The pinch coil is only ramped down if the load
// left it on.
func (r *releaseStage) Release(t float64) (float64, error) {
	return r.Run(t, func() {
		r.Abs(0, timing.Simultaneous(r.mot.Off, r.repump.Off))
		r.StartLocalTiming(0)
		if r.state.On(apparatus.Pinch) {
			r.Abs(0, r.pinchDown.ExponentialDown)
			r.state.SetOn(apparatus.Pinch, false)
		}
		r.Abs(0, r.biasDown.Sigmoidal)
		r.state.SetOn(apparatus.Bias, false)
		r.EndLocalTiming()

		r.Rel(100*timing.Us, r.agTrigger.On)
		r.state.SetOn(apparatus.AntiGravity, true)
		r.RelAll(0, r.sweep, r.agWobble.Sine)
		r.Rel(0, r.agTrigger.Off)
		r.state.SetOn(apparatus.AntiGravity, false)
	})
}

func (r *releaseStage) sweep(t float64) (float64, error) {
	return r.rf.ArbitraryOutput(t, []int{0, 1}, r.rfFreqs, r.rfPowers, r.rfDuration, false)
}

type imageStage struct {
	timing.Sequence
	state  *apparatus.State
	probe  output.Line
	camera output.Line
	expose float64
}

// Image triggers the camera and strobes the probe inside the exposure
func (i *imageStage) Image(t float64) (float64, error) {
	return i.Run(t, func() {
		i.state.SetOn(apparatus.Imaging, true)
		i.Abs(0, i.camera.Pulse(10*timing.Us))
		i.Abs(50*timing.Us, i.probe.Pulse(i.expose))
		i.state.SetOn(apparatus.Imaging, false)
	})
}

// NewExperiment binds the stages to the lines of app, which must carry the
// lines and DDS of apparatus.DefaultConfig
func NewExperiment(app *apparatus.Apparatus) (*Experiment, error) {
	var mot, repump, probe, camera, agTrigger output.Line
	for name, l := range map[string]*output.Line{
		"mot_shutter":    &mot,
		"repump_shutter": &repump,
		"probe_shutter":  &probe,
		"camera_sync":    &camera,
		"ag_trigger":     &agTrigger,
	} {
		line, err := app.Line(name)
		if err != nil {
			return nil, err
		}
		*l = line
	}
	pinch, err := app.Analog("pinch_servo")
	if err != nil {
		return nil, err
	}
	bias, err := app.Analog("bias_servo")
	if err != nil {
		return nil, err
	}
	ag, err := app.Analog("ag_servo")
	if err != nil {
		return nil, err
	}
	rf, err := app.DDS("rf")
	if err != nil {
		return nil, err
	}

	compress, err := bias.Ramp(0, 2.5, 20*timing.Ms)
	if err != nil {
		return nil, err
	}
	pinchDown, err := pinch.Ramp(3, 0, 5*timing.Ms)
	if err != nil {
		return nil, err
	}
	pinchDown.Tau = 1 * timing.Ms
	biasDown, err := bias.Ramp(2.5, 0, 10*timing.Ms)
	if err != nil {
		return nil, err
	}
	biasDown.A = 2
	wobble, err := ag.Oscillator(0.05, 1, 100*timing.Hz, 10*timing.Ms)
	if err != nil {
		return nil, err
	}

	freqs := make([]float64, 10)
	powers := make([]float64, 10)
	for i := range freqs {
		freqs[i] = 80*timing.MHz + float64(i)*100*timing.KHz
		powers[i] = -10
	}

	e := &Experiment{LoadTime: 500 * timing.Ms, TOF: 25 * timing.Ms, app: app}
	e.load = &loadStage{
		state: app.State, mot: mot, repump: repump, pinchServo: pinch,
		compress: compress, pinchVoltage: 3}
	e.release = &releaseStage{
		state: app.State, mot: mot, repump: repump, agTrigger: agTrigger,
		pinchDown: pinchDown, biasDown: biasDown, agWobble: wobble,
		rf: rf, rfFreqs: freqs, rfPowers: powers, rfDuration: 10 * timing.Ms}
	e.image = &imageStage{state: app.State, probe: probe, camera: camera, expose: 100 * timing.Us}
	return e, nil
}

// Main is the whole shot.  The DDS is reset first; the SPI writes for its
// initialization land before the load begins.
func (e *Experiment) Main(t float64) (float64, error) {
	e.load.duration = e.LoadTime
	return e.Run(t, func() {
		e.Abs(0, e.defaults)
		e.Rel(0, e.release.rf.Reset)
		e.Rel(1*timing.Ms, e.load.Load)
		start := e.Now()
		e.Rel(0, e.release.Release)
		e.Abs(start-e.Start()+e.TOF, e.image.Image)
	})
}

func (e *Experiment) defaults(t float64) (float64, error) {
	return 0, e.app.ApplyDefaults(t)
}
