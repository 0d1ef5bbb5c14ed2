package backend

import "time"

// Timing is the pacing policy of a Runner and the rendering durations its
// devices should honour.
type Timing interface {
	StepDelay() time.Duration
	VisualDuration() time.Duration
	AudioDuration() time.Duration
	ReceiveTimeout() time.Duration
}

// Profile is a fixed Timing.
type Profile struct {
	Name    string        `json:"name"`
	Step    time.Duration `json:"step_delay"`
	Visual  time.Duration `json:"visual_duration"`
	Audio   time.Duration `json:"audio_duration"`
	Timeout time.Duration `json:"receive_timeout"`
}

func (p Profile) StepDelay() time.Duration      { return p.Step }
func (p Profile) VisualDuration() time.Duration { return p.Visual }
func (p Profile) AudioDuration() time.Duration  { return p.Audio }
func (p Profile) ReceiveTimeout() time.Duration { return p.Timeout }

var (
	// InteractiveTiming paces a Dance for two people facing each other.
	InteractiveTiming = Profile{
		Name:    "interactive",
		Step:    150 * time.Millisecond,
		Visual:  600 * time.Millisecond,
		Audio:   400 * time.Millisecond,
		Timeout: 10 * time.Second,
	}

	// FastTiming is for tests and machine-only links.
	FastTiming = Profile{
		Name:    "fast",
		Step:    0,
		Visual:  time.Millisecond,
		Audio:   time.Millisecond,
		Timeout: 250 * time.Millisecond,
	}

	// SlowTiming leaves time to follow every pattern by eye and ear.
	SlowTiming = Profile{
		Name:    "slow",
		Step:    time.Second,
		Visual:  2500 * time.Millisecond,
		Audio:   2 * time.Second,
		Timeout: 60 * time.Second,
	}
)

// ProfileByName returns a built-in profile.
func ProfileByName(name string) (Profile, bool) {
	switch name {
	case "", InteractiveTiming.Name:
		return InteractiveTiming, true
	case FastTiming.Name:
		return FastTiming, true
	case SlowTiming.Name:
		return SlowTiming, true
	default:
		return Profile{}, false
	}
}
