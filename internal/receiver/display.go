package receiver

// Display is the host's tuning view: the spectrum center, the tuned cursor
// and the sample rate the downstream pipeline runs at.
type Display interface {
	SetCenterFrequency(hz float64)
	Frequency() float64
	SetFrequency(hz float64)
	SetInputSampleRate(hz float64)
}

// NopDisplay discards every update.
type NopDisplay struct{}

func (NopDisplay) SetCenterFrequency(float64) {}
func (NopDisplay) Frequency() float64         { return 0 }
func (NopDisplay) SetFrequency(float64)       {}
func (NopDisplay) SetInputSampleRate(float64) {}
