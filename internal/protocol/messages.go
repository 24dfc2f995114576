package protocol

// Client -> Server. First message on the progress WS connection; may be re-sent to
// change settings.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	// Frames requests block poses along with progress records.
	Frames bool `json:"frames,omitempty"`
	// FrameEvery thins frames to one per N progress records.
	FrameEvery int `json:"frame_every,omitempty"`
}

// HTTP response for GET /v1/run/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string  `json:"protocol_version"`
	RunID           string  `json:"run_id"`
	Scenario        string  `json:"scenario"`
	Mode            string  `json:"mode"`
	Blocks          int     `json:"blocks"`
	TimeStep        float64 `json:"time_step"`
	MaxSteps        uint64  `json:"max_steps"`
	OutputFrequency int     `json:"output_frequency"`
}

// Server -> Client. Sent every OutputFrequency steps.
type ProgressMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	RunID           string `json:"run_id"`

	Step              uint64  `json:"step"`
	Time              float64 `json:"time"`
	PeakSpeed         float64 `json:"peak_speed"`
	MeanSpeed         float64 `json:"mean_speed"`
	KineticEnergy     float64 `json:"kinetic_energy"`
	MaxDisplacement   float64 `json:"max_displacement"`
	UnbalancedRatio   float64 `json:"unbalanced_ratio"`
	ActiveContacts    int     `json:"active_contacts"`
	SlidingContacts   int     `json:"sliding_contacts"`
	SeparatedContacts int     `json:"separated_contacts"`
}

type BlockPose struct {
	ID  int        `json:"id"`
	Pos [3]float64 `json:"pos"`
	// Rot is a unit quaternion (w, x, y, z).
	Rot   [4]float64 `json:"rot"`
	Fixed bool       `json:"fixed,omitempty"`
}

// Server -> Client. Block poses for subscribers that asked for frames.
type FrameMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	RunID           string      `json:"run_id"`
	Step            uint64      `json:"step"`
	Time            float64     `json:"time"`
	Blocks          []BlockPose `json:"blocks"`
}

// Server -> Client. Final message of a run.
type DoneMsg struct {
	Type            string  `json:"type"`
	ProtocolVersion string  `json:"protocol_version"`
	RunID           string  `json:"run_id"`
	Status          string  `json:"status"`
	Converged       bool    `json:"converged"`
	Steps           uint64  `json:"steps"`
	Time            float64 `json:"time"`
	MaxDisplacement float64 `json:"max_displacement"`
	FailedBlocks    []int   `json:"failed_blocks"`
}

type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message"`
}
