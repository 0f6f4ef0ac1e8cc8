package types

import "time"

// StateKind is the tag of the session state variant.
type StateKind string

const (
	StateIdle       StateKind = "idle"
	StateEditing    StateKind = "editing"
	StateProcessing StateKind = "processing"
	StateComplete   StateKind = "complete"
	StateFailed     StateKind = "failed"
)

// State is the tagged session state. Progress is meaningful for Processing
// (and is 1 on Complete), Asset only for Complete, Reason only for Failed.
type State struct {
	Kind     StateKind    `json:"kind"`
	Progress float64      `json:"progress"`
	Asset    *OutputAsset `json:"asset,omitempty"`
	Reason   string       `json:"reason,omitempty"`
}

func Idle() State                { return State{Kind: StateIdle} }
func Editing() State             { return State{Kind: StateEditing} }
func Processing(p float64) State { return State{Kind: StateProcessing, Progress: p} }
func Complete(a *OutputAsset) State {
	return State{Kind: StateComplete, Progress: 1, Asset: a}
}
func Failed(reason string) State { return State{Kind: StateFailed, Reason: reason} }

// SourceInfo describes the installed video source.
type SourceInfo struct {
	Name      string        `json:"name"`
	MIMEType  string        `json:"mimeType"`
	Size      int64         `json:"size"`
	Width     int           `json:"width"`
	Height    int           `json:"height"`
	Duration  time.Duration `json:"duration"`
	FrameRate float64       `json:"frameRate"`
}

// Snapshot is a point-in-time view of a session, published to observers.
type Snapshot struct {
	SessionID string      `json:"sessionId"`
	State     State       `json:"state"`
	Source    *SourceInfo `json:"source,omitempty"`
	MaskCount int         `json:"maskCount"`
	Stroking  bool        `json:"stroking"`
	UpdatedAt time.Time   `json:"updatedAt"`
}
