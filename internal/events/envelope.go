// Package events defines the envelope shared by every subsystem that
// produces or forwards session events: the stamper, the replay buffer, the
// subscriber hub, and the HTTP/WS transport.
package events

import "encoding/json"

// Type identifies the kind of payload an Envelope carries.
type Type string

const (
	TypeHello            Type = "hello"
	TypeStatus           Type = "status"
	TypePartialEN        Type = "partial_en"
	TypePartialZH        Type = "partial_zh"
	TypeFinalEN          Type = "final_en"
	TypeFinalZH          Type = "final_zh"
	TypeVU               Type = "vu"
	TypeDownloadProgress Type = "download_progress"
	TypeError            Type = "error"
)

// Stage values carried by status envelopes.
const (
	StageInitializing = "initializing"
	StageOperational  = "operational"
	StageStopping     = "stopping"
	StageStopped      = "stopped"
	StageFailed       = "failed"
)

// DownloadChannel is the reserved subscriber channel id for download
// progress events, which are not tied to any session.
const DownloadChannel = "_download"

// Envelope is the wire shape pushed to subscribers. Seq, TsServer and
// TsSession are assigned once by the stamper and never mutated afterward;
// every other field is payload specific and carried in Fields.
type Envelope struct {
	Type      Type           `json:"type"`
	Seq       uint64         `json:"seq"`
	TsServer  float64        `json:"ts_server"`
	TsSession float64        `json:"ts_session"`
	Fields    map[string]any `json:"-"`
}

// MarshalJSON flattens Fields alongside the envelope's own keys so that
// clients see a single flat JSON object, e.g. {"type":"final_en","seq":3,
// "ts_server":...,"ts_session":...,"text":"hello world"}.
func (e Envelope) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Fields)+4)
	for k, v := range e.Fields {
		out[k] = v
	}
	out["type"] = e.Type
	out["seq"] = e.Seq
	out["ts_server"] = e.TsServer
	out["ts_session"] = e.TsSession
	return json.Marshal(out)
}

// New builds an unstamped envelope carrying the given type and fields. The
// caller is expected to pass it through a Stamper before delivery.
func New(t Type, fields map[string]any) Envelope {
	if fields == nil {
		fields = map[string]any{}
	}
	return Envelope{Type: t, Fields: fields}
}
