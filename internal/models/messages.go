package models

import "encoding/json"

// WSMessage is the envelope for all WebSocket communication.
type WSMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Capture modes, one per host attachment point.
const (
	ModePcap   = "pcap"
	ModeSocket = "socket"
)

// StartCaptureRequest is sent by the client to begin a live capture.
type StartCaptureRequest struct {
	Interface string `json:"interface"`
	Mode      string `json:"mode,omitempty"`
	SnapLen   int    `json:"snapLen,omitempty"`
}

// InterfaceInfo describes a network interface available for capture.
type InterfaceInfo struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Addresses   []string `json:"addresses"`
}

// CaptureStats reports capture statistics.
type CaptureStats struct {
	InterfaceName    string `json:"interfaceName"`
	Mode             string `json:"mode"`
	Capturing        bool   `json:"capturing"`
	PacketCount      uint64 `json:"packetCount"`
	DroppedCount     int    `json:"droppedCount"`
	EventCount       uint64 `json:"eventCount"`
	EventDrops       uint64 `json:"eventDrops"`
	SessionCount     int    `json:"sessionCount"`
	SessionEvictions uint64 `json:"sessionEvictions"`
}

// ErrorPayload describes an error sent to the client.
type ErrorPayload struct {
	Message string `json:"message"`
}
