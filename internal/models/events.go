package models

type EventType string

const (
	EventPeerConnected      EventType = "peer_connected"
	EventPeerDisconnected   EventType = "peer_disconnected"
	EventMessageReceived    EventType = "message_received"
	EventDownloadProgress   EventType = "download_progress"
	EventUploadProgress     EventType = "upload_progress"
	EventRoomCodeChanged    EventType = "room_code_changed"
	EventTransferCompleted  EventType = "transfer_completed"
	EventTransferFailed     EventType = "transfer_failed"
	EventServerDisconnected EventType = "server_disconnected"
	EventEndpointChanged    EventType = "public_endpoint_changed"
)

// IsProgress reports whether the event is a transfer progress tick. Those may
// be dropped under load; every other event is delivered.
func (t EventType) IsProgress() bool {
	return t == EventDownloadProgress || t == EventUploadProgress
}

// RoomLoading is the room code until the server assigns one.
const RoomLoading = "Loading..."

// Event is one notification from a session to its consumer.
type Event struct {
	Type     EventType
	Peer     string
	Room     string
	Endpoint string
	Message  *Message
	JobID    string
	Progress float64
	Bytes    int64
	Err      error
}

// Envelope is the JSON frame used on the UI bridge.
type Envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

type HealthCheck struct {
	Status string `json:"sys_status"`
	Uptime int64  `json:"uptime"`
}
