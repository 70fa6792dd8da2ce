package types

// Role identifies which side of the relay a party is on. The wire values
// match the clientType field sent by the browser extension and dashboard.
const (
	RoleCoordinator = "teacher"
	RoleParticipant = "student"
)

// Envelope kind discriminators. Every frame on the wire is a JSON object
// with a "type" field holding one of these values; payload fields sit
// alongside the discriminator.
const (
	KindIdentify        = "identify"
	KindScreenUpdate    = "screen-update"
	KindBlockListUpdate = "block-list-update"
	KindMessage         = "message"
	KindRoster          = "roster"
)

// DestinationAll addresses a message to every connected participant.
const DestinationAll = "all"

// DeviceInfo is the hardware identity a participant volunteers when it
// identifies. HardwareID is typically a MAC-like identifier used to match
// the device against the upstream directory.
type DeviceInfo struct {
	HardwareID string `json:"hardwareId"`
}

// DirectoryRecord is an immutable snapshot of upstream device metadata.
// A fresher fetch supersedes a record wholesale; records are never patched.
type DirectoryRecord struct {
	DeviceID      string `json:"deviceId"`
	SerialNumber  string `json:"serialNumber"`
	Status        string `json:"status"`
	LastSync      string `json:"lastSync"`
	MACAddress    string `json:"macAddress"`
	AnnotatedUser string `json:"annotatedUser"`
	OrgUnitPath   string `json:"orgUnitPath"`
	Model         string `json:"model"`
	OSVersion     string `json:"osVersion"`
	BootMode      string `json:"bootMode"`
}

// Party is one connected endpoint as the registry sees it. ID is
// caller-supplied and unique per active session by convention only; the
// relay tolerates duplicates and point-to-point delivery picks the first
// match in registration order.
type Party struct {
	Role            string           `json:"type"`
	ID              string           `json:"id"`
	Name            string           `json:"name"`
	DeviceInfo      *DeviceInfo      `json:"deviceInfo,omitempty"`
	DirectoryRecord *DirectoryRecord `json:"directoryRecord,omitempty"`
}
