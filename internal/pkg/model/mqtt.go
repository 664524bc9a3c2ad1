package model

// RegisterDevice is the shared device block of a Home Assistant discovery message.
type RegisterDevice struct {
	Name         string   `json:"name"`
	Identifiers  []string `json:"identifiers"`
	Model        string   `json:"model"`
	Manufacturer string   `json:"manufacturer"`
	SWVersion    string   `json:"sw_version,omitempty"`
}

// RegisterMessage is published retained to homeassistant/sensor/<object_id>/config.
type RegisterMessage struct {
	Name              string         `json:"name"`
	ID                string         `json:"unique_id"`
	StateTopic        string         `json:"state_topic"`
	Unit              string         `json:"unit_of_measurement"`
	ValueTemplate     string         `json:"value_template"`
	StateClass        string         `json:"state_class"`
	DeviceClass       string         `json:"device_class"`
	Icon              string         `json:"icon"`
	AvailabilityTopic string         `json:"availability_topic"`
	Device            RegisterDevice `json:"device"`
}

// Message is one inbound broker message, handed to the main loop by polling.
type Message struct {
	Topic    string
	Payload  string
	Retained bool
}
