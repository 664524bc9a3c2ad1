package server

import (
	"strconv"

	"github.com/anicoll/gasmeter/internal/pkg/controller"
	"github.com/anicoll/gasmeter/internal/pkg/meter"
	"github.com/anicoll/gasmeter/internal/pkg/panel"
)

type statusResponse struct {
	GasVolumeRaw       uint32  `json:"gasVolumeRaw"`
	GasVolumeM3        float64 `json:"gasVolumeM3"`
	GasVolumeFormatted string  `json:"gasVolumeFormatted"`
	PulseCount         uint32  `json:"pulseCount"`
	Offset             uint32  `json:"offset"`
	WifiConnected      bool    `json:"wifiConnected"`
	MaskedPassword     string  `json:"maskedPassword"`
	MQTTUser           string  `json:"mqttUser"`
	MQTTTopicGas       string  `json:"mqttTopicGas"`
	MQTTTopicCurrent   string  `json:"mqttTopicCurrent"`
	DiscoveryPublished bool    `json:"discoveryPublished"`
	UptimeSeconds      int64   `json:"uptimeSeconds"`
	Version            string  `json:"version"`
	DisplayMode        string  `json:"displayMode"`
	mqttResponse
}

type mqttResponse struct {
	Status                string `json:"status,omitempty"`
	MQTTConnected         bool   `json:"mqttConnected"`
	MQTTServer            string `json:"mqttServer"`
	MQTTPort              string `json:"mqttPort"`
	MQTTLastStatus        string `json:"mqttLastStatus"`
	MQTTLastError         int    `json:"mqttLastError"`
	MQTTLastAttemptUptime int64  `json:"mqttLastAttemptUptime"`
	ClientID              string `json:"clientID"`
	MQTTTopicBase         string `json:"mqttTopicBase"`
	MQTTTopicCurrentBase  string `json:"mqttTopicCurrentBase"`
}

type consumptionResponse struct {
	Status             string  `json:"status"`
	Value              float64 `json:"value"`
	GasVolumeFormatted string  `json:"gasVolumeFormatted"`
	Persisted          bool    `json:"persisted"`
	Published          bool    `json:"published"`
}

func newMQTTResponse(st controller.Status) mqttResponse {
	var lastAttempt int64
	if !st.Session.LastAttempt.IsZero() {
		lastAttempt = int64(st.Session.LastAttempt.Sub(st.StartedAt).Seconds())
	}
	return mqttResponse{
		Status:                "ok",
		MQTTConnected:         st.MQTTConnected,
		MQTTServer:            st.Conn.BrokerHost,
		MQTTPort:              strconv.Itoa(int(st.Conn.BrokerPort)),
		MQTTLastStatus:        st.Session.Status.String(),
		MQTTLastError:         st.Session.LastCode,
		MQTTLastAttemptUptime: lastAttempt,
		ClientID:              st.Conn.ClientID,
		MQTTTopicBase:         st.Conn.TopicBase,
		MQTTTopicCurrentBase:  st.Conn.TopicCurrent,
	}
}

func newStatusResponse(st controller.Status, mode panel.Mode) statusResponse {
	mqtt := newMQTTResponse(st)
	mqtt.Status = ""
	return statusResponse{
		GasVolumeRaw:       st.Volume,
		GasVolumeM3:        meter.ToCubicMeters(st.Volume),
		GasVolumeFormatted: meter.FormatHundredths(st.Volume),
		PulseCount:         st.Meter.PulseCount,
		Offset:             st.Meter.Offset,
		WifiConnected:      st.LinkUp,
		MaskedPassword:     st.Conn.MaskedPassword(),
		MQTTUser:           st.Conn.Username,
		MQTTTopicGas:       st.Conn.VolumeTopic(),
		MQTTTopicCurrent:   st.Conn.CorrectionTopic(),
		DiscoveryPublished: st.Session.DiscoveryPublished,
		UptimeSeconds:      int64(st.Uptime.Seconds()),
		Version:            st.Version,
		DisplayMode:        mode.String(),
		mqttResponse:       mqtt,
	}
}
