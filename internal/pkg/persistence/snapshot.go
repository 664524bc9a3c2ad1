package persistence

import (
	"strconv"

	"github.com/anicoll/gasmeter/internal/pkg/meter"
	"github.com/anicoll/gasmeter/internal/pkg/model"
	"github.com/anicoll/gasmeter/internal/pkg/storage"
)

// Snapshot is everything that gets persisted. It is comparable with ==.
type Snapshot struct {
	Meter meter.State
	Conn  model.ConnectionConfig
}

func (s Snapshot) toRecord() storage.Record {
	count, offset := s.Meter.PulseCount, s.Meter.Offset
	return storage.Record{
		Count:        &count,
		Offset:       &offset,
		Server:       s.Conn.BrokerHost,
		Port:         strconv.Itoa(int(s.Conn.BrokerPort)),
		User:         s.Conn.Username,
		Password:     s.Conn.Password,
		ClientID:     s.Conn.ClientID,
		TopicGas:     s.Conn.TopicBase,
		TopicCurrent: s.Conn.TopicCurrent,
	}
}

// applyRecord lays present, non-empty values of rec over s.
func (s Snapshot) applyRecord(rec storage.Record) Snapshot {
	if rec.Count != nil {
		s.Meter.PulseCount = *rec.Count
	}
	if rec.Offset != nil {
		s.Meter.Offset = *rec.Offset
	}
	if rec.Server != "" {
		s.Conn.BrokerHost = rec.Server
	}
	if port, err := model.ParsePort(rec.Port); err == nil {
		s.Conn.BrokerPort = port
	}
	if rec.User != "" {
		s.Conn.Username = rec.User
	}
	if rec.Password != "" {
		s.Conn.Password = rec.Password
	}
	if rec.ClientID != "" {
		s.Conn.ClientID = rec.ClientID
	}
	if rec.TopicGas != "" {
		s.Conn.TopicBase = rec.TopicGas
	}
	if rec.TopicCurrent != "" {
		s.Conn.TopicCurrent = rec.TopicCurrent
	}
	return s
}
