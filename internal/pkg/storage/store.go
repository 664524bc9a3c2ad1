// Package storage persists the meter record. Backends share one record shape and
// one rule: a save writes the whole record or nothing.
package storage

import (
	"context"
	"errors"
	"strconv"

	"github.com/anicoll/gasmeter/internal/pkg/model"
)

var (
	ErrNotFound = errors.New("no stored record")
	ErrMount    = errors.New("unable to mount storage")
)

type Store interface {
	Save(ctx context.Context, rec Record) error
	Load(ctx context.Context) (Record, error)
	Name() string
}

// Record is the persisted form. Keys missing from an older record load as nil or
// empty and are left to the caller's defaults.
type Record struct {
	Count        *uint32 `json:"count,omitempty"`
	Offset       *uint32 `json:"offset,omitempty"`
	Server       string  `json:"mqtt_server,omitempty"`
	Port         string  `json:"mqtt_port,omitempty"`
	User         string  `json:"mqtt_user,omitempty"`
	Password     string  `json:"mqtt_password,omitempty"`
	ClientID     string  `json:"mqtt_clientid,omitempty"`
	TopicGas     string  `json:"mqtt_topic_gas,omitempty"`
	TopicCurrent string  `json:"mqtt_topic_current,omitempty"`
}

const (
	keyCount        = "count"
	keyOffset       = "offset"
	keyServer       = "mqtt_server"
	keyPort         = "mqtt_port"
	keyUser         = "mqtt_user"
	keyPassword     = "mqtt_password"
	keyClientID     = "mqtt_clientid"
	keyTopicGas     = "mqtt_topic_gas"
	keyTopicCurrent = "mqtt_topic_current"
)

// Bounded returns a copy with every string cut to its persisted length.
func (r Record) Bounded() Record {
	r.Server = model.Bounded(r.Server, model.MaxHostLen)
	r.Port = model.Bounded(r.Port, model.MaxPortLen)
	r.User = model.Bounded(r.User, model.MaxUserLen)
	r.Password = model.Bounded(r.Password, model.MaxPasswordLen)
	r.ClientID = model.Bounded(r.ClientID, model.MaxIdentLen)
	r.TopicGas = model.Bounded(r.TopicGas, model.MaxIdentLen)
	r.TopicCurrent = model.Bounded(r.TopicCurrent, model.MaxIdentLen)
	return r
}

// fields flattens the record into key/value rows; empty strings are skipped.
func (r Record) fields() map[string]string {
	out := make(map[string]string, 9)
	if r.Count != nil {
		out[keyCount] = strconv.FormatUint(uint64(*r.Count), 10)
	}
	if r.Offset != nil {
		out[keyOffset] = strconv.FormatUint(uint64(*r.Offset), 10)
	}
	for k, v := range map[string]string{
		keyServer:       r.Server,
		keyPort:         r.Port,
		keyUser:         r.User,
		keyPassword:     r.Password,
		keyClientID:     r.ClientID,
		keyTopicGas:     r.TopicGas,
		keyTopicCurrent: r.TopicCurrent,
	} {
		if v != "" {
			out[k] = v
		}
	}
	return out
}

// recordFromFields is the inverse of fields. Unparsable counters are treated as absent.
func recordFromFields(f map[string]string) Record {
	rec := Record{
		Server:       f[keyServer],
		Port:         f[keyPort],
		User:         f[keyUser],
		Password:     f[keyPassword],
		ClientID:     f[keyClientID],
		TopicGas:     f[keyTopicGas],
		TopicCurrent: f[keyTopicCurrent],
	}
	rec.Count = parseCounter(f[keyCount])
	rec.Offset = parseCounter(f[keyOffset])
	return rec
}

func parseCounter(raw string) *uint32 {
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return nil
	}
	n := uint32(v)
	return &n
}
