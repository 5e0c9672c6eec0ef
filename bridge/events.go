package bridge

import (
	"encoding/json"
	"fmt"

	"github.com/mitchellh/mapstructure"
)

const (
	EventServerDestroyed      = "server_destroyed"
	EventServerMemberLeft     = "server_member_left"
	EventServerMembersRemoved = "server_members_removed"
	EventChannelDestroyed     = "channel_destroyed"
	EventChannelMemberLeft    = "channel_member_left"
	EventChannelMemberRemoved = "channel_member_removed"
	EventChannelMuteChanged   = "channel_mute_changed"
	EventMultiDeviceServer    = "multidevice_server"
	EventMultiDeviceChannel   = "multidevice_channel"
)

type Event struct {
	Type string
	Data interface{}
}

type ServerDestroyedEvent struct {
	ServerID  string `json:"server_id"`
	Initiator string `json:"initiator"`
}

type ServerMemberLeftEvent struct {
	ServerID string `json:"server_id"`
	Member   string `json:"member"`
}

type ServerMembersRemovedEvent struct {
	ServerID string   `json:"server_id"`
	Members  []string `json:"members"`
}

type ChannelDestroyedEvent struct {
	ServerID  string `json:"server_id"`
	ChannelID string `json:"channel_id"`
	Initiator string `json:"initiator"`
}

type ChannelMemberLeftEvent struct {
	ServerID  string `json:"server_id"`
	ChannelID string `json:"channel_id"`
	Member    string `json:"member"`
}

type ChannelMemberRemovedEvent struct {
	ServerID  string `json:"server_id"`
	ChannelID string `json:"channel_id"`
	Member    string `json:"member"`
	Initiator string `json:"initiator"`
}

type ChannelMuteChangeEvent struct {
	ServerID  string   `json:"server_id"`
	ChannelID string   `json:"channel_id"`
	Muted     bool     `json:"muted"`
	Members   []string `json:"members"`
}

type MultiDeviceOp string

const (
	MultiDeviceServerRemoveUser  MultiDeviceOp = "server_remove_user"
	MultiDeviceServerDestroy     MultiDeviceOp = "server_destroy"
	MultiDeviceServerExit        MultiDeviceOp = "server_exit"
	MultiDeviceChannelRemoveUser MultiDeviceOp = "channel_remove_user"
	MultiDeviceChannelDestroy    MultiDeviceOp = "channel_destroy"
	MultiDeviceChannelExit       MultiDeviceOp = "channel_exit"
	MultiDeviceChannelAddMute    MultiDeviceOp = "channel_add_mute"
	MultiDeviceChannelRemoveMute MultiDeviceOp = "channel_remove_mute"
)

// MultiDeviceServerEvent echoes an action the current account performed
// on another device. Ext is SDK defined; for remove operations it holds
// the removed user ids.
type MultiDeviceServerEvent struct {
	Op       MultiDeviceOp `json:"op"`
	ServerID string        `json:"server_id"`
	Ext      interface{}   `json:"ext"`
}

func (e *MultiDeviceServerEvent) Members() []string {
	return extMembers(e.Ext)
}

// MultiDeviceChannelEvent is the channel flavour of MultiDeviceServerEvent.
// The SDK only guarantees ChannelID; ServerID may be empty.
type MultiDeviceChannelEvent struct {
	Op        MultiDeviceOp `json:"op"`
	ServerID  string        `json:"server_id"`
	ChannelID string        `json:"channel_id"`
	Ext       interface{}   `json:"ext"`
}

func (e *MultiDeviceChannelEvent) Members() []string {
	return extMembers(e.Ext)
}

func extMembers(ext interface{}) []string {
	if ext == nil {
		return nil
	}

	var members []string
	if err := Decode(ext, &members); err != nil {
		return nil
	}

	return members
}

func newEventData(eventType string) (interface{}, error) {
	switch eventType {
	case EventServerDestroyed:
		return &ServerDestroyedEvent{}, nil
	case EventServerMemberLeft:
		return &ServerMemberLeftEvent{}, nil
	case EventServerMembersRemoved:
		return &ServerMembersRemovedEvent{}, nil
	case EventChannelDestroyed:
		return &ChannelDestroyedEvent{}, nil
	case EventChannelMemberLeft:
		return &ChannelMemberLeftEvent{}, nil
	case EventChannelMemberRemoved:
		return &ChannelMemberRemovedEvent{}, nil
	case EventChannelMuteChanged:
		return &ChannelMuteChangeEvent{}, nil
	case EventMultiDeviceServer:
		return &MultiDeviceServerEvent{}, nil
	case EventMultiDeviceChannel:
		return &MultiDeviceChannelEvent{}, nil
	}

	return nil, fmt.Errorf("unknown event type %q", eventType)
}

// DecodeEvent turns a raw {"type": ..., "data": {...}} payload into a typed event.
func DecodeEvent(raw map[string]interface{}) (*Event, error) {
	eventType, ok := raw["type"].(string)
	if !ok {
		return nil, fmt.Errorf("event without type: %v", raw)
	}

	data, err := newEventData(eventType)
	if err != nil {
		return nil, err
	}

	if err := Decode(raw["data"], data); err != nil {
		return nil, fmt.Errorf("decode %s: %w", eventType, err)
	}

	return &Event{Type: eventType, Data: data}, nil
}

// ParseEvent decodes a JSON encoded raw event.
func ParseEvent(b []byte) (*Event, error) {
	var raw map[string]interface{}

	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, err
	}

	return DecodeEvent(raw)
}

func Decode(input interface{}, output interface{}) error {
	config := &mapstructure.DecoderConfig{
		Metadata: nil,
		Result:   output,
		TagName:  "json",
	}

	decoder, err := mapstructure.NewDecoder(config)
	if err != nil {
		return err
	}

	return decoder.Decode(input)
}
