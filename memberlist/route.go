package memberlist

import (
	"github.com/42wim/membersync/bridge"
	"golang.org/x/exp/slices"
)

type ActionKind int

const (
	ActionIgnore ActionKind = iota
	ActionRemove
	ActionTerminate
	ActionRefetchMutes
)

type Action struct {
	Kind    ActionKind
	Members []string
	Reason  TerminateReason
}

var ignore = Action{Kind: ActionIgnore}

func remove(members ...string) Action {
	return Action{Kind: ActionRemove, Members: members}
}

func terminate(reason TerminateReason) Action {
	return Action{Kind: ActionTerminate, Reason: reason}
}

// Route maps an event to what a session on scope, logged in as self,
// has to do about it. Server events only concern server scoped
// sessions and channel events only channel scoped ones.
//
//nolint:cyclop
func Route(scope bridge.Scope, self string, event *bridge.Event) Action {
	if event == nil {
		return ignore
	}

	inServer := func(serverID string) bool {
		return !scope.IsChannel() && serverID == scope.ServerID
	}

	inChannel := func(serverID, channelID string) bool {
		return scope.IsChannel() && serverID == scope.ServerID && channelID == scope.ChannelID
	}

	switch e := event.Data.(type) {
	case *bridge.ServerDestroyedEvent:
		if inServer(e.ServerID) {
			return terminate(TerminateServerDisbanded)
		}
	case *bridge.ServerMemberLeftEvent:
		if inServer(e.ServerID) {
			return remove(e.Member)
		}
	case *bridge.ServerMembersRemovedEvent:
		if !inServer(e.ServerID) {
			return ignore
		}

		if slices.Contains(e.Members, self) {
			return terminate(TerminateRemovedFromServer)
		}

		return remove(e.Members...)
	case *bridge.ChannelDestroyedEvent:
		if inChannel(e.ServerID, e.ChannelID) {
			return terminate(TerminateChannelDisbanded)
		}
	case *bridge.ChannelMemberLeftEvent:
		if inChannel(e.ServerID, e.ChannelID) {
			return remove(e.Member)
		}
	case *bridge.ChannelMemberRemovedEvent:
		if !inChannel(e.ServerID, e.ChannelID) {
			return ignore
		}

		if e.Member == self {
			return terminate(TerminateRemovedFromChannel)
		}

		return remove(e.Member)
	case *bridge.ChannelMuteChangeEvent:
		if inChannel(e.ServerID, e.ChannelID) {
			return Action{Kind: ActionRefetchMutes}
		}
	case *bridge.MultiDeviceServerEvent:
		if inServer(e.ServerID) {
			return routeMultiDevice(serverMultiDeviceActions, e.Op, e.Members())
		}
	case *bridge.MultiDeviceChannelEvent:
		// the multi-device channel echo is only keyed by channel id
		if scope.IsChannel() && e.ChannelID == scope.ChannelID && (e.ServerID == "" || e.ServerID == scope.ServerID) {
			return routeMultiDevice(channelMultiDeviceActions, e.Op, e.Members())
		}
	}

	return ignore
}

var serverMultiDeviceActions = map[bridge.MultiDeviceOp]Action{
	bridge.MultiDeviceServerRemoveUser: {Kind: ActionRemove},
	bridge.MultiDeviceServerDestroy:    terminate(TerminateServerDisbanded),
	bridge.MultiDeviceServerExit:       terminate(TerminateLeftServer),
}

var channelMultiDeviceActions = map[bridge.MultiDeviceOp]Action{
	bridge.MultiDeviceChannelRemoveUser: {Kind: ActionRemove},
	bridge.MultiDeviceChannelDestroy:    terminate(TerminateChannelDisbanded),
	bridge.MultiDeviceChannelExit:       terminate(TerminateLeftChannel),
	bridge.MultiDeviceChannelAddMute:    {Kind: ActionRefetchMutes},
	bridge.MultiDeviceChannelRemoveMute: {Kind: ActionRefetchMutes},
}

func routeMultiDevice(actions map[bridge.MultiDeviceOp]Action, op bridge.MultiDeviceOp, members []string) Action {
	action, ok := actions[op]
	if !ok {
		return ignore
	}

	if action.Kind == ActionRemove {
		if len(members) == 0 {
			return ignore
		}

		action.Members = members
	}

	return action
}
