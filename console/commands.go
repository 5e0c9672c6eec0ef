package console

import (
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/42wim/membersync/bridge"
)

// nolint:structcheck
type Command struct {
	handler   func(c *Console, args []string)
	minParams int
	maxParams int
	manage    bool
	usage     string
}

var cmds map[string]Command

func init() {
	cmds = map[string]Command{
		"refresh": {handler: refresh, usage: "refresh: reload the list from the first page"},
		"more":    {handler: more, usage: "more: load the next page"},
		"list":    {handler: list, usage: "list: show the loaded members"},
		"kick":    {handler: kick, minParams: 1, maxParams: 1, manage: true, usage: "kick <user>: remove a member"},
		"mute":    {handler: mute, minParams: 2, maxParams: 2, manage: true, usage: "mute <user> <seconds>: mute a channel member"},
		"unmute":  {handler: unmute, minParams: 1, maxParams: 1, manage: true, usage: "unmute <user>: lift a mute"},
		"role":    {handler: role, minParams: 2, maxParams: 2, manage: true, usage: "role <user> <member|moderator|owner>: change a server role"},
		"leave":   {handler: leave, minParams: 1, maxParams: 1, usage: "leave <user>: make a member leave"},
		"destroy": {handler: destroy, usage: "destroy: disband the server or channel"},
		"event":   {handler: event, minParams: 1, maxParams: 1, usage: "event '<json>': inject a raw SDK event"},
		"help":    {handler: help, maxParams: 1, usage: "help [command]: show commands"},
		"quit":    {handler: quit, usage: "quit: close the screen"},
	}
}

func commandNames() []string {
	keys := make([]string, 0, len(cmds))
	for k := range cmds {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

func (c *Console) handle(line string) {
	commands, err := parseCommandString(line)
	if err != nil {
		c.printf("\"%s\" is improperly formatted", line)
		return
	}

	if len(commands) == 0 {
		return
	}

	cmd, ok := cmds[strings.ToLower(commands[0])]
	if !ok {
		c.printf("possible commands: %s", strings.Join(commandNames(), ", "))
		c.printf("<command> help for more info")
		return
	}

	args := commands[1:]

	if len(args) == 1 && args[0] == "help" {
		c.printf("%s", cmd.usage)
		return
	}

	if cmd.minParams > len(args) {
		c.printf("%s requires at least %v arguments", commands[0], cmd.minParams)
		return
	}

	if cmd.maxParams > -1 && len(args) > cmd.maxParams {
		c.printf("%s takes at most %v arguments", commands[0], cmd.maxParams)
		return
	}

	if cmd.manage && !c.session.CanManage(args[0]) {
		c.printf("you can't manage %s", args[0])
		return
	}

	logger.Debugf("command %s %v", commands[0], args)

	cmd.handler(c, args)
}

func refresh(c *Console, args []string) {
	if !c.session.Refresh() {
		c.printf("already loading")
	}
}

func more(c *Console, args []string) {
	if c.session.Exhausted() {
		c.printf("no more members")
		return
	}

	if !c.session.LoadMore() {
		c.printf("already loading")
	}
}

func list(c *Console, args []string) {
	c.render()
}

func kick(c *Console, args []string) {
	userID := args[0]

	if err := c.backend.Kick(c.session.Scope(), userID, c.backend.CurrentUser()); err != nil {
		c.printf("kick %s failed: %s", userID, err)
		return
	}

	c.session.OnKick(userID)
}

func mute(c *Console, args []string) {
	userID := args[0]

	if !c.session.Scope().IsChannel() {
		c.printf("members can only be muted in a channel")
		return
	}

	seconds, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil || seconds <= 0 {
		c.printf("%s is not a valid number of seconds", args[1])
		return
	}

	if err := c.backend.Mute(c.session.Scope(), userID, time.Duration(seconds)*time.Second); err != nil {
		c.printf("mute %s failed: %s", userID, err)
		return
	}

	c.session.OnMute(userID, &seconds)
}

func unmute(c *Console, args []string) {
	userID := args[0]

	if !c.session.Scope().IsChannel() {
		c.printf("members can only be muted in a channel")
		return
	}

	if err := c.backend.Unmute(c.session.Scope(), userID); err != nil {
		c.printf("unmute %s failed: %s", userID, err)
		return
	}

	c.session.OnMute(userID, nil)
}

func role(c *Console, args []string) {
	userID := args[0]

	r, err := bridge.ParseRole(args[1])
	if err != nil {
		c.printf("%s: %s", args[1], err)
		return
	}

	if err := c.backend.SetRole(c.session.Scope().ServerID, userID, r); err != nil {
		c.printf("role %s failed: %s", userID, err)
		return
	}

	c.session.OnRoleChange(userID, r)
}

func leave(c *Console, args []string) {
	if err := c.backend.Leave(c.session.Scope(), args[0]); err != nil {
		c.printf("leave %s failed: %s", args[0], err)
	}
}

func destroy(c *Console, args []string) {
	if err := c.backend.Destroy(c.session.Scope(), c.backend.CurrentUser()); err != nil {
		c.printf("destroy failed: %s", err)
	}
}

func event(c *Console, args []string) {
	ev, err := bridge.ParseEvent([]byte(args[0]))
	if err != nil {
		c.printf("invalid event: %s", err)
		return
	}

	c.backend.Publish(ev)
}

func help(c *Console, args []string) {
	if len(args) == 1 {
		if cmd, ok := cmds[strings.ToLower(args[0])]; ok {
			c.printf("%s", cmd.usage)
			return
		}
	}

	for _, name := range commandNames() {
		c.printf("%s", cmds[name].usage)
	}
}

func quit(c *Console, args []string) {
	c.quit = true
}

func parseCommandString(line string) ([]string, error) {
	args := []string{}
	buf := ""
	var escaped, doubleQuoted, singleQuoted bool

	got := false

	for _, r := range line {
		if escaped {
			buf += string(r)
			escaped = false
			continue
		}

		if r == '\\' {
			if singleQuoted {
				buf += string(r)
			} else {
				escaped = true
			}
			continue
		}

		if unicode.IsSpace(r) {
			if singleQuoted || doubleQuoted {
				buf += string(r)
			} else if got {
				args = append(args, buf)
				buf = ""
				got = false
			}
			continue
		}

		switch r {
		case '"':
			if !singleQuoted {
				doubleQuoted = !doubleQuoted
				got = true
				continue
			}
		case '\'':
			if !doubleQuoted {
				singleQuoted = !singleQuoted
				got = true
				continue
			}
		}
		got = true
		buf += string(r)
	}

	if got {
		args = append(args, buf)
	}

	if escaped || singleQuoted || doubleQuoted {
		return nil, errors.New("invalid command line string")
	}

	return args, nil
}
