package entities

import "time"

// commandUsage maps command names to the last time they were used.
type commandUsage map[string]time.Time

func (u commandUsage) last(command string) (time.Time, bool) {
	at, ok := u[command]
	return at, ok
}

func touchCommand(usage *commandUsage, command string, at time.Time) {
	if *usage == nil {
		*usage = make(commandUsage)
	}
	(*usage)[command] = at.UTC()
}
