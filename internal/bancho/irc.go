package bancho

import (
	"strings"

	"gopkg.in/irc.v4"
)

// message — разобранная строка IRC.
type message struct {
	prefix  *irc.Prefix
	Command string
	Params  []string
}

// parseLine разбирает строку вида "@tags :prefix COMMAND a b :trailing".
// Теги IRCv3 отбрасываются.
func parseLine(line string) (message, bool) {
	m, err := irc.ParseMessage(strings.TrimRight(line, "\r\n"))
	if err != nil || m.Command == "" {
		return message{}, false
	}
	return message{
		prefix:  m.Prefix,
		Command: strings.ToUpper(m.Command),
		Params:  m.Params,
	}, true
}

// Nick — ник из префикса "nick!user@host".
func (m message) Nick() string {
	if m.prefix == nil {
		return ""
	}
	return m.prefix.Name
}

func (m message) Param(i int) string {
	if i < len(m.Params) {
		return m.Params[i]
	}
	return ""
}

// Trailing — последний параметр (текст сообщения).
func (m message) Trailing() string {
	if len(m.Params) == 0 {
		return ""
	}
	return m.Params[len(m.Params)-1]
}

// ircNick — ник в IRC: пробелы заменены на "_".
func ircNick(name string) string {
	return strings.ReplaceAll(strings.TrimSpace(name), " ", "_")
}
