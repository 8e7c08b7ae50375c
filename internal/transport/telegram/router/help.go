package router

import (
	"html"
	"strings"
)

func helpText(cmds []Command, owner bool) string {
	var b strings.Builder
	b.WriteString("<b>Commands</b>\n")
	for _, c := range cmds {
		if c.Hidden || (c.Access == AccessOwnerOnly && !owner) {
			continue
		}
		usage := c.Usage
		if usage == "" {
			usage = "/" + c.Name
		}
		b.WriteString("\n<code>" + html.EscapeString(usage) + "</code>")
		if d := strings.TrimSpace(c.Description); d != "" {
			b.WriteString(" - " + html.EscapeString(d))
		}
	}
	return b.String()
}
