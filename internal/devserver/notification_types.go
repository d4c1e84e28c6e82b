package devserver

import (
	"strings"

	"github.com/google/uuid"
)

type notificationType struct {
	Code        string
	DisplayName string
	Template    string
}

// Self-targeted activity notifications, rendered from {placeholder} templates.
var notificationTypes = map[string]notificationType{
	"NOTE_CREATED": {
		Code:        "NOTE_CREATED",
		DisplayName: "Note Created",
		Template:    "You created a note: \"{title}\"",
	},
	"NOTE_UPDATED": {
		Code:        "NOTE_UPDATED",
		DisplayName: "Note Updated",
		Template:    "You updated note: \"{title}\"",
	},
	"NOTE_DELETED": {
		Code:        "NOTE_DELETED",
		DisplayName: "Note Deleted",
		Template:    "You deleted note: \"{title}\"",
	},
	"TEST_EVENT": {
		Code:        "TEST_EVENT",
		DisplayName: "Test Notification",
		Template:    "This is a test notification: {message}",
	},
}

func renderTemplate(template string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

// emit stores and pushes an activity notification. Unknown codes are ignored.
func (s *Server) emit(userID uuid.UUID, code string, vars map[string]string) {
	nt, ok := notificationTypes[code]
	if !ok {
		s.logger.Warn("DevServer", "Unknown notification type", map[string]interface{}{"code": code})
		return
	}
	s.Notify(userID, nt.Code, nt.DisplayName, renderTemplate(nt.Template, vars))
}
