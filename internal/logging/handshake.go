package logging

// HandshakeEvent names the connection and handshake a log entry is about.
// Empty fields are left out of the entry.
type HandshakeEvent struct {
	Conn     string
	Content  string
	Role     string
	State    string
	Username string
}

// Fields returns the event as log fields.
func (e HandshakeEvent) Fields() map[string]any {
	fields := make(map[string]any, 5)
	for k, v := range map[string]string{
		"conn":     e.Conn,
		"content":  e.Content,
		"role":     e.Role,
		"state":    e.State,
		"username": e.Username,
	} {
		if v != "" {
			fields[k] = v
		}
	}
	return fields
}

// Handshake logs msg at level with the event fields followed by extra.
func (l *Logger) Handshake(level LogLevel, msg string, ev HandshakeEvent, extra ...map[string]any) {
	if !l.Enabled(level) {
		return
	}
	l.With(ev.Fields()).Log(level, msg, extra...)
}
