package tgui

import (
	"strings"
)

// Data formats inline callback data as "ns:action:payload".
// Payload is kept as-is (no escaping); it may itself contain ':'.
func Data(ns, action, payload string) string {
	ns = strings.TrimSpace(ns)
	action = strings.TrimSpace(action)
	if payload == "" {
		return ns + ":" + action
	}
	return ns + ":" + action + ":" + payload
}

// SplitData is the inverse of Data. It returns ns, action and the raw payload
// (possibly empty). ok is false when the data has no "ns:action" shape.
func SplitData(data string) (ns, action, payload string, ok bool) {
	parts := strings.SplitN(strings.TrimSpace(data), ":", 3)
	if len(parts) < 2 {
		return "", "", "", false
	}
	ns = parts[0]
	action = parts[1]
	if len(parts) == 3 {
		payload = parts[2]
	}
	return ns, action, payload, true
}
