package supervisor

import "encoding/json"

// Request is one line read from a charge point's command socket:
// {"id"?:"<opaque>","command":"<name>","params"?:{...}}
type Request struct {
	ID      string          `json:"id,omitempty"`
	Command string          `json:"command"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response answers one Request on the same connection.
// {"id":"<same or null>","ok":true|false,"data"?:<any>,"error"?:"<message>"}
type Response struct {
	ID    string      `json:"id"`
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

// EventFrame is pushed to subscribers: {"event":"<name>","data":<object>,"timestamp":"<RFC3339>"}
type EventFrame struct {
	Event     string      `json:"event"`
	Data      interface{} `json:"data"`
	Timestamp string      `json:"timestamp"`
}

func okResponse(id string, data interface{}) Response {
	return Response{ID: id, OK: true, Data: data}
}

func errResponse(id string, err error) Response {
	return Response{ID: id, OK: false, Error: err.Error()}
}
