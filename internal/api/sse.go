package api

import (
	"encoding/json"
	"fmt"

	"lnprobe/internal/probe"
)

// encodeEvent frames one probe event as a server-sent event.
func encodeEvent(ev probe.Event) ([]byte, error) {
	var payload any
	switch ev := ev.(type) {
	case probe.ProbingEvent:
		payload = map[string]RouteDTO{"route": NewRouteDTO(ev.Route)}
	case probe.RoutingFailureEvent:
		payload = newRoutingFailureDTO(ev)
	case probe.ProbeSuccessEvent:
		payload = map[string]RouteDTO{"route": NewRouteDTO(ev.Route)}
	case probe.ErrorEvent:
		payload = errResponse{Error: newErrorDTO(ev.Err)}
	case probe.EndEvent:
		payload = struct{}{}
	default:
		return nil, fmt.Errorf("unknown probe event %T", ev)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", ev.Type(), data)), nil
}
