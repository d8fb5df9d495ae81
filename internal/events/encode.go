package events

import "encoding/json"

// ToMap renders the event as a generic map[string]any following its JSON
// tags, suitable as input to canon.Canonicalize. Round-tripping through
// encoding/json keeps the wire shape authoritative in exactly one place
// (the struct tags) instead of duplicating field names here.
func (e *GovernanceEvent) ToMap() map[string]any {
	raw, err := json.Marshal(e)
	if err != nil {
		// Struct fields are all JSON-serializable by construction; a
		// failure here indicates a programming error, not bad input.
		panic("events: GovernanceEvent failed to marshal: " + err.Error())
	}

	var m map[string]any

	if err := json.Unmarshal(raw, &m); err != nil {
		panic("events: GovernanceEvent failed to round-trip through JSON: " + err.Error())
	}

	return m
}

// FromMap parses a generic map[string]any (typically a decoded JSON
// request body) into a GovernanceEvent. It does not validate the result;
// callers run it through the Validator first.
func FromMap(m map[string]any) (*GovernanceEvent, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}

	var e GovernanceEvent

	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, err
	}

	return &e, nil
}
