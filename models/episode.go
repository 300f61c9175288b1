package models

import "encoding/json"

// Episode is one scraped record with a playable audio reference.
//
// Optional fields are pointers so a failed read serialises as null instead
// of an empty string.
type Episode struct {
	// Type is the display name of the target that produced the record,
	// e.g. "Poem of the Day".
	Type string `json:"type"`

	Title       *string `json:"title"`
	Description *string `json:"description"`

	// AudioSrc is the resolved audio URL. Never empty for a returned record.
	AudioSrc string `json:"audioSrc"`

	// Date is only read by targets that configure a date selector.
	Date *string `json:"date,omitempty"`

	// NullDate keeps a nil Date in the JSON as "date": null. It marks a
	// record whose target reads a date but the read failed.
	NullDate bool `json:"-"`
}

// MarshalJSON omits the date key unless the record has a date or
// NullDate is set.
func (e Episode) MarshalJSON() ([]byte, error) {
	type plain Episode
	if e.Date == nil && e.NullDate {
		return json.Marshal(struct {
			plain
			Date *string `json:"date"`
		}{plain: plain(e)})
	}
	return json.Marshal(plain(e))
}

// UnmarshalJSON sets NullDate when the date key is present but null.
func (e *Episode) UnmarshalJSON(data []byte) error {
	type plain Episode
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*e = Episode(p)
	if e.Date != nil {
		return nil
	}
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return err
	}
	_, e.NullDate = keys["date"]
	return nil
}

// HasAudio reports whether the record carries a non-empty audio reference.
func (e *Episode) HasAudio() bool {
	return e != nil && e.AudioSrc != ""
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
