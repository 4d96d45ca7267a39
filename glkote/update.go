package glkote

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedUpdate reports a recorder update whose required fields are
// missing or mistyped. The update is rejected whole; existing game state is
// never touched by a malformed update.
var ErrMalformedUpdate = errors.New("malformed update")

// Window kinds.
const (
	WindowGrid   = "grid"
	WindowBuffer = "buffer"
)

// Update is one recorder envelope as posted by the GlkOte transcript hook.
type Update struct {
	SessionID string  `json:"sessionId"`
	Label     string  `json:"label"`
	Timestamp float64 `json:"timestamp"`
	Output    *Output `json:"output"`
}

// ParseUpdate decodes and validates one recorder envelope. All shape errors
// are reported as ErrMalformedUpdate so that callers can log and drop the
// single bad update.
func ParseUpdate(b []byte) (*Update, error) {
	var u Update
	if err := json.Unmarshal(b, &u); err != nil {
		if errors.Is(err, ErrMalformedUpdate) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformedUpdate, err)
	}
	if u.SessionID == "" {
		return nil, fmt.Errorf("%w: missing sessionId", ErrMalformedUpdate)
	}
	if u.Label == "" {
		return nil, fmt.Errorf("%w: missing label", ErrMalformedUpdate)
	}
	if u.Output == nil {
		return nil, fmt.Errorf("%w: missing output", ErrMalformedUpdate)
	}
	return &u, nil
}

// Output is the display update produced by one game turn. Beyond the fields
// interpreted here, GlkOte includes others (type, timers, special input
// requests) which are passed through to viewers untouched; the raw field
// set is retained for that purpose.
type Output struct {
	Gen     int
	Windows []Window
	Content []ContentEntry

	raw map[string]json.RawMessage
}

func (o *Output) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	var v struct {
		Gen     int            `json:"generation"`
		Windows []Window       `json:"windows"`
		Content []ContentEntry `json:"content"`
	}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	o.Gen = v.Gen
	o.Windows = v.Windows
	o.Content = v.Content
	o.raw = raw
	return nil
}

func (o *Output) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.fields())
}

// HasWindows reports whether the update carried a window catalog. An update
// with a catalog replaces the game's catalog wholesale, even if the list is
// empty.
func (o *Output) HasWindows() bool {
	return o.Windows != nil
}

// View returns the output's field set with the player's input stripped,
// ready to push to viewers.
func (o *Output) View() map[string]json.RawMessage {
	fields := o.fields()
	delete(fields, "input")
	return fields
}

func (o *Output) fields() map[string]json.RawMessage {
	fields := make(map[string]json.RawMessage, len(o.raw))
	if o.raw != nil {
		for k, v := range o.raw {
			fields[k] = v
		}
		return fields
	}
	// Output built in code rather than parsed off the wire.
	fields["generation"] = mustMarshal(o.Gen)
	if o.Windows != nil {
		fields["windows"] = mustMarshal(o.Windows)
	}
	if o.Content != nil {
		fields["content"] = mustMarshal(o.Content)
	}
	return fields
}

func mustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

// Window is one entry in the window catalog. The raw object is retained so
// viewers see the layout fields exactly as GlkOte sent them.
type Window struct {
	ID         int
	Type       string
	GridHeight int

	raw json.RawMessage
}

func (w *Window) UnmarshalJSON(b []byte) error {
	var v struct {
		ID         *int   `json:"id"`
		Type       string `json:"type"`
		GridHeight int    `json:"gridHeight"`
	}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	if v.ID == nil {
		return fmt.Errorf("%w: window with no id", ErrMalformedUpdate)
	}
	switch v.Type {
	case WindowGrid, WindowBuffer:
	default:
		return fmt.Errorf("%w: window %d has type %q", ErrMalformedUpdate, *v.ID, v.Type)
	}
	w.ID = *v.ID
	w.Type = v.Type
	w.GridHeight = v.GridHeight
	w.raw = append([]byte(nil), b...)
	return nil
}

func (w Window) MarshalJSON() ([]byte, error) {
	if w.raw != nil {
		return w.raw, nil
	}
	v := struct {
		ID         int    `json:"id"`
		Type       string `json:"type"`
		GridHeight int    `json:"gridHeight,omitempty"`
	}{w.ID, w.Type, w.GridHeight}
	return json.Marshal(v)
}

// ContentEntry is the per-window content diff carried by one update: text
// fragments appended to a buffer window, or line overwrites for a grid
// window.
type ContentEntry struct {
	ID    int               `json:"id"`
	Clear bool              `json:"clear,omitempty"`
	Text  []json.RawMessage `json:"text,omitempty"`
	Lines []Line            `json:"lines,omitempty"`
}

func (c *ContentEntry) UnmarshalJSON(b []byte) error {
	var v struct {
		ID    *int              `json:"id"`
		Clear bool              `json:"clear"`
		Text  []json.RawMessage `json:"text"`
		Lines []Line            `json:"lines"`
	}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	if v.ID == nil {
		return fmt.Errorf("%w: content entry with no window id", ErrMalformedUpdate)
	}
	c.ID = *v.ID
	c.Clear = v.Clear
	c.Text = v.Text
	c.Lines = v.Lines
	return nil
}

// Line is one grid-window line record, addressed by line number. The raw
// object is retained for passthrough of the styled text runs.
type Line struct {
	Num int

	raw json.RawMessage
}

func (l *Line) UnmarshalJSON(b []byte) error {
	var v struct {
		Line *int `json:"line"`
	}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	if v.Line == nil {
		return fmt.Errorf("%w: grid line with no line number", ErrMalformedUpdate)
	}
	if *v.Line < 0 {
		return fmt.Errorf("%w: grid line number %d", ErrMalformedUpdate, *v.Line)
	}
	l.Num = *v.Line
	l.raw = append([]byte(nil), b...)
	return nil
}

func (l Line) MarshalJSON() ([]byte, error) {
	if l.raw != nil {
		return l.raw, nil
	}
	return json.Marshal(struct {
		Line int `json:"line"`
	}{l.Num})
}

// BlankLine returns the placeholder record used to pad a grid window when an
// update addresses a line past the end of the cached content.
func BlankLine(num int) Line {
	return Line{Num: num}
}

// ViewUpdate is the snapshot message sent to a viewer that joins a game
// late: the full window catalog plus all cached content, shaped like a
// normal GlkOte display update.
type ViewUpdate struct {
	Type    string         `json:"type"`
	Gen     int            `json:"generation"`
	Windows []Window       `json:"windows"`
	Content []ContentEntry `json:"content,omitempty"`
}
