package transcript

import (
	"encoding/json"

	"github.com/erkyrath/remote-if-demo/glkote"
)

// Game is the materialized view of one recorded play session: the last
// known window catalog plus cached content, enough to bring a late-joining
// viewer up to date. A Game is created on the first update naming its
// session id and lives for the rest of the process.
//
// Game itself is not synchronized; the Store serializes all access.
type Game struct {
	ID       string
	Label    string
	Launched float64

	Gen     int
	Windows []glkote.Window

	gridContent map[int][]glkote.Line
	bufContent  map[int][]json.RawMessage
}

func NewGame(id, label string, launched float64) *Game {
	return &Game{
		ID:          id,
		Label:       label,
		Launched:    launched,
		gridContent: make(map[int][]glkote.Line),
		bufContent:  make(map[int][]json.RawMessage),
	}
}

// Apply folds one update into the materialized view. Updates for a game
// must be applied in arrival order, one at a time.
func (g *Game) Apply(out *glkote.Output) {
	g.Gen = out.Gen

	if out.HasWindows() {
		g.Windows = out.Windows

		// Discard cached content for windows that have gone.
		keep := make(map[int]bool, len(out.Windows))
		for _, win := range out.Windows {
			keep[win.ID] = true
		}
		for id := range g.gridContent {
			if !keep[id] {
				delete(g.gridContent, id)
			}
		}
		for id := range g.bufContent {
			if !keep[id] {
				delete(g.bufContent, id)
			}
		}

		// Trim grid windows down to their new height.
		// (Width should be trimmed as well; it is not.)
		for _, win := range out.Windows {
			if win.Type != glkote.WindowGrid {
				continue
			}
			if lines := g.gridContent[win.ID]; len(lines) > win.GridHeight {
				g.gridContent[win.ID] = lines[:win.GridHeight]
			}
		}
	}

	for _, entry := range out.Content {
		win, ok := g.window(entry.ID)
		if !ok {
			// Content for a window not in the catalog is ignored.
			continue
		}
		switch win.Type {
		case glkote.WindowBuffer:
			if entry.Clear {
				delete(g.bufContent, entry.ID)
			}
			if len(entry.Text) > 0 {
				g.bufContent[entry.ID] = append(g.bufContent[entry.ID], entry.Text...)
			}
		case glkote.WindowGrid:
			if len(entry.Lines) == 0 {
				continue
			}
			// Pad with blank records up to the addressed line, then
			// overwrite in place. This can regrow a grid past a height
			// it was trimmed to earlier; the trim only happens when the
			// catalog is replaced.
			lines := g.gridContent[entry.ID]
			for _, line := range entry.Lines {
				for len(lines) <= line.Num {
					lines = append(lines, glkote.BlankLine(len(lines)))
				}
				lines[line.Num] = line
			}
			g.gridContent[entry.ID] = lines
		}
	}
}

func (g *Game) window(id int) (glkote.Window, bool) {
	for _, win := range g.Windows {
		if win.ID == id {
			return win, true
		}
	}
	return glkote.Window{}, false
}

// Snapshot synthesizes a full display update from the cached state. It
// never mutates the game and needs no update in flight; every concurrent
// caller gets an equivalent view. The content slices are copied out of the
// caches, so a snapshot stays stable while later updates are applied (it
// is typically serialized on a viewer goroutine, outside the store lock).
func (g *Game) Snapshot() *glkote.ViewUpdate {
	view := &glkote.ViewUpdate{
		Type:    "update",
		Gen:     g.Gen,
		Windows: g.Windows,
	}
	for _, win := range g.Windows {
		switch win.Type {
		case glkote.WindowBuffer:
			if text := g.bufContent[win.ID]; len(text) > 0 {
				text = append([]json.RawMessage(nil), text...)
				view.Content = append(view.Content, glkote.ContentEntry{ID: win.ID, Text: text})
			}
		case glkote.WindowGrid:
			if lines := g.gridContent[win.ID]; len(lines) > 0 {
				lines = append([]glkote.Line(nil), lines...)
				view.Content = append(view.Content, glkote.ContentEntry{ID: win.ID, Lines: lines})
			}
		}
	}
	return view
}
