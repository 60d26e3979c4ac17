package dashboard

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Quit    key.Binding
	Sort    key.Binding
	Pause   key.Binding
	Disks   key.Binding
	Load    key.Binding
	Refresh key.Binding
}

var keys = keyMap{
	Quit:    key.NewBinding(key.WithKeys("q", "ctrl+c", "esc"), key.WithHelp("q", "quit")),
	Sort:    key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "sort mem/cpu")),
	Pause:   key.NewBinding(key.WithKeys("p", " "), key.WithHelp("p", "pause")),
	Disks:   key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "disks")),
	Load:    key.NewBinding(key.WithKeys("l"), key.WithHelp("l", "load")),
	Refresh: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
}

func (k keyMap) help() []key.Binding {
	return []key.Binding{k.Quit, k.Sort, k.Pause, k.Disks, k.Load, k.Refresh}
}
