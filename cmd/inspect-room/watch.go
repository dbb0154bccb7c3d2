package main

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/icco/numduel"
)

const refreshEvery = time.Second

type roomGetter interface {
	Get(ctx context.Context, code string) (*numduel.Room, error)
}

type keyMap struct {
	Quit    key.Binding
	Secrets key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "esc", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
	Secrets: key.NewBinding(
		key.WithKeys("s"),
		key.WithHelp("s", "toggle secrets"),
	),
}

type tickMsg time.Time

type roomMsg struct {
	room *numduel.Room
	err  error
}

// watcher is a bubbletea model that re-reads the room every second. Clocks
// tick locally between reads.
type watcher struct {
	rooms       roomGetter
	code        string
	showSecrets bool

	room *numduel.Room
	err  error
	now  time.Time
}

func newWatcher(rooms roomGetter, code string, showSecrets bool) watcher {
	return watcher{rooms: rooms, code: code, showSecrets: showSecrets, now: time.Now()}
}

func (w watcher) fetch() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), refreshEvery)
		defer cancel()
		room, err := w.rooms.Get(ctx, w.code)
		return roomMsg{room: room, err: err}
	}
}

func tick() tea.Cmd {
	return tea.Tick(refreshEvery, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (w watcher) Init() tea.Cmd {
	return tea.Batch(w.fetch(), tick())
}

func (w watcher) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			return w, tea.Quit
		case key.Matches(msg, keys.Secrets):
			w.showSecrets = !w.showSecrets
		}
		return w, nil

	case tickMsg:
		w.now = time.Time(msg)
		return w, tea.Batch(w.fetch(), tick())

	case roomMsg:
		w.room, w.err = msg.room, msg.err
		return w, nil
	}
	return w, nil
}

func (w watcher) View() string {
	help := dimStyle.Render(keys.Quit.Help().Key + " " + keys.Quit.Help().Desc + ", " +
		keys.Secrets.Help().Key + " " + keys.Secrets.Help().Desc)

	switch {
	case w.err != nil:
		return "Room " + w.code + ": " + w.err.Error() + "\n\n" + help
	case w.room == nil:
		return "Loading room " + w.code + "...\n\n" + help
	}
	return render(w.room, w.now, w.showSecrets) + "\n\n" + help
}
