// Command inspect-room prints, or watches, one room straight from the
// database.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/icco/gutil/logging"
	"github.com/icco/numduel"
	"github.com/icco/numduel/store"
	"github.com/jessevdk/go-flags"
	"go.uber.org/zap"
)

var (
	log = logging.Must(logging.NewLogger(numduel.ServiceName))

	opts struct {
		Database    string `short:"d" long:"database" env:"DATABASE_URL" default:"numduel.db" description:"Postgres URL or sqlite path"`
		Code        string `short:"c" long:"code" required:"true" description:"Room code"`
		Watch       bool   `short:"w" long:"watch" description:"Keep the room on screen and refresh it"`
		ShowSecrets bool   `long:"show-secrets" description:"Print both secrets even mid game"`
	}
)

func main() {
	_, err := flags.Parse(&opts)
	if err != nil {
		os.Exit(1)
	}

	db, err := store.Open(opts.Database, log.Desugar())
	if err != nil {
		log.Fatalw("could not open database", zap.Error(err))
	}
	st := store.New(db)

	if opts.Watch {
		p := tea.NewProgram(newWatcher(st, opts.Code, opts.ShowSecrets), tea.WithAltScreen())
		if _, err := p.Run(); err != nil {
			log.Fatalw("watch failed", zap.Error(err))
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	room, err := st.Get(ctx, opts.Code)
	if err != nil {
		log.Fatalw("could not load room", "room", opts.Code, zap.Error(err))
	}
	fmt.Println(render(room, time.Now(), opts.ShowSecrets))
}
