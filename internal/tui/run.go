package tui

import (
	"context"
	"io"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"

	"wstrace/internal/analysis"
	"wstrace/internal/pipeline"
)

// Run shows the progress view on out while job runs. cancel is invoked when
// the user quits early; Run still waits for job to return.
func Run(out io.Writer, input string, stats *analysis.RunStats, cancel context.CancelFunc, job func(pipeline.Observer) error) error {
	p := tea.NewProgram(NewProgressModel(stats, input, cancel), tea.WithOutput(out))

	errc := make(chan error, 1)
	go func() {
		err := job(pipeline.ObserverFunc(func(e pipeline.Event) { p.Send(EventMsg(e)) }))
		errc <- err
		p.Send(DoneMsg{Err: err})
	}()

	if _, err := p.Run(); err != nil {
		if cancel != nil {
			cancel()
		}
		<-errc
		return errors.Wrap(err, "progress view")
	}
	return <-errc
}
