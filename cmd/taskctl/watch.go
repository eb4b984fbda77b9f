package main

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/spf13/cobra"

	"github.com/forgekit/taskkernel/manager"
	"github.com/forgekit/taskkernel/process"
	"github.com/forgekit/taskkernel/progressreporter"
	"github.com/forgekit/taskkernel/scheduler"
)

var watchCmd = &cobra.Command{
	Use:   "watch <program> [args...]",
	Short: "Run a ProcessTask and render its progress as a tcell gradient bar",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	logger := initLogging()
	defer func() { _ = logger.Sync() }()

	cfg, env, err := loadHostConfig()
	if err != nil {
		return err
	}

	screen, err := tcell.NewScreen()
	if err != nil {
		return fmt.Errorf("tcell.NewScreen: %w", err)
	}
	if err := screen.Init(); err != nil {
		return fmt.Errorf("screen.Init: %w", err)
	}
	defer screen.Fini()

	m := manager.New(manager.Options{Logger: logger, LongRunningMaxWorkers: cfg.LongRunningMaxWorkers})
	defer m.Stop()

	pt := process.New(args[0], scheduler.LongRunning, env)
	if err := pt.Configure(process.StartSpec{Program: args[0], Args: args[1:]}, nil); err != nil {
		return err
	}

	bar := newProgressBar(screen)
	m.Reporter().Subscribe(func(ev progressreporter.Event) {
		bar.update(ev)
	})

	quit := make(chan struct{})
	go pollQuit(screen, quit)

	if _, err := m.Schedule(pt.Task); err != nil {
		return fmt.Errorf("schedule: %w", err)
	}

	done := pt.Task.Done()
	for {
		select {
		case <-done:
			bar.finish(pt.Task.Successful())
			return nil
		case <-quit:
			pt.Stop()
			return nil
		}
	}
}

// pollQuit watches for 'q' or Ctrl-C and signals quit.
func pollQuit(screen tcell.Screen, quit chan struct{}) {
	for {
		ev := screen.PollEvent()
		switch e := ev.(type) {
		case *tcell.EventKey:
			if e.Key() == tcell.KeyCtrlC || e.Rune() == 'q' {
				close(quit)
				return
			}
		case nil:
			return
		}
	}
}

// progressBar renders a horizontal bar whose fill color blends from red to
// green as completion increases, using go-colorful's perceptually uniform
// blending (the library tcell itself depends on for its own color math,
// here exercised directly for the gradient rather than left unused).
type progressBar struct {
	screen tcell.Screen
	width  int
}

func newProgressBar(screen tcell.Screen) *progressBar {
	w, _ := screen.Size()
	return &progressBar{screen: screen, width: w}
}

func (b *progressBar) update(ev progressreporter.Event) {
	fraction := 0.0
	if ev.Progress.Total > 0 {
		fraction = float64(ev.Progress.Current) / float64(ev.Progress.Total)
	}
	b.render(fraction, ev.Progress.Message)
}

func (b *progressBar) finish(success bool) {
	fraction := 1.0
	msg := "done"
	if !success {
		fraction = 0
		msg = "failed"
	}
	b.render(fraction, msg)
}

func (b *progressBar) render(fraction float64, message string) {
	start := colorful.Color{R: 0.8, G: 0.1, B: 0.1}
	end := colorful.Color{R: 0.1, G: 0.8, B: 0.1}
	blended := start.BlendLuv(end, fraction)

	r, g, bl := blended.RGB255()
	style := tcell.StyleDefault.Background(tcell.NewRGBColor(int32(r), int32(g), int32(bl)))

	filled := int(fraction * float64(b.width))
	for x := 0; x < b.width; x++ {
		ch := ' '
		st := tcell.StyleDefault
		if x < filled {
			st = style
		}
		b.screen.SetContent(x, 0, ch, nil, st)
	}

	for i, r := range message {
		if i >= b.width {
			break
		}
		b.screen.SetContent(i, 1, r, nil, tcell.StyleDefault)
	}
	b.screen.Show()
}
