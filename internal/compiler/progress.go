package compiler

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"git.home.luguber.info/inful/frontbuild/internal/config"
)

const progressWidth = 24

var (
	barStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	phaseStyle = lipgloss.NewStyle().Faint(true)
)

// progressPlugin reports compile phases. On a terminal it redraws a single
// status line; otherwise it prints each phase once.
type progressPlugin struct {
	out   io.Writer
	tty   bool
	clear bool

	mu   sync.Mutex
	last string
}

func newProgressPlugin(c *Compiler, o pluginOptions) (plugin, error) {
	p := &progressPlugin{out: c.progress, clear: o.flag("clear", false)}
	if f, ok := c.progress.(*os.File); ok {
		p.tty = term.IsTerminal(int(f.Fd()))
	}
	return p, nil
}

func (p *progressPlugin) name() string { return config.PluginProgress }

func (p *progressPlugin) phase(name string, done, total int) {
	if p.out == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.tty {
		if name != p.last {
			p.last = name
			fmt.Fprintf(p.out, "[frontbuild] %s\n", name)
		}
		return
	}
	p.last = name
	ratio := 1.0
	if total > 0 {
		ratio = min(float64(done)/float64(total), 1)
	}
	filled := int(ratio * progressWidth)
	bar := barStyle.Render(strings.Repeat("█", filled)) + strings.Repeat("░", progressWidth-filled)
	fmt.Fprintf(p.out, "\r\x1b[2K%s %3d%% %s", bar, int(ratio*100), phaseStyle.Render(name))
}

func (p *progressPlugin) done(stats *Stats) {
	if p.out == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.last = ""
	if !p.tty {
		return
	}
	if p.clear {
		fmt.Fprint(p.out, "\r\x1b[2K")
		return
	}
	fmt.Fprintf(p.out, "\r\x1b[2K%s compiled in %s\n", barStyle.Render(strings.Repeat("█", progressWidth)), stats.Duration.Round(time.Millisecond))
}
