package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/charmbracelet/bubbles/v2/list"
	"github.com/charmbracelet/bubbles/v2/spinner"
	"github.com/charmbracelet/bubbles/v2/viewport"
	tea "github.com/charmbracelet/bubbletea/v2"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"regscan/internal/config"
	"regscan/internal/logging"
	"regscan/internal/regscan/styles"
	"regscan/internal/ui/colorize"
)

// dumpSize is how much of an object the dump view shows.
const dumpSize = 0x100

type viewMode int

const (
	viewObjects viewMode = iota
	viewDump
	viewInfo
)

type objectItem struct {
	index int32
	addr  uint64
}

func (i objectItem) Title() string {
	return fmt.Sprintf("[%08X] 0x%x", i.index, i.addr)
}

func (i objectItem) FilterValue() string {
	return fmt.Sprintf("%x %x", i.index, i.addr)
}

func (i objectItem) Description() string { return "" }

type objectDelegate struct{}

func (d objectDelegate) Height() int                               { return 1 }
func (d objectDelegate) Spacing() int                              { return 0 }
func (d objectDelegate) Update(msg tea.Msg, m *list.Model) tea.Cmd { return nil }

func (d objectDelegate) Render(w io.Writer, m list.Model, index int, listItem list.Item) {
	i, ok := listItem.(objectItem)
	if !ok {
		return
	}
	if index == m.Index() {
		fmt.Fprint(w, styles.SelectedItem.Render("> "+i.Title()))
		return
	}
	fmt.Fprint(w, styles.Item.Render(i.Title()))
}

type attachedMsg struct {
	target *target
	items  []list.Item
	err    error
}

func attachCmd(c config.Config, lg *logging.LoggerCloser) tea.Cmd {
	return func() tea.Msg {
		t, err := attachWith(c, lg)
		if err != nil {
			return attachedMsg{err: err}
		}
		var items []list.Item
		for index, obj := range t.handle.All() {
			items = append(items, objectItem{index: index, addr: obj})
		}
		return attachedMsg{target: t, items: items}
	}
}

type browseModel struct {
	config  config.Config
	logger  *logging.LoggerCloser
	target  *target
	err     error
	loading bool

	objects list.Model
	dump    viewport.Model
	info    viewport.Model
	spinner spinner.Model
	mode    viewMode

	width  int
	height int
}

func newBrowseModel(c config.Config, lg *logging.LoggerCloser) browseModel {
	objects := list.New([]list.Item{}, objectDelegate{}, 80, 24)
	objects.Title = "Live objects"
	objects.SetShowStatusBar(true)
	objects.SetFilteringEnabled(true)
	objects.Styles.Title = styles.Title

	dump := viewport.New()
	dump.SetWidth(80)
	dump.SetHeight(24)

	info := viewport.New()
	info.SetWidth(80)
	info.SetHeight(24)

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = styles.Spinner

	return browseModel{
		config:  c,
		logger:  lg,
		loading: true,
		objects: objects,
		dump:    dump,
		info:    info,
		spinner: s,
		mode:    viewObjects,
		width:   80,
		height:  24,
	}
}

func (m browseModel) Init() tea.Cmd {
	return tea.Batch(
		attachCmd(m.config, m.logger),
		m.spinner.Tick,
	)
}

func (m browseModel) close() {
	if m.target != nil {
		m.target.Close()
	}
}

func (m browseModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case attachedMsg:
		m.loading = false
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.target = msg.target
		cmd = m.objects.SetItems(msg.items)
		m.objects.Title = fmt.Sprintf("Live objects (%s)", humanize.Comma(int64(len(msg.items))))
		m.updateInfo()
		return m, cmd

	case spinner.TickMsg:
		if !m.loading {
			return m, nil
		}
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		if msg.Width != m.width || msg.Height != m.height {
			m.width = msg.Width
			m.height = msg.Height
			m.objects.SetWidth(msg.Width)
			m.objects.SetHeight(msg.Height - 2)
			m.dump.SetWidth(msg.Width)
			m.dump.SetHeight(msg.Height - 2)
			m.info.SetWidth(msg.Width)
			m.info.SetHeight(msg.Height - 2)
			m.updateInfo()
		}

	case tea.KeyMsg:
		if m.mode == viewObjects && m.objects.FilterState() == list.Filtering {
			if msg.String() == "ctrl+c" {
				m.close()
				return m, tea.Quit
			}
			break
		}

		switch msg.String() {
		case "q", "ctrl+c":
			m.close()
			return m, tea.Quit
		case "enter":
			if m.mode == viewObjects {
				if item, ok := m.objects.SelectedItem().(objectItem); ok {
					m.showDump(item)
				}
			}
			return m, nil
		case "esc":
			if m.mode != viewObjects {
				m.mode = viewObjects
				return m, nil
			}
		case "tab":
			if m.target == nil {
				return m, nil
			}
			m.mode = (m.mode + 1) % 3
			return m, nil
		case "shift+tab":
			if m.target == nil {
				return m, nil
			}
			m.mode = (m.mode + 2) % 3
			return m, nil
		}
	}

	switch m.mode {
	case viewDump:
		m.dump, cmd = m.dump.Update(msg)
	case viewInfo:
		m.info, cmd = m.info.Update(msg)
	default:
		m.objects, cmd = m.objects.Update(msg)
	}
	return m, cmd
}

// showDump reads the start of the object live and switches to the dump view.
func (m *browseModel) showDump(item objectItem) {
	var b strings.Builder
	fmt.Fprintf(&b, "; object [%08X] at 0x%x\n", item.index, item.addr)
	if s, off, ok := m.target.image.SymbolAt(m.target.handle.View().Ptr(item.addr)); ok {
		fmt.Fprintf(&b, "; vtable %s+0x%x\n", s.Demangled(), off)
	}
	b.WriteString("\n")

	data, err := m.target.handle.View().Bytes(item.addr, dumpSize)
	if err != nil {
		b.WriteString(styles.Error.Render(err.Error()))
	} else {
		b.WriteString(colorize.Hexdump(colorize.Dump(item.addr, data)))
	}

	m.dump.SetContent(b.String())
	m.dump.GotoTop()
	m.mode = viewDump
}

func (m *browseModel) updateInfo() {
	if m.target == nil {
		return
	}
	r := newReport(m.target.handle, m.target.image)
	content := r.Markdown()
	if renderer, err := styles.GetMarkdownRenderer(m.width); err == nil {
		if out, err := renderer.Render(content); err == nil {
			content = out
		}
	}
	m.info.SetContent(content)
}

func (m browseModel) View() string {
	var content string
	switch {
	case m.loading:
		content = fmt.Sprintf("\n  %s Searching for the object registry...\n", m.spinner.View())
	case m.err != nil:
		content = "\n  " + styles.Error.Render(m.err.Error()) + "\n"
	case m.mode == viewDump:
		content = m.dump.View()
	case m.mode == viewInfo:
		content = m.info.View()
	default:
		content = m.objects.View()
	}

	// Pad the view so the menu sits on the last line.
	if lines := strings.Count(content, "\n") + 1; lines < m.height-1 {
		content += strings.Repeat("\n", m.height-1-lines)
	}

	menu := "q: quit"
	if m.target != nil {
		menu = "tab: objects/dump/info • enter: dump object • /: filter • esc: back • q: quit"
	}
	return content + "\n" + styles.Menu.Width(m.width).Render(menu)
}

var browseCmd = &cobra.Command{
	Use:   "browse",
	Short: "Browse live objects interactively",
	Long: `Discover the registry, list every live object and show a hexdump of
the selected object read from the running process.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := settings(cmd)
		if err != nil {
			return err
		}

		// stderr would draw over the alternate screen.
		lg := logging.NewLogger()
		if lg.Path() == "" {
			lg = logging.NewLoggerWithWriter(io.Discard)
		}

		program := tea.NewProgram(
			newBrowseModel(c, lg),
			tea.WithAltScreen(),
			tea.WithContext(cmd.Context()),
		)
		final, err := program.Run()
		if err != nil {
			slog.Error("TUI run error", "error", err)
			return fmt.Errorf("TUI error: %v", err)
		}
		if m, ok := final.(browseModel); ok {
			m.close()
			return m.err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(browseCmd)
}
