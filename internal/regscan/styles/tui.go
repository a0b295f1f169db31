package styles

import (
	"github.com/charmbracelet/lipgloss/v2"
	"github.com/charmbracelet/x/exp/charmtone"
)

// Browser styles.
var (
	Title = lipgloss.NewStyle().
		Foreground(lipgloss.Color("99")).
		MarginLeft(2)

	Item = lipgloss.NewStyle().
		PaddingLeft(4)

	SelectedItem = lipgloss.NewStyle().
		PaddingLeft(2).
		Foreground(lipgloss.Color("170"))

	Spinner = lipgloss.NewStyle().
		Foreground(lipgloss.Color("170"))

	Menu = lipgloss.NewStyle().
		Background(lipgloss.Color("235")).
		Foreground(lipgloss.Color("252")).
		Padding(0, 1)

	Header = lipgloss.NewStyle().
		Foreground(lipgloss.Color(charmtone.Malibu.Hex())).
		Bold(true)

	Error = lipgloss.NewStyle().
		Foreground(lipgloss.Color("196"))
)
