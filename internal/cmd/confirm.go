package cmd

import (
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
)

func caspianHuhTheme() *huh.Theme {
	t := *huh.ThemeCharm()
	t.Focused.FocusedButton = t.Focused.FocusedButton.Background(lipgloss.Color("#A78BFA"))
	t.Focused.Next = t.Focused.FocusedButton
	return &t
}

// confirm asks a yes/no question on the terminal. The default answer is no.
func confirm(title, description string) (bool, error) {
	var ok bool
	field := huh.NewConfirm().
		Title(title).
		Description(description).
		Affirmative("Delete").
		Negative("Cancel").
		Value(&ok)

	err := huh.NewForm(huh.NewGroup(field)).
		WithTheme(caspianHuhTheme()).
		WithShowHelp(false).
		Run()
	if err != nil {
		return false, err
	}
	return ok, nil
}
