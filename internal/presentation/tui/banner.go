package tui

import (
	"fmt"
	"io"

	"github.com/muesli/termenv"
)

// PrintBanner writes the weft banner and version to w.
func PrintBanner(w io.Writer, version string) {
	p := termenv.ColorProfile()
	lines := []struct {
		text  string
		color string
	}{
		{"                __ _   ", "#818cf8"},
		{" __      _____ / _| |_ ", "#a78bfa"},
		{" \\ \\ /\\ / / _ \\ |_| __|", "#c084fc"},
		{"  \\ V  V /  __/  _| |_ ", "#e879f9"},
		{"   \\_/\\_/ \\___|_|  \\__|", "#f472b6"},
	}

	fmt.Fprintln(w)
	for _, l := range lines {
		fmt.Fprintln(w, termenv.String(l.text).Foreground(p.Color(l.color)))
	}
	fmt.Fprintln(w, termenv.String("   "+version).Faint())
	fmt.Fprintln(w)
}
