// Package inputreader implements the input-reader subcommand per
// SPEC_FULL.md §4.12: a terminal line prompt that asks for a custom room
// code and writes it into the player's property namespace over the same
// Player IPC channel the client adapter uses.
//
// The corpus carries no GUI toolkit suited to a small headless CLI
// prompt (the one GUI-adjacent dependency in the pack,
// github.com/wailsapp/go-webview2, is a Windows-only embedded browser
// control backing a desktop chat client, not a portable prompt library),
// so this reads from stdin with the standard library's bufio.Scanner —
// a standard-library choice named explicitly in DESIGN.md.
package inputreader

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/rtldg/simulcast-mpv/internal/errs"
)

// CustomRoomCodeProperty is the IPC property the result is written to,
// per spec.md §3's list of script-facing properties.
const CustomRoomCodeProperty = "user-data/simulcast/custom_room_code"

// IPC is the subset of playeripc.Channel the input reader needs.
type IPC interface {
	SetProperty(ctx context.Context, name string, value any) error
}

// Prompt reads a single line from in, writes a prompt to out, and sets
// the custom room code property via ipc. An empty line (just Enter)
// clears the custom room code instead of setting it.
func Prompt(ctx context.Context, ipc IPC, in io.Reader, out io.Writer) error {
	fmt.Fprint(out, "Enter a custom room code (blank to clear): ")

	scanner := bufio.NewScanner(in)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("inputreader: reading stdin: %w", err)
		}
		return fmt.Errorf("inputreader: %w: no input received", errs.ErrPlayerUnavailable)
	}

	code := strings.TrimSpace(scanner.Text())
	if err := ipc.SetProperty(ctx, CustomRoomCodeProperty, code); err != nil {
		return fmt.Errorf("inputreader: %w: %v", errs.ErrPlayerUnavailable, err)
	}

	if code == "" {
		fmt.Fprintln(out, "Custom room code cleared.")
	} else {
		fmt.Fprintf(out, "Custom room code set to %q.\n", code)
	}
	return nil
}
