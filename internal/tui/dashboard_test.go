package tui

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kingrea/apkalias/internal/renamer"
)

func fixedFeed() *Feed {
	feed := NewFeed()
	feed.now = func() time.Time { return time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC) }
	return feed
}

func drain(t *testing.T, d *Dashboard, cmd tea.Cmd) tea.Cmd {
	t.Helper()
	if cmd == nil {
		t.Fatalf("expected a follow-up command")
	}
	msg := cmd()
	_, next := d.Update(msg)
	return next
}

func TestDashboardRecordsOutcomes(t *testing.T) {
	feed := fixedFeed()
	d := NewDashboard("apkalias watch", feed)
	d.Update(tea.WindowSizeMsg{Width: 120, Height: 30})

	feed.Outcome("assembleRelease", renamer.Outcome{
		Status:      renamer.StatusCopied,
		Dir:         "/out",
		Source:      "app-release.apk",
		Destination: "P-app-release.apk",
	})
	feed.Outcome("assembleRelease", renamer.Outcome{
		Status:      renamer.StatusFailed,
		Dir:         "/out",
		Source:      "app-debug.apk",
		Destination: "P-app-debug.apk",
		Err: &renamer.CopyFailedError{
			Source:      "/out/app-debug.apk",
			Destination: "/out/P-app-debug.apk",
			Cause:       errors.New("disk full"),
		},
	})

	cmd := drain(t, d, d.feed.next())
	drain(t, d, cmd)

	copied, failed := d.Counts()
	if copied != 1 || failed != 1 {
		t.Fatalf("expected 1 copied and 1 failed, got %d/%d", copied, failed)
	}
	view := d.View()
	for _, want := range []string{
		"09:30:00 [assembleRelease] Copied app-release.apk -> P-app-release.apk",
		"Failed to copy /out/app-debug.apk -> /out/P-app-debug.apk: disk full",
		"1 copied · 1 failed",
	} {
		if !strings.Contains(view, want) {
			t.Fatalf("view missing %q:\n%s", want, view)
		}
	}
}

func TestDashboardStatusAndClose(t *testing.T) {
	feed := fixedFeed()
	d := NewDashboard("apkalias watch", feed)
	if !strings.Contains(d.View(), "No artifacts copied yet.") {
		t.Fatalf("expected empty placeholder")
	}
	feed.Statusf("watching %d directories", 2)
	feed.Close()
	feed.Statusf("ignored after close")

	next := drain(t, d, d.feed.next())
	if d.status != "watching 2 directories" {
		t.Fatalf("unexpected status %q", d.status)
	}
	if out := drain(t, d, next); out != nil {
		t.Fatalf("closed feed should not schedule more reads")
	}
	if !d.done || d.status != "watcher stopped" {
		t.Fatalf("expected stopped state, got done=%v status=%q", d.done, d.status)
	}
}

func TestDashboardQuitKeys(t *testing.T) {
	for _, key := range []tea.KeyMsg{
		{Type: tea.KeyRunes, Runes: []rune("q")},
		{Type: tea.KeyCtrlC},
	} {
		d := NewDashboard("apkalias watch", NewFeed())
		_, cmd := d.Update(key)
		if cmd == nil {
			t.Fatalf("%s: expected quit command", key.String())
		}
		if _, ok := cmd().(tea.QuitMsg); !ok {
			t.Fatalf("%s: expected tea.QuitMsg", key.String())
		}
	}
}

func TestFeedDropsWhenFull(t *testing.T) {
	feed := NewFeed()
	for i := 0; i < feedCapacity+10; i++ {
		feed.Statusf("line %d", i)
	}
	if got := len(feed.ch); got != feedCapacity {
		t.Fatalf("expected buffer to cap at %d, got %d", feedCapacity, got)
	}
}

func TestHistoryIsBounded(t *testing.T) {
	d := NewDashboard("apkalias watch", NewFeed())
	for i := 0; i < maxHistory+25; i++ {
		d.append("line")
	}
	if len(d.history) != maxHistory {
		t.Fatalf("expected %d lines, got %d", maxHistory, len(d.history))
	}
}
