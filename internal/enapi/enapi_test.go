package enapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/JonMunkholm/enexport/internal/core"
)

func fixedNow() time.Time {
	// 2024-03-10 01:00 UTC is still March 9 in New York.
	return time.Date(2024, 3, 10, 1, 0, 0, 0, time.UTC)
}

func testClient(cfg Config) *Client {
	cfg.Now = fixedNow
	return New(cfg)
}

func TestCheckDates(t *testing.T) {
	c := testClient(Config{MaxLookback: 30 * 24 * time.Hour})

	tests := []struct {
		name    string
		start   string
		end     string
		wantErr string
	}{
		{name: "valid range", start: "2024-03-01", end: "2024-03-08"},
		{name: "single day", start: "2024-03-08", end: "2024-03-08"},
		{name: "bad format", start: "2024-3-1", end: "2024-03-08", wantErr: "YYYY-MM-DD"},
		{name: "not a date", start: "2024-02-30", end: "2024-03-08", wantErr: "invalid dates"},
		{name: "start after end", start: "2024-03-08", end: "2024-03-01", wantErr: "is after"},
		{name: "end is today in EN zone", start: "2024-03-01", end: "2024-03-09", wantErr: "2024-03-09"},
		{name: "end in the future", start: "2024-03-01", end: "2024-04-01", wantErr: "current day"},
		{name: "beyond lookback", start: "2024-01-01", end: "2024-03-01", wantErr: "before today"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := c.CheckDates(tt.start, tt.end)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			var ae *core.ArgumentError
			if !errors.As(err, &ae) {
				t.Fatalf("expected ArgumentError, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestCheckDates_InENZone(t *testing.T) {
	c := testClient(Config{})
	start, end, err := c.CheckDates("2024-03-01", "2024-03-02")
	if err != nil {
		t.Fatalf("CheckDates failed: %v", err)
	}
	if start.Location().String() != TimeZone || end.Hour() != 0 {
		t.Errorf("dates not midnight in %s: %v %v", TimeZone, start, end)
	}
}

type closeTracker struct {
	io.Writer
	closed bool
}

func (c *closeTracker) Close() error {
	c.closed = true
	return nil
}

func TestDownloadTransactions_RequiresToken(t *testing.T) {
	c := testClient(Config{})
	sink := &closeTracker{Writer: io.Discard}

	_, err := c.DownloadTransactions(context.Background(), "2024-03-01", "2024-03-02", Options{Backup: sink})
	var ae *core.AuthError
	if !errors.As(err, &ae) {
		t.Fatalf("expected AuthError, got %v", err)
	}
	if !sink.closed {
		t.Error("backup sink was not closed")
	}
}

func TestDownloadTransactions_BackupDir(t *testing.T) {
	body := "Supporter Email,Campaign Type,Campaign ID,\na@example.org,FUN,1,\n"

	var gotToken, gotUA string
	done := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.URL.Query().Get("token")
		gotUA = r.UserAgent()
		close(done)
		w.Header().Set("Total", "1")
		io.WriteString(w, body)
	}))
	defer srv.Close()

	c := testClient(Config{PrivateToken: "client-token", BaseURL: srv.URL, HTTPClient: srv.Client()})
	dir := t.TempDir()

	s, err := c.DownloadTransactions(context.Background(), "2024-03-01", "2024-03-02", Options{
		PrivateToken: "override",
		BackupDir:    dir,
	})
	if err != nil {
		t.Fatalf("DownloadTransactions failed: %v", err)
	}
	<-done

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var n int
	for _, err := range s.All(ctx) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		n++
	}
	if n != 1 {
		t.Errorf("got %d records, want 1", n)
	}
	if gotToken != "override" {
		t.Errorf("token = %q, want the per-download override", gotToken)
	}
	if gotUA != "go enexport v"+Version {
		t.Errorf("User-Agent = %q", gotUA)
	}

	want := filepath.Join(dir, "2024-03-10-01-00_2024-03-01_2024-03-02.csv")
	got, err := os.ReadFile(want)
	if err != nil {
		t.Fatalf("backup not written to %s: %v", want, err)
	}
	if string(got) != body {
		t.Errorf("backup = %q, want %q", got, body)
	}
}

func TestDownloadTransactions_BackupFileName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "Supporter Email,Campaign Type,Campaign ID\n")
	}))
	defer srv.Close()

	c := testClient(Config{PrivateToken: "t", BaseURL: srv.URL, HTTPClient: srv.Client()})
	dir := t.TempDir()

	s, err := c.DownloadTransactions(context.Background(), "2024-03-01", "2024-03-01", Options{
		BackupDir:      dir,
		BackupFileName: "latest.csv",
	})
	if err != nil {
		t.Fatalf("DownloadTransactions failed: %v", err)
	}
	if err := s.Wait(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "latest.csv")); err != nil {
		t.Errorf("backup file missing: %v", err)
	}
}

type memSink struct {
	strings.Builder
	closed bool
}

func (m *memSink) Close() error {
	m.closed = true
	return nil
}

func TestDownloadTransactions_NewBackup(t *testing.T) {
	body := "Supporter Email,Campaign Type,Campaign ID\na@example.org,FUN,1\n"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, body)
	}))
	defer srv.Close()

	c := testClient(Config{PrivateToken: "t", BaseURL: srv.URL, HTTPClient: srv.Client()})
	sink := &memSink{}
	var gotName string

	s, err := c.DownloadTransactions(context.Background(), "2024-03-01", "2024-03-01", Options{
		NewBackup: func(_ context.Context, name string) (io.WriteCloser, string, error) {
			gotName = name
			return sink, "mem://" + name, nil
		},
	})
	if err != nil {
		t.Fatalf("DownloadTransactions failed: %v", err)
	}
	if err := s.Wait(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotName != "2024-03-10-01-00_2024-03-01.csv" {
		t.Errorf("backup name = %q", gotName)
	}
	if !sink.closed || sink.String() != body {
		t.Errorf("sink closed=%v body=%q", sink.closed, sink.String())
	}
}

func TestDownloadTransactions_NewBackupError(t *testing.T) {
	c := testClient(Config{PrivateToken: "t", BaseURL: "http://127.0.0.1:1"})

	_, err := c.DownloadTransactions(context.Background(), "2024-03-01", "2024-03-01", Options{
		NewBackup: func(context.Context, string) (io.WriteCloser, string, error) {
			return nil, "", errors.New("bucket missing")
		},
	})
	var be *core.BackupWriteError
	if !errors.As(err, &be) {
		t.Fatalf("expected BackupWriteError, got %v", err)
	}
}
