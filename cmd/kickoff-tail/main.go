// Command kickoff-tail follows the live update stream of a kickoff server and
// prints one line per update, reconnecting with backoff when the stream drops.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"kickoff/cmd/kickoff/cmds"
	"kickoff/internal/stream"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

func main() {
	var (
		server   string
		leagues  string
		attempts int
		raw      bool
	)
	flag.StringVar(&server, "server", "http://localhost:8080", "kickoff server base URL")
	flag.StringVar(&leagues, "leagues", "", "comma-separated league ids (default: all)")
	flag.IntVar(&attempts, "attempts", 10, "consecutive failed connects before giving up (0 = forever)")
	flag.BoolVar(&raw, "raw", false, "print event payloads as received")
	flag.Parse()
	cmds.SetupLogging()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	target, err := streamURL(server, leagues)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	show := func(event, data string) {
		if raw {
			fmt.Printf("%s %s\n", event, data)
			return
		}
		if line, ok := formatUpdate(event, data); ok {
			fmt.Println(line)
		}
	}

	r := stream.NewReconnector(
		func(ctx context.Context, connected func()) error {
			return follow(ctx, http.DefaultClient, target, connected, show)
		},
		stream.WithMaxAttempts(attempts),
		stream.WithStateHook(func(s stream.State) {
			log.WithField("state", s).Debug("stream state")
		}),
	)
	if err := r.Run(ctx); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func streamURL(server, leagues string) (string, error) {
	u, err := url.Parse(strings.TrimRight(server, "/") + "/live/stream")
	if err != nil {
		return "", err
	}
	if leagues != "" {
		q := u.Query()
		q.Set("leagues", leagues)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// follow reads server-sent events from target until the stream ends. It
// reports connected once the server accepted the stream.
func follow(ctx context.Context, c *http.Client, target string, connected func(), emit func(event, data string)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("stream rejected: %s", resp.Status)
	}
	connected()
	return readEvents(resp.Body, emit)
}

// readEvents splits an event stream into (event, data) pairs. Comment lines
// are heartbeats and are skipped.
func readEvents(r io.Reader, emit func(event, data string)) error {
	sc := bufio.NewScanner(r)
	var event string
	var data []string
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if event != "" || len(data) > 0 {
				if event == "" {
					event = "message"
				}
				emit(event, strings.Join(data, "\n"))
			}
			event, data = "", nil
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	return io.ErrUnexpectedEOF
}

// formatUpdate renders one live update as a scoreboard line.
func formatUpdate(event, data string) (string, bool) {
	switch event {
	case "hello":
		return "connected, session " + gjson.Get(data, "session").String(), true
	case "update", "ended":
	default:
		return "", false
	}
	f := gjson.GetMany(data, "league_id", "status", "minute", "home_team", "home_score", "away_score", "away_team")
	line := fmt.Sprintf("[%d] %s %d' %s %d-%d %s",
		f[0].Int(), f[1].String(), f[2].Int(), f[3].String(), f[4].Int(), f[5].Int(), f[6].String())
	if event == "ended" {
		line += " (ended)"
	}
	return line, true
}
