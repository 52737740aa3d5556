// Command friday-chat is an interactive terminal client for the friday
// gateway. It streams responses with typing animation, shows transcripts for
// audio input, and can save received speech audio to disk.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/samwang0723/friday-sub000/internal/dotenv"
	"github.com/samwang0723/friday-sub000/pkg/core/types"
	friday "github.com/samwang0723/friday-sub000/sdk"
)

const (
	defaultGatewayURL = "http://127.0.0.1:8087"
	defaultSession    = "default"
)

type chatConfig struct {
	BaseURL   string
	APIKey    string
	SessionID string
	Voice     string
	Buffered  bool
	AudioDir  string
}

func parseChatConfig(args []string, getenv func(string) string) (chatConfig, error) {
	if getenv == nil {
		getenv = os.Getenv
	}

	cfg := chatConfig{}
	fs := flag.NewFlagSet("friday-chat", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.BaseURL, "base-url", defaultGatewayURL, "gateway base URL")
	fs.StringVar(&cfg.APIKey, "api-key", strings.TrimSpace(getenv("FRIDAY_API_KEY")), "gateway api key (or FRIDAY_API_KEY)")
	fs.StringVar(&cfg.SessionID, "session", defaultSession, "session id")
	fs.StringVar(&cfg.Voice, "voice", "", "voice id for speech output (empty disables voice)")
	fs.BoolVar(&cfg.Buffered, "buffered", false, "use the single-response fallback instead of streaming")
	fs.StringVar(&cfg.AudioDir, "audio-dir", "", "directory to save received audio (empty discards it)")

	if err := fs.Parse(args); err != nil {
		return chatConfig{}, err
	}
	if err := validateChatConfig(cfg); err != nil {
		return chatConfig{}, err
	}
	return cfg, nil
}

func validateChatConfig(cfg chatConfig) error {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		return errors.New("base-url must not be empty")
	}
	u, err := url.Parse(base)
	if err != nil || strings.TrimSpace(u.Scheme) == "" || strings.TrimSpace(u.Host) == "" {
		return errors.New("base-url must be a valid absolute URL")
	}
	if u.User != nil {
		return errors.New("base-url must not include credentials")
	}
	if strings.TrimSpace(cfg.SessionID) == "" {
		return errors.New("session must not be empty")
	}
	return nil
}

func voiceConfig(voice string) *types.VoiceConfig {
	return &types.VoiceConfig{Enabled: true, Voice: voice}
}

func buildClientOptions(cfg chatConfig) []friday.ClientOption {
	opts := []friday.ClientOption{
		friday.WithBaseURL(cfg.BaseURL),
	}
	if cfg.APIKey != "" {
		opts = append(opts, friday.WithAPIKey(cfg.APIKey))
	}
	return opts
}

type chatRuntime struct {
	session  string
	turnSeq  int
	audioDir string
}

func handleSlashCommand(line string, state *chatRuntime, client *friday.Client, out io.Writer) (handled bool) {
	switch {
	case line == "/session":
		fmt.Fprintf(out, "current session: %s\n", state.session)
		return true
	case strings.HasPrefix(line, "/session:"):
		next := strings.TrimSpace(strings.TrimPrefix(line, "/session:"))
		if next == "" {
			fmt.Fprintln(out, "session must not be empty")
			return true
		}
		prev := state.session
		state.session = next
		fmt.Fprintf(out, "session switched: %s -> %s\n", prev, state.session)
		return true
	case line == "/cancel":
		client.Cancel(state.session)
		fmt.Fprintln(out, "cancelled")
		return true
	default:
		return false
	}
}

// runTurn submits one exchange and renders it until the turn settles. The
// display channel carries full snapshots, so each update rewrites the line's
// tail rather than appending blindly.
func runTurn(ctx context.Context, client *friday.Client, state *chatRuntime, params friday.ChatParams, out io.Writer, errOut io.Writer) {
	turn, err := client.Chat(ctx, params)
	if err != nil {
		fmt.Fprintf(errOut, "chat error: %v\n", err)
		return
	}
	state.turnSeq++

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for t := range turn.Transcript() {
			fmt.Fprintf(out, "[you said] %s\n", t)
		}
	}()

	audioPath := ""
	go func() {
		defer wg.Done()
		var f *os.File
		var total int
		for chunk := range turn.Audio() {
			if state.audioDir == "" {
				continue
			}
			if f == nil {
				audioPath = filepath.Join(state.audioDir, fmt.Sprintf("turn-%03d.pcm", state.turnSeq))
				created, err := os.Create(audioPath)
				if err != nil {
					fmt.Fprintf(errOut, "save audio: %v\n", err)
					state.audioDir = ""
					continue
				}
				f = created
			}
			if _, err := f.Write(chunk.Bytes); err != nil {
				fmt.Fprintf(errOut, "save audio: %v\n", err)
			}
			total += len(chunk.Bytes)
		}
		if f != nil {
			_ = f.Close()
			fmt.Fprintf(out, "\n[audio] %d bytes -> %s\n", total, audioPath)
		}
	}()

	printed := 0
	for snapshot := range turn.Display() {
		if len(snapshot) > printed {
			fmt.Fprint(out, snapshot[printed:])
			printed = len(snapshot)
		}
	}
	<-turn.Done()
	wg.Wait()
	fmt.Fprintln(out)

	switch turn.Phase() {
	case friday.PhaseCancelled:
		fmt.Fprintln(out, "[turn cancelled]")
	case friday.PhaseFailed:
		fmt.Fprintf(errOut, "turn failed: %v\n", turn.Err())
	}
}

func runChat(ctx context.Context, cfg chatConfig, in io.Reader, out io.Writer, errOut io.Writer) error {
	if err := validateChatConfig(cfg); err != nil {
		return err
	}
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}
	if errOut == nil {
		errOut = os.Stderr
	}

	client := friday.NewClient(buildClientOptions(cfg)...)
	state := chatRuntime{session: strings.TrimSpace(cfg.SessionID), audioDir: strings.TrimSpace(cfg.AudioDir)}
	if state.audioDir != "" {
		if err := os.MkdirAll(state.audioDir, 0o755); err != nil {
			return fmt.Errorf("create audio dir: %w", err)
		}
	}

	fmt.Fprintf(out, "friday-chat connected to %s (session %s)\n", cfg.BaseURL, state.session)
	fmt.Fprintln(out, "Type /exit or /quit to stop. /cancel aborts the current turn, /session:{id} switches sessions.")

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("read input: %w", err)
			}
			fmt.Fprintln(out)
			return nil
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		switch line {
		case "/exit", "/quit":
			fmt.Fprintln(out, "bye")
			return nil
		}
		if handleSlashCommand(line, &state, client, out) {
			continue
		}

		params := friday.ChatParams{
			SessionID: state.session,
			Text:      line,
			Buffered:  cfg.Buffered,
		}
		if cfg.Voice != "" {
			params.Voice = voiceConfig(cfg.Voice)
		}

		turnCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		runTurn(turnCtx, client, &state, params, out, errOut)
		cancel()
	}
}

func main() {
	if err := dotenv.LoadFile(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "friday-chat: %v\n", err)
		os.Exit(1)
	}

	cfg, err := parseChatConfig(os.Args[1:], os.Getenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "friday-chat: %v\n", err)
		os.Exit(1)
	}

	if err := runChat(context.Background(), cfg, os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "friday-chat: %v\n", err)
		os.Exit(1)
	}
}
