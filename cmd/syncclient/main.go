// Command syncclient runs the message sync core against a live server and
// drives it from stdin. It is a headless stand-in for a chat UI.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/lalith-99/echosync/internal/client"
	"github.com/lalith-99/echosync/internal/config"
	"github.com/lalith-99/echosync/internal/observ"
	"github.com/lalith-99/echosync/internal/readstate"
	"github.com/lalith-99/echosync/internal/timeline"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const usage = `commands:
  send <text>            post a message
  edit <id> <text>       edit your message
  delete <id>            delete your message
  react <id> <emoji>     toggle a reaction
  pin <id>               toggle pin
  thread <id>            open a message's thread
  channel                return to the channel
  search [query]         filter the view; empty clears
  earlier                load older history
  latest                 jump to the newest message
  scroll <px>            set distance from the bottom
  retry                  retry the last failed load
  show                   print the visible messages
  quit`

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.APIToken == "" || cfg.ChannelID == "" {
		return errors.New("API_TOKEN and CHANNEL_ID are required")
	}

	logger, err := observ.NewLogger("echosync-client", cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	positions, err := readstate.Open(cfg.ReadStatePath, logger)
	if err != nil {
		return fmt.Errorf("open read state: %w", err)
	}
	defer positions.Close()

	source := client.NewHTTPSource(cfg.ServerURL, cfg.APIToken, nil, logger)
	me, err := source.Me(ctx)
	if err != nil {
		return fmt.Errorf("identify user: %w", err)
	}

	session := timeline.NewSession(timeline.SessionConfig{
		UserID:          me.ID.String(),
		Source:          source,
		Events:          client.NewWSEvents(cfg.ServerURL, cfg.APIToken, logger),
		Positions:       positions,
		PageSize:        cfg.PageSize,
		ScrollThreshold: cfg.ScrollThreshold,
		Logger:          logger,
		Metrics:         observ.NewMetrics(prometheus.NewRegistry()),
		OnChange:        func(st timeline.ViewState) { logState(logger, st) },
	})
	defer session.Close()

	if err := session.Open(ctx, cfg.ChannelID); err != nil {
		// The failure is kept in the view; "retry" can recover it.
		logger.Warn("initial load failed", zap.Error(err))
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	fmt.Println(usage)
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := execute(ctx, session, cfg.ChannelID, line)
			if err != nil {
				logger.Warn("command failed", zap.String("command", line), zap.Error(err))
			}
			if quit {
				return nil
			}
		}
	}
}

func execute(ctx context.Context, s *timeline.Session, channelID, line string) (bool, error) {
	cmd, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
	rest = strings.TrimSpace(rest)
	arg, tail, _ := strings.Cut(rest, " ")

	switch cmd {
	case "":
		return false, nil
	case "quit", "exit":
		return true, nil
	case "send":
		_, err := s.Send(ctx, rest)
		return false, err
	case "edit":
		return false, s.Edit(ctx, arg, tail)
	case "delete":
		return false, s.Delete(ctx, arg)
	case "react":
		return false, s.React(ctx, arg, tail)
	case "pin":
		return false, s.Pin(ctx, arg)
	case "thread":
		return false, s.OpenThread(ctx, channelID, arg)
	case "channel":
		return false, s.Open(ctx, channelID)
	case "search":
		s.Search(rest)
		return false, nil
	case "earlier":
		return false, s.LoadEarlier(ctx)
	case "latest":
		s.JumpToLatest()
		return false, nil
	case "scroll":
		px, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return false, fmt.Errorf("scroll needs a number: %w", err)
		}
		s.Scroll(px)
		return false, nil
	case "retry":
		return false, s.Retry(ctx)
	case "show":
		printMessages(s.State())
		return false, nil
	}
	fmt.Println(usage)
	return false, nil
}

func logState(logger *zap.Logger, st timeline.ViewState) {
	fields := []zap.Field{
		zap.String("channel_id", st.ChannelID),
		zap.Int("visible", len(st.Messages)),
		zap.Int("total", st.Total),
		zap.Bool("loading", st.Loading || st.LoadingEarlier),
		zap.Bool("has_more", st.HasMore),
		zap.Bool("live", st.Live),
		zap.Int("new_messages", st.NewMessages),
	}
	if st.ParentID != "" {
		fields = append(fields, zap.String("parent_id", st.ParentID))
	}
	if st.Query != "" {
		fields = append(fields, zap.String("query", st.Query))
	}
	if st.HasUnread {
		fields = append(fields, zap.Int("unread_index", st.UnreadIndex))
	}
	if st.Err != nil {
		fields = append(fields, zap.Error(st.Err))
	}
	logger.Info("view changed", fields...)
}

func printMessages(st timeline.ViewState) {
	for i, m := range st.Messages {
		if st.HasUnread && i == st.UnreadIndex {
			fmt.Println("---- new ----")
		}
		flags := ""
		if m.Pending {
			flags += " (sending)"
		}
		if m.Edited {
			flags += " (edited)"
		}
		if m.Pinned {
			flags += " [pinned]"
		}
		if m.ThreadReplyCount > 0 {
			flags += fmt.Sprintf(" [%d replies]", m.ThreadReplyCount)
		}
		fmt.Printf("%s %s %s: %s%s\n", m.CreatedAt.Format("15:04:05"), m.ID, m.AuthorID, m.Content, flags)
		for emoji, rc := range m.Reactions {
			fmt.Printf("    %s %d\n", emoji, rc.Count)
		}
	}
}
