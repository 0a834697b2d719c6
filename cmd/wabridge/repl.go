package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/stacklight/wabridge/pkg/messaging"
	"github.com/stacklight/wabridge/pkg/messaging/whatsapp"
	"github.com/stacklight/wabridge/pkg/storage"
)

const replHelp = `Commands:
  status                       provider connection state
  chats [limit]                list recent chats
  messages <chat> [limit]      list messages in a chat
  send <chat> <text...>        send a text message
  react <chat> <msg-id> <emoji>
  read <chat> <msg-id...>      mark messages as read
  recent [limit]               recently archived messages
  pair [phone]                 pair via QR, or via code for a phone number
  connect / disconnect         toggle the session connection
  logout                       unlink this device
  quit                         shut down`

func runREPL(ctx context.Context, stop context.CancelFunc, provider *whatsapp.Provider, archive storage.Archive) error {
	historyFile, _ := filepath.Abs(".wabridge_history")
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "wabridge> ",
		HistoryFile:     historyFile,
		InterruptPrompt: "^C",
	})
	if err != nil {
		return fmt.Errorf("init readline: %w", err)
	}
	defer rl.Close()

	// The prompt loop owns stdin; ctx cancellation (signal or bridge death
	// escalated by the caller) still wins.
	lines := make(chan string)
	go func() {
		defer close(lines)
		for {
			line, err := rl.Readline()
			if err == readline.ErrInterrupt {
				continue
			}
			if err != nil { // io.EOF on ^D
				return
			}
			lines <- line
		}
	}()

	fmt.Println(`Type "help" for commands.`)
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := dispatch(ctx, stop, provider, archive, line); quit {
				return nil
			}
		}
	}
}

func dispatch(ctx context.Context, stop context.CancelFunc, provider *whatsapp.Provider, archive storage.Archive, line string) bool {
	fields := strings.Fields(strings.TrimSpace(line))
	if len(fields) == 0 {
		return false
	}
	cmd, args := fields[0], fields[1:]

	cmdCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	switch cmd {
	case "help":
		fmt.Println(replHelp)

	case "status":
		status := provider.Status()
		fmt.Printf("state: %s", status.State)
		if status.Reason != "" {
			fmt.Printf(" (%s)", status.Reason)
		}
		fmt.Printf("  logged in: %v\n", provider.IsLoggedIn())

	case "chats":
		limit := argInt(args, 0, 20)
		chats, err := provider.GetChats(cmdCtx, limit, 0, false)
		if err != nil {
			fmt.Println("error:", err)
			return false
		}
		for _, c := range chats {
			unread := ""
			if c.UnreadCount > 0 {
				unread = fmt.Sprintf(" [%d unread]", c.UnreadCount)
			}
			fmt.Printf("%-40s %-10s %s%s\n", messaging.FormatJID(c.ID), c.Type, c.Name, unread)
		}

	case "messages":
		if len(args) < 1 {
			fmt.Println("usage: messages <chat> [limit]")
			return false
		}
		limit := argInt(args, 1, 20)
		msgs, err := provider.GetMessages(cmdCtx, args[0], limit, "", "")
		if err != nil {
			fmt.Println("error:", err)
			return false
		}
		printMessages(msgs)

	case "send":
		if len(args) < 2 {
			fmt.Println("usage: send <chat> <text...>")
			return false
		}
		msg, err := provider.SendMessage(cmdCtx, args[0], strings.Join(args[1:], " "), "")
		if err != nil {
			fmt.Println("error:", err)
			return false
		}
		fmt.Printf("sent %s\n", msg.ID)

	case "react":
		if len(args) != 3 {
			fmt.Println("usage: react <chat> <msg-id> <emoji>")
			return false
		}
		if err := provider.SendReaction(cmdCtx, args[0], args[1], args[2]); err != nil {
			fmt.Println("error:", err)
		}

	case "read":
		if len(args) < 2 {
			fmt.Println("usage: read <chat> <msg-id...>")
			return false
		}
		if err := provider.MarkAsRead(cmdCtx, args[0], args[1:]); err != nil {
			fmt.Println("error:", err)
		}

	case "recent":
		if archive == nil {
			fmt.Println("message archive is disabled")
			return false
		}
		msgs, err := archive.RecentMessages(cmdCtx, "whatsapp", argInt(args, 0, 20))
		if err != nil {
			fmt.Println("error:", err)
			return false
		}
		printMessages(msgs)

	case "pair":
		var err error
		if len(args) > 0 {
			err = pairWithCode(ctx, provider, args[0])
		} else {
			err = pairWithQR(ctx, provider)
		}
		if err != nil {
			fmt.Println("error:", err)
		}

	case "connect":
		if err := provider.Connect(cmdCtx); err != nil {
			fmt.Println("error:", err)
		}

	case "disconnect":
		if err := provider.Disconnect(cmdCtx); err != nil {
			fmt.Println("error:", err)
		}

	case "logout":
		if err := provider.Logout(cmdCtx); err != nil {
			fmt.Println("error:", err)
		} else {
			fmt.Println("logged out")
		}

	case "quit", "exit":
		stop()
		return true

	default:
		fmt.Printf("unknown command %q (try \"help\")\n", cmd)
	}
	return false
}

func printMessages(msgs []messaging.Message) {
	for _, m := range msgs {
		dir := "<-"
		if m.FromMe {
			dir = "->"
		}
		text := m.Text
		if text == "" {
			text = "[" + string(m.Type) + "]"
		}
		fmt.Printf("%s %s %-20s %s\n", m.Timestamp.Format("2006-01-02 15:04"), dir, m.SenderID, text)
	}
}

func argInt(args []string, idx, def int) int {
	if idx >= len(args) {
		return def
	}
	n, err := strconv.Atoi(args[idx])
	if err != nil || n <= 0 {
		return def
	}
	return n
}
