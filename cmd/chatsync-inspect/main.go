// chatsync-inspect dumps the state of a local sync cache: channels,
// pending writes and the replay watermark. Useful when debugging why an
// offline mutation never reached the server.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"chatsync/internal/config"
	"chatsync/internal/storage"
)

func run() error {
	userID := flag.String("user", "", "User id to show sync state for")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	store, err := storage.NewBboltStore(cfg.DBFile)
	if err != nil {
		return fmt.Errorf("open %s: %w", cfg.DBFile, err)
	}
	defer func() { _ = store.Close() }()

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	if *userID != "" {
		state, err := store.SelectSyncState(*userID)
		if err != nil {
			return err
		}
		if state == nil {
			fmt.Fprintf(w, "no sync state for user %s\n", *userID)
		} else {
			fmt.Fprintf(w, "user\t%s\n", state.UserID)
			fmt.Fprintf(w, "last synced\t%s\n", formatTime(state.LastSyncedAt))
			fmt.Fprintf(w, "active channels\t%d\n", len(state.ActiveCIDs))
			fmt.Fprintf(w, "active queries\t%d\n", len(state.ActiveQueryIDs))
			for _, cid := range state.ActiveCIDs {
				fmt.Fprintf(w, "\t%s\n", cid)
			}
		}
		fmt.Fprintln(w)
	}

	pendingChannels, err := store.SelectChannelsSyncNeeded()
	if err != nil {
		return err
	}
	pendingMessages, err := store.SelectMessagesSyncNeeded()
	if err != nil {
		return err
	}
	pendingReactions, err := store.SelectReactionsSyncNeeded()
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "pending channels\t%d\n", len(pendingChannels))
	for _, ch := range pendingChannels {
		fmt.Fprintf(w, "\t%s\t%s\n", ch.CID, ch.SyncStatus)
	}
	fmt.Fprintf(w, "pending messages\t%d\n", len(pendingMessages))
	for _, msg := range pendingMessages {
		fmt.Fprintf(w, "\t%s\t%s\t%q\n", msg.CID, msg.ID, truncate(msg.Text, 40))
	}
	fmt.Fprintf(w, "pending reactions\t%d\n", len(pendingReactions))
	for _, r := range pendingReactions {
		fmt.Fprintf(w, "\t%s\t%s\t%s\n", r.MessageID, r.UserID, r.Type)
	}

	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Format(time.RFC3339)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func main() {
	if err := run(); err != nil {
		log.Fatalf("chatsync-inspect: %v", err)
	}
}
