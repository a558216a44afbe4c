package cmd

import (
	"fmt"
	"sort"
	"time"

	"github.com/rcsb/rcsb-pdb-chatbot/internal/kb"
	"github.com/rcsb/rcsb-pdb-chatbot/internal/session"
	"github.com/rcsb/rcsb-pdb-chatbot/internal/syncer"
)

const (
	// Time duration constants for relative time formatting.
	hoursPerDay  = 24
	daysPerWeek  = 7
	daysPerMonth = 30

	percentScale = 100
)

// displaySyncResults displays the outcome of a sync run.
//
//nolint:forbidigo // CLI user output function
func displaySyncResults(results *syncer.Results, dryRun bool) {
	fmt.Println(results.Summary())

	if len(results.FailedFiles) > 0 {
		fmt.Println("\nFailed downloads:")
		for _, f := range results.FailedFiles {
			fmt.Printf("  - %s: %s\n", f.URL, f.Error)
		}
	}

	if dryRun {
		fmt.Println("\nDry run - no changes were made")
	}
}

// displayState displays the persisted sync state.
//
//nolint:forbidigo // CLI user output function
func displayState(state *syncer.State, statePath, downloadDir string) {
	fmt.Println("Google Drive Sync Status")
	fmt.Println()
	fmt.Printf("State file:   %s\n", statePath)
	fmt.Printf("Download dir: %s\n", downloadDir)

	if state.IsFirstSync() {
		fmt.Println("\nNo previous sync recorded. The next run will be a full sync.")
		return
	}

	if state.LastSync != nil {
		fmt.Printf("Last sync:    %s (%s)\n",
			state.LastSync.Format(time.RFC3339), formatTimeSince(*state.LastSync))
	}
	fmt.Printf("Change cursor: %s\n", presentOrNot(state.PageToken))
	fmt.Printf("Manifest hash: %s\n", presentOrNot(state.SpreadsheetMD5))
	fmt.Printf("Tracked files: %d\n", len(state.DownloadedFiles))

	if len(state.DownloadedFiles) == 0 {
		return
	}

	names := make([]string, 0, len(state.DownloadedFiles))
	for name := range state.DownloadedFiles {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Println()
	for _, name := range names {
		meta := state.DownloadedFiles[name]
		fmt.Printf("  %s (%d bytes, downloaded %s)\n",
			name, meta.Size, formatTimeSince(meta.DownloadTime))
	}
}

// displayAuthSuccess confirms the stored token.
//
//nolint:forbidigo // CLI user output function
func displayAuthSuccess(tokenPath string) {
	fmt.Printf("\nAuthorization successful. Token saved to %s\n", tokenPath)
}

// displayKBMetrics displays knowledge-base processing metrics.
//
//nolint:forbidigo // CLI user output function
func displayKBMetrics(m *kb.Metrics) {
	fmt.Println("Knowledge Base Metrics")
	fmt.Println()
	fmt.Printf("Documents: %d\n", m.Documents)
	fmt.Printf("Succeeded: %d\n", m.Succeeded)
	fmt.Printf("Failed:    %d\n", m.Failed)
	fmt.Printf("Chunks:    %d\n", m.Chunks)
	fmt.Printf("Tokens:    %d\n", m.Tokens)
	fmt.Printf("Success rate: %.1f%%\n", m.SuccessRate*percentScale)
}

// displayKBSyncStats displays the outcome of an incremental KB sync.
//
//nolint:forbidigo // CLI user output function
func displayKBSyncStats(stats *kb.SyncStats) {
	if !stats.Changed() {
		fmt.Printf("Knowledge base up to date (%d documents unchanged)\n", stats.Unchanged)
		return
	}

	fmt.Println("Knowledge Base Sync")
	fmt.Println()
	fmt.Printf("New:       %d\n", stats.New)
	fmt.Printf("Updated:   %d\n", stats.Updated)
	fmt.Printf("Deleted:   %d\n", stats.Deleted)
	fmt.Printf("Unchanged: %d\n", stats.Unchanged)
}

// displayUserList displays the known user IDs.
//
//nolint:forbidigo // CLI user output function
func displayUserList(users []string) {
	if len(users) == 0 {
		fmt.Println("No stored user sessions found.")
		return
	}

	fmt.Printf("Users: %d\n", len(users))
	for _, u := range users {
		fmt.Printf("  %s\n", u)
	}
}

// displayChatList displays one user's chats.
//
//nolint:forbidigo // CLI user output function
func displayChatList(userID string, chats []*session.Chat) {
	if len(chats) == 0 {
		fmt.Printf("No chats stored for user %s.\n", userID)
		return
	}

	fmt.Printf("Chats for %s: %d\n", userID, len(chats))
	for _, c := range chats {
		fmt.Printf("  %s - \"%s\" (%d messages, updated %s)\n",
			c.ChatID, c.Title, c.MessageCount, formatTimeSince(c.UpdatedAt))
	}
}

// displayFeedbackSummary displays one chat's feedback summary.
//
//nolint:forbidigo // CLI user output function
func displayFeedbackSummary(userID, chatID string, s *session.FeedbackSummary) {
	fmt.Printf("Feedback for chat %s (user %s)\n\n", chatID, userID)
	fmt.Printf("Messages:       %d\n", s.TotalMessages)
	fmt.Printf("With feedback:  %d (%.0f%%)\n", s.MessagesWithFeedback, s.FeedbackRate*percentScale)
	fmt.Printf("Positive:       %d\n", s.Positive)
	fmt.Printf("Negative:       %d\n", s.Negative)

	if len(s.MostCommonCategories) > 0 {
		fmt.Println("\nTop categories:")
		for _, c := range s.MostCommonCategories {
			fmt.Printf("  %s: %d\n", c.Category, c.Count)
		}
	}
}

// displayAnswer displays an assistant reply with its citations.
//
//nolint:forbidigo // CLI user output function
func displayAnswer(chatID string, msg *session.Message) {
	fmt.Printf("[chat %s]\n\n%s\n", chatID, msg.Content)

	if len(msg.References) > 0 {
		fmt.Println("\nReferences:")
		for _, ref := range msg.References {
			fmt.Printf("  - %s (similarity %.2f)\n", ref.DocumentName, ref.Similarity)
		}
	}
}

// presentOrNot renders an optional state value.
func presentOrNot(v string) string {
	if v == "" {
		return "(none)"
	}
	return v
}

// formatTimeSince formats a time duration in a human-readable way.
func formatTimeSince(t time.Time) string {
	if t.IsZero() {
		return "never"
	}

	duration := time.Since(t)

	switch {
	case duration < time.Minute:
		return "just now"
	case duration < time.Hour:
		minutes := int(duration.Minutes())
		if minutes == 1 {
			return "1 minute ago"
		}
		return fmt.Sprintf("%d minutes ago", minutes)
	case duration < hoursPerDay*time.Hour:
		hours := int(duration.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", hours)
	case duration < daysPerWeek*hoursPerDay*time.Hour:
		days := int(duration.Hours() / hoursPerDay)
		if days == 1 {
			return "1 day ago"
		}
		return fmt.Sprintf("%d days ago", days)
	case duration < daysPerMonth*hoursPerDay*time.Hour:
		weeks := int(duration.Hours() / hoursPerDay / daysPerWeek)
		if weeks == 1 {
			return "1 week ago"
		}
		return fmt.Sprintf("%d weeks ago", weeks)
	default:
		months := int(duration.Hours() / hoursPerDay / daysPerMonth)
		if months == 1 {
			return "1 month ago"
		}
		return fmt.Sprintf("%d months ago", months)
	}
}
