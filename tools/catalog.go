package tools

import (
	"context"
	"runtime"
	"time"

	"github.com/alicevoice/agentcore/types"
	"go.uber.org/zap"
)

// InspectTool is the no-op inspection tool planned when a goal matches no category.
const InspectTool = "system.inspect"

// CategoryKeywords maps each category to the words that select it in a goal.
// Matching is case and diacritic insensitive; keywords of four or more
// letters also match as a prefix ("mejlen" selects "mejl").
func CategoryKeywords() map[Category][]string {
	return map[Category][]string{
		CategoryEmail:    {"mejl", "mail", "email", "epost", "inkorg", "inbox", "brev", "meddelande", "message"},
		CategoryCalendar: {"kalender", "calendar", "schema", "schedule", "möte", "meeting", "agenda", "händelse", "event", "bokning"},
		CategoryMusic:    {"musik", "music", "spela", "play", "låt", "song", "spotify", "spellista", "playlist"},
		CategoryFiles:    {"fil", "filer", "file", "files", "dokument", "document", "mapp", "folder"},
	}
}

// DefaultCatalog returns the tool catalog of the Alice assistant.
// Order matters: the planner expands a category in catalog order.
func DefaultCatalog() []ToolSpec {
	return []ToolSpec{
		// email
		{
			Name:        "email.list",
			Category:    CategoryEmail,
			Description: "List recent messages in the inbox",
			DefaultArgs: map[string]any{"limit": 10},
			Always:      true,
		},
		{
			Name:        "email.read",
			Category:    CategoryEmail,
			Description: "Read and summarize messages",
			Keywords:    []string{"läs", "read", "sammanfatta", "summarize", "summary", "olästa", "unread"},
			Default:     true,
		},
		{
			Name:        "email.send",
			Category:    CategoryEmail,
			Description: "Send a message",
			Keywords:    []string{"skicka", "send", "svara", "reply", "maila"},
			Fallback:    "email.draft",
			RateLimit:   &RateLimitConfig{RPS: 1, Burst: 3},
		},
		{
			Name:         "email.draft",
			Category:     CategoryEmail,
			Description:  "Save a message as draft",
			Keywords:     []string{"utkast", "draft"},
			FallbackOnly: true,
		},

		// calendar
		{
			Name:        "calendar.list",
			Category:    CategoryCalendar,
			Description: "List upcoming calendar events",
			DefaultArgs: map[string]any{"days": 1},
			Always:      true,
		},
		{
			Name:        "calendar.create",
			Category:    CategoryCalendar,
			Description: "Create a calendar event",
			Keywords:    []string{"boka", "book", "skapa", "create", "lägg", "add", "planera"},
		},

		// music
		{
			Name:        "music.search",
			Category:    CategoryMusic,
			Description: "Search the music library",
			Keywords:    []string{"sök", "search", "hitta", "find", "leta", "artist", "album"},
			Fallback:    "music.browse",
		},
		{
			Name:        "music.play",
			Category:    CategoryMusic,
			Description: "Start playback",
			Keywords:    []string{"spela", "play", "starta", "start", "lyssna", "listen"},
			Default:     true,
		},
		{
			Name:        "music.pause",
			Category:    CategoryMusic,
			Description: "Pause playback",
			Keywords:    []string{"pausa", "pause", "stoppa", "stop"},
		},
		{
			Name:         "music.browse",
			Category:     CategoryMusic,
			Description:  "Browse curated playlists",
			FallbackOnly: true,
		},

		// files
		{
			Name:        "files.list",
			Category:    CategoryFiles,
			Description: "List files in a directory",
			DefaultArgs: map[string]any{"path": "."},
			Always:      true,
		},
		{
			Name:        "files.read",
			Category:    CategoryFiles,
			Description: "Read a file",
			Keywords:    []string{"öppna", "open", "läs", "read", "visa", "show"},
			Default:     true,
		},
		{
			Name:        "files.write",
			Category:    CategoryFiles,
			Description: "Write a file",
			Keywords:    []string{"spara", "save", "skriv", "write"},
		},

		// system
		{
			Name:        InspectTool,
			Category:    CategorySystem,
			Description: "No-op inspection of the assistant state",
		},
	}
}

// InspectHandler reports process-level facts and never fails.
func InspectHandler(started time.Time) Handler {
	return func(ctx context.Context, args map[string]any) (types.ToolResult, error) {
		return types.ToolSuccess("inspection completed", map[string]any{
			"uptime_seconds": time.Since(started).Seconds(),
			"goroutines":     runtime.NumGoroutine(),
			"goal":           args["goal"],
		}), nil
	}
}

// RegisterCatalog registers every spec of catalog, looking up handlers by name.
// Specs without a handler are skipped; system.inspect falls back to InspectHandler.
func (r *Registry) RegisterCatalog(catalog []ToolSpec, handlers map[string]Handler) error {
	started := time.Now()
	for _, spec := range catalog {
		h, ok := handlers[spec.Name]
		if !ok && spec.Name == InspectTool {
			h, ok = InspectHandler(started), true
		}
		if !ok {
			r.logger.Debug("no handler for catalog tool, skipping", zap.String("name", spec.Name))
			continue
		}
		if err := r.Register(spec, h); err != nil {
			return err
		}
	}
	return nil
}
