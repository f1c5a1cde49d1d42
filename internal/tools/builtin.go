package tools

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/0324wy/yana/internal/db"
	"github.com/0324wy/yana/internal/llm"
)

// maxReadBytes caps how much of a file read_file returns.
const maxReadBytes = 64 << 10

// NoteStore is the key-value scratchpad behind the note tools.
type NoteStore interface {
	GetNote(key string) (string, error)
	SetNote(key, value string) error
	DeleteNote(key string) error
	ListNotes() ([]db.Note, error)
}

// Builtins returns the standard tool set. read_file is included only with a
// policy, the note tools only with a store.
func Builtins(policy *PathPolicy, notes NoteStore) []Tool {
	ts := []Tool{GetTime(time.Now)}
	if policy != nil {
		ts = append(ts, ReadFile(policy))
	}
	if notes != nil {
		ts = append(ts, GetNote(notes), SetNote(notes), ListNotes(notes))
	}
	return ts
}

func GetTime(now func() time.Time) Tool {
	return Func{
		Def: llm.Tool{
			Name:        "get_time",
			Description: "Get the current date and time.",
			Parameters: obj(map[string]any{
				"timezone": prop("string", "IANA time zone, e.g. Europe/Berlin. Defaults to local time."),
			}),
		},
		Fn: func(ctx context.Context, args map[string]any) (string, error) {
			t := now()
			if tz, ok := getString(args, "timezone"); ok && tz != "" {
				loc, err := time.LoadLocation(tz)
				if err != nil {
					return "", fmt.Errorf("get_time: unknown timezone %q", tz)
				}
				t = t.In(loc)
			}
			return jsonResult(map[string]any{
				"local": t.Format(time.RFC3339),
				"utc":   t.UTC().Format(time.RFC3339),
				"date":  t.Format("2006-01-02"),
				"day":   t.Weekday().String(),
			}), nil
		},
	}
}

func ReadFile(policy *PathPolicy) Tool {
	return Func{
		Def: llm.Tool{
			Name:        "read_file",
			Description: "Read a text file from one of the allowed directories.",
			Parameters: objReq(map[string]any{
				"path":      prop("string", "File path, absolute or relative to the first allowed directory"),
				"max_bytes": prop("integer", "Return at most this many bytes (default and maximum 65536)"),
			}, "path"),
		},
		Fn: func(ctx context.Context, args map[string]any) (string, error) {
			path, _ := getString(args, "path")
			if path == "" {
				return "", fmt.Errorf("read_file: missing required parameter: path")
			}
			abs, err := policy.Check(path)
			if err != nil {
				return "", fmt.Errorf("read_file: %w", err)
			}

			f, err := os.Open(abs)
			if err != nil {
				return "", fmt.Errorf("read_file: %w", err)
			}
			defer f.Close()

			info, err := f.Stat()
			if err != nil {
				return "", fmt.Errorf("read_file: %w", err)
			}
			if info.IsDir() {
				return "", fmt.Errorf("read_file: %s is a directory", abs)
			}

			limit := int64(maxReadBytes)
			if n, ok := getInt(args, "max_bytes"); ok && n > 0 && n < limit {
				limit = n
			}
			data, err := io.ReadAll(io.LimitReader(f, limit+1))
			if err != nil {
				return "", fmt.Errorf("read_file: %w", err)
			}
			if int64(len(data)) > limit {
				return fmt.Sprintf("%s\n[truncated: showing %s of %s]",
					data[:limit],
					humanize.Bytes(uint64(limit)),
					humanize.Bytes(uint64(info.Size()))), nil
			}
			return string(data), nil
		},
	}
}

func GetNote(notes NoteStore) Tool {
	return Func{
		Def: llm.Tool{
			Name:        "get_note",
			Description: "Get a note by key. Notes are a key-value scratchpad for facts that get updated.",
			Parameters: objReq(map[string]any{
				"key": prop("string", "Note key"),
			}, "key"),
		},
		Fn: func(ctx context.Context, args map[string]any) (string, error) {
			key, _ := getString(args, "key")
			if key == "" {
				return "", fmt.Errorf("get_note: missing required parameter: key")
			}
			val, err := notes.GetNote(key)
			if err != nil {
				return "", fmt.Errorf("get_note: %w", err)
			}
			if val == "" {
				return jsonResult(map[string]any{"value": nil, "message": "no note found for this key"}), nil
			}
			return jsonResult(map[string]any{"value": val}), nil
		},
	}
}

func SetNote(notes NoteStore) Tool {
	return Func{
		Def: llm.Tool{
			Name:        "set_note",
			Description: "Set a note by key, replacing any existing value. An empty value deletes the note.",
			Parameters: objReq(map[string]any{
				"key":   prop("string", "Note key"),
				"value": prop("string", "Note value"),
			}, "key", "value"),
		},
		Fn: func(ctx context.Context, args map[string]any) (string, error) {
			key, _ := getString(args, "key")
			if key == "" {
				return "", fmt.Errorf("set_note: missing required parameter: key")
			}
			value, _ := getString(args, "value")
			if value == "" {
				if err := notes.DeleteNote(key); err != nil {
					return "", fmt.Errorf("set_note: %w", err)
				}
				return jsonResult(map[string]any{"status": "deleted"}), nil
			}
			if err := notes.SetNote(key, value); err != nil {
				return "", fmt.Errorf("set_note: %w", err)
			}
			return jsonResult(map[string]any{"status": "saved"}), nil
		},
	}
}

func ListNotes(notes NoteStore) Tool {
	return Func{
		Def: llm.Tool{
			Name:        "list_notes",
			Description: "List all notes with their keys and values.",
			Parameters:  obj(nil),
		},
		Fn: func(ctx context.Context, args map[string]any) (string, error) {
			list, err := notes.ListNotes()
			if err != nil {
				return "", fmt.Errorf("list_notes: %w", err)
			}
			if list == nil {
				list = []db.Note{}
			}
			return jsonResult(list), nil
		},
	}
}
