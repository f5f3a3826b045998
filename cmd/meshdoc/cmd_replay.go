package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/dannyswat/meshdoc"
	"github.com/spf13/cobra"
)

var (
	replayChanges string
	replayState   string
	replayFormat  string

	replayCmd = &cobra.Command{
		Use:   "replay",
		Short: "Apply a JSON-lines log of change messages and print the result",
		Args:  cobra.NoArgs,
		RunE:  runReplay,
	}
)

func init() {
	replayCmd.Flags().StringVar(&replayChanges, "changes", "", "JSON-lines file of change messages, - for stdin")
	replayCmd.Flags().StringVar(&replayState, "state", "", "JSON file holding the initial root element")
	replayCmd.Flags().StringVar(&replayFormat, "format", "html", "output format: html or json")
	_ = replayCmd.MarkFlagRequired("changes")
}

func runReplay(cmd *cobra.Command, args []string) error {
	schema, err := loadSchema(nil)
	if err != nil {
		return err
	}

	var root *meshdoc.ElementSpec
	if replayState != "" {
		data, err := os.ReadFile(replayState)
		if err != nil {
			return fmt.Errorf("error reading state: %w", err)
		}
		root = &meshdoc.ElementSpec{}
		if err := json.Unmarshal(data, root); err != nil {
			return fmt.Errorf("error parsing state: %w", err)
		}
	}

	var in io.Reader = cmd.InOrStdin()
	if replayChanges != "-" {
		f, err := os.Open(replayChanges)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	return replay(cmd.Context(), schema, root, in, cmd.OutOrStdout(), replayFormat)
}

// replay applies every message in r to a new document and writes the final
// tree to w.
func replay(ctx context.Context, schema *meshdoc.MeshSchema, root *meshdoc.ElementSpec, r io.Reader, w io.Writer, format string) error {
	if format != "html" && format != "json" {
		return fmt.Errorf("unknown format %q", format)
	}
	doc, err := meshdoc.NewRuntimeDocument(schema, root, meshdoc.WithPath("replay"))
	if err != nil {
		return err
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line, applied := 0, 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var msg meshdoc.ChangeMessage
		if err := json.Unmarshal([]byte(text), &msg); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		if err := doc.ApplyChange(ctx, &msg); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		applied++
	}
	if err := sc.Err(); err != nil {
		return err
	}
	slog.Info("replay finished", "messages", applied, "document_id", doc.ID())

	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(doc.Root().Spec().Element)
	}
	out, err := meshdoc.RenderHTML(doc.Root())
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, out)
	return err
}
