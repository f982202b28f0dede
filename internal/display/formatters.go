package display

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"world-archivist/internal/backup"
)

// OutputFormat selects how command results are printed
type OutputFormat string

const (
	FormatTable OutputFormat = "table"
	FormatJSON  OutputFormat = "json"
	FormatYAML  OutputFormat = "yaml"
)

// ParseOutputFormat validates a format name. Empty means table.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(s)); f {
	case "":
		return FormatTable, nil
	case FormatTable, FormatJSON, FormatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("invalid output format %q, must be one of: table, json, yaml", s)
	}
}

// Renderer prints command results in the selected format
type Renderer struct {
	out    io.Writer
	format OutputFormat
	colors ColorSystem
	border BorderStyle
	width  int
	now    func() time.Time
}

// NewRenderer creates a renderer writing to out. Tables are limited to the
// terminal's width when out is a terminal.
func NewRenderer(out io.Writer, format OutputFormat, colors ColorSystem) *Renderer {
	if colors == nil {
		colors = NewColorSystem(out, PlainTextTheme(), false)
	}
	return &Renderer{
		out:    out,
		format: format,
		colors: colors,
		border: ASCIIBorderStyle,
		width:  terminalWidth(out),
		now:    time.Now,
	}
}

// SetBorder sets the border style of rendered tables
func (r *Renderer) SetBorder(border BorderStyle) {
	r.border = border
}

func (r *Renderer) newTable(headers ...string) *Table {
	table := NewTable(r.colors, headers...)
	table.SetBorder(r.border)
	table.SetMaxWidth(r.width)
	return table
}

// taskView is the serialized form of a backup.TaskResult
type taskView struct {
	World       string `json:"world" yaml:"world"`
	State       string `json:"state" yaml:"state"`
	FailedPhase string `json:"failed_phase,omitempty" yaml:"failed_phase,omitempty"`
	Archive     string `json:"archive,omitempty" yaml:"archive,omitempty"`
	Size        int64  `json:"size" yaml:"size"`
	Checksum    string `json:"checksum,omitempty" yaml:"checksum,omitempty"`
	Entries     int    `json:"entries" yaml:"entries"`
	Bytes       int64  `json:"bytes" yaml:"bytes"`
	Duration    string `json:"duration" yaml:"duration"`
	Error       string `json:"error,omitempty" yaml:"error,omitempty"`
}

func newTaskView(r *backup.TaskResult) taskView {
	v := taskView{
		World:       r.World,
		State:       r.State.String(),
		FailedPhase: string(r.FailedPhase),
		Archive:     r.ArchivePath,
		Size:        r.ArchiveSize,
		Checksum:    r.Checksum,
		Entries:     r.Entries,
		Bytes:       r.Bytes,
		Duration:    r.Duration.Round(time.Millisecond).String(),
	}
	if r.Err != nil {
		v.Error = r.Err.Error()
	}
	return v
}

// Archives prints a backup listing
func (r *Renderer) Archives(archives []backup.ArchiveInfo) error {
	if r.format != FormatTable {
		return r.encode(archives)
	}
	if len(archives) == 0 {
		fmt.Fprintln(r.out, r.colors.Colorize("No backups found.", r.colors.Theme().Muted))
		return nil
	}

	now := r.now()
	table := r.newTable("WORLD", "CAPTURED", "AGE", "SIZE", "FILE")
	table.SetColumnAlignment(3, AlignRight)
	var total uint64
	for _, a := range archives {
		table.AddRow(
			a.World,
			a.CapturedAt.Format("2006-01-02 15:04:05"),
			humanize.RelTime(a.ModTime, now, "ago", "from now"),
			humanize.Bytes(uint64(a.Size)),
			a.Name,
		)
		total += uint64(a.Size)
	}
	table.RenderTo(r.out)
	fmt.Fprintf(r.out, "%s backups, %s total\n", humanize.Comma(int64(len(archives))), humanize.Bytes(total))
	return nil
}

// TaskResults prints the outcome of a backup run
func (r *Renderer) TaskResults(results []*backup.TaskResult) error {
	if r.format != FormatTable {
		views := make([]taskView, 0, len(results))
		for _, res := range results {
			views = append(views, newTaskView(res))
		}
		return r.encode(views)
	}

	theme := r.colors.Theme()
	if len(results) == 0 {
		fmt.Fprintln(r.out, r.colors.Colorize("No worlds were backed up.", theme.Muted))
		return nil
	}
	table := r.newTable("WORLD", "RESULT", "FILES", "SIZE", "DURATION", "DETAIL")
	table.SetColumnAlignment(2, AlignRight)
	table.SetColumnAlignment(3, AlignRight)
	for _, res := range results {
		result, clr, detail := "ok", theme.Success, res.ArchivePath
		switch {
		case res.Err == nil:
		case res.Succeeded():
			result, clr, detail = "warning", theme.Warning, res.Err.Error()
		default:
			result, clr, detail = "failed", theme.Error, fmt.Sprintf("%s: %v", res.FailedPhase, res.Err)
		}
		table.AddRow(
			res.World,
			result,
			strconv.Itoa(res.Entries),
			humanize.Bytes(uint64(res.ArchiveSize)),
			res.Duration.Round(time.Millisecond).String(),
			detail,
		)
		table.SetCellColor(1, clr)
	}
	table.RenderTo(r.out)
	return nil
}

// Retention prints the outcome of a retention pass
func (r *Renderer) Retention(result *backup.RetentionResult) error {
	if r.format != FormatTable {
		return r.encode(result)
	}

	theme := r.colors.Theme()
	verb := "Deleted"
	if result.DryRun {
		verb = "Would delete"
	}

	if len(result.Deleted) > 0 {
		table := r.newTable("BACKUP", "MODIFIED", "SIZE")
		table.SetColumnAlignment(2, AlignRight)
		for _, e := range result.Deleted {
			table.AddRow(e.Name, e.ModTime.Format("2006-01-02 15:04:05"), humanize.Bytes(uint64(e.Size)))
		}
		table.RenderTo(r.out)
	}

	fmt.Fprintf(r.out, "%s %d of %d backups older than %s, kept %d\n",
		verb, len(result.Deleted), result.EntriesScanned, result.Cutoff.Format(time.RFC3339), result.Kept)
	for _, msg := range result.Errors {
		fmt.Fprintln(r.out, r.colors.Colorize("  ! "+msg, theme.Warning))
	}
	return nil
}

// Verify prints an archive verification result
func (r *Renderer) Verify(result *backup.VerifyResult) error {
	if r.format != FormatTable {
		return r.encode(result)
	}
	fmt.Fprintf(r.out, "%s %s: %d entries, %s uncompressed, %s on disk\n",
		r.colors.Colorize("OK", r.colors.Theme().Success),
		result.Path,
		result.Entries,
		humanize.Bytes(uint64(result.UncompressedBytes)),
		humanize.Bytes(uint64(result.CompressedBytes)))
	return nil
}

func (r *Renderer) encode(v interface{}) error {
	switch r.format {
	case FormatJSON:
		enc := json.NewEncoder(r.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case FormatYAML:
		enc := yaml.NewEncoder(r.out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported output format %q", r.format)
	}
}
