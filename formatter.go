package riglog

import (
	"bytes"
	"slices"
	"strings"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// TraceFieldName carries a multi-line traceback. Text formatters print it
// verbatim below the rendered line instead of as key=value.
const TraceFieldName = "trace"

// Formatter renders one encoded zerolog line into the bytes a sink writes.
type Formatter interface {
	Format(line []byte) ([]byte, error)
}

// JSONFormatter writes the zerolog line unchanged.
type JSONFormatter struct{}

func (JSONFormatter) Format(line []byte) ([]byte, error) {
	out := make([]byte, len(line))
	copy(out, line)
	return out, nil
}

// TextFormatter renders lines with a zerolog.ConsoleWriter.
type TextFormatter struct {
	writer zerolog.ConsoleWriter
	trace  bool
}

// NewTextFormatter builds a console style formatter. Parts name the leading
// columns (time, level, logger, caller, message); every other field follows as
// key=value unless excluded.
func NewTextFormatter(cfg FormatterConfig) *TextFormatter {
	cw := zerolog.ConsoleWriter{
		NoColor:       cfg.NoColor,
		TimeFormat:    cfg.TimeFormat,
		FieldsExclude: append(slices.Clone(cfg.ExcludeFields), TraceFieldName),
	}
	if cw.TimeFormat == emptyString {
		cw.TimeFormat = "2006-01-02 15:04:05"
	}
	if len(cfg.Parts) > 0 {
		parts := make([]string, 0, len(cfg.Parts))
		for _, p := range cfg.Parts {
			name := partFieldName(p)
			parts = append(parts, name)
			switch name {
			case zerolog.TimestampFieldName, zerolog.LevelFieldName, zerolog.CallerFieldName, zerolog.MessageFieldName:
			default:
				// non standard parts would otherwise be repeated as key=value
				cw.FieldsExclude = append(cw.FieldsExclude, name)
			}
		}
		cw.PartsOrder = parts
	}
	return &TextFormatter{writer: cw, trace: !slices.Contains(cfg.ExcludeFields, TraceFieldName)}
}

// WithColor returns a copy with colour switched on or off.
func (f *TextFormatter) WithColor(color bool) *TextFormatter {
	cp := *f
	cp.writer.NoColor = !color
	return &cp
}

func (f *TextFormatter) Format(line []byte) ([]byte, error) {
	var buf bytes.Buffer
	cw := f.writer
	cw.Out = &buf
	if _, err := cw.Write(line); err != nil {
		return nil, err
	}
	if f.trace {
		appendTrace(&buf, line)
	}
	return buf.Bytes(), nil
}

func appendTrace(buf *bytes.Buffer, line []byte) {
	if !bytes.Contains(line, []byte(`"`+TraceFieldName+`"`)) {
		return
	}
	var rec struct {
		Trace string `json:"trace"`
	}
	if err := json.Unmarshal(line, &rec); err != nil || rec.Trace == emptyString {
		return
	}
	buf.WriteString(strings.TrimRight(rec.Trace, "\n"))
	buf.WriteByte('\n')
}

func partFieldName(part string) string {
	switch strings.ToLower(strings.TrimSpace(part)) {
	case "time", "timestamp", "asctime":
		return zerolog.TimestampFieldName
	case "level", "levelname":
		return zerolog.LevelFieldName
	case "caller", "source":
		return zerolog.CallerFieldName
	case "message", "msg":
		return zerolog.MessageFieldName
	case "logger", "name":
		return LoggerFieldName
	default:
		return part
	}
}

// NewFormatter builds the formatter described by cfg.
func NewFormatter(cfg FormatterConfig) Formatter {
	if strings.EqualFold(cfg.Format, "json") {
		return JSONFormatter{}
	}
	return NewTextFormatter(cfg)
}
