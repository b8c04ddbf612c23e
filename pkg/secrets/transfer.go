package secrets

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/mcphub/hub/pkg/errs"
)

// Format names an Export/Import wire format (spec §4.10 "export
// (json|env)").
type Format string

const (
	FormatJSON Format = "json"
	FormatEnv  Format = "env"
)

// Export decrypts every stored secret and writes them to w in the
// requested format. json writes {"name":"value",...}; env writes
// NAME=value lines, uppercased and shell-quoted the way a .env consumer
// expects.
func (s *Store) Export(w io.Writer, format Format) error {
	metas, err := s.List()
	if err != nil {
		return err
	}

	values := make(map[string]string, len(metas))
	for _, meta := range metas {
		value, err := s.Get(meta.Name)
		if err != nil {
			return err
		}
		values[meta.Name] = string(value)
	}

	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(values)
	case FormatEnv:
		for name, value := range values {
			if _, err := fmt.Fprintf(w, "%s=%s\n", envKey(name), envQuote(value)); err != nil {
				return errs.Wrap(errs.KindInternal, err, "writing env export")
			}
		}
		return nil
	default:
		return errs.New(errs.KindConfig, "unsupported export format: "+string(format))
	}
}

func envKey(name string) string {
	upper := strings.ToUpper(name)
	var b strings.Builder
	for _, r := range upper {
		if r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}

func envQuote(value string) string {
	if !strings.ContainsAny(value, " \t\n\"'$") {
		return value
	}
	return "\"" + strings.ReplaceAll(strings.ReplaceAll(value, "\\", "\\\\"), "\"", "\\\"") + "\""
}

// Import reads secrets from r in the given format and Sets each one.
func (s *Store) Import(r io.Reader, format Format) error {
	switch format {
	case FormatJSON:
		var values map[string]string
		if err := json.NewDecoder(r).Decode(&values); err != nil {
			return errs.Wrap(errs.KindConfig, err, "decoding json import")
		}
		for name, value := range values {
			if err := s.Set(name, []byte(value), nil); err != nil {
				return err
			}
		}
		return nil
	case FormatEnv:
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			name, value, ok := strings.Cut(line, "=")
			if !ok {
				continue
			}
			if err := s.Set(strings.TrimSpace(name), []byte(unquoteEnv(value)), nil); err != nil {
				return err
			}
		}
		if err := scanner.Err(); err != nil {
			return errs.Wrap(errs.KindConfig, err, "reading env import")
		}
		return nil
	default:
		return errs.New(errs.KindConfig, "unsupported import format: "+string(format))
	}
}

func unquoteEnv(value string) string {
	value = strings.TrimSpace(value)
	if len(value) >= 2 && value[0] == '"' && value[len(value)-1] == '"' {
		inner := value[1 : len(value)-1]
		return strings.ReplaceAll(strings.ReplaceAll(inner, "\\\"", "\""), "\\\\", "\\")
	}
	return value
}
