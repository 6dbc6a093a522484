package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	outputFormat string // "table", "json", "yaml", "raw"
	outputField  string // for -field=key
)

// secondsFields are rendered as durations in table output.
var secondsFields = map[string]bool{"remaining_time": true}

// printResult outputs data in the chosen format.
func printResult(data map[string]any) {
	writeResult(os.Stdout, data)
}

func writeResult(out io.Writer, data map[string]any) {
	switch outputFormat {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		enc.Encode(data) //nolint:errcheck
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		enc.Encode(data) //nolint:errcheck
		enc.Close()      //nolint:errcheck
	case "raw":
		if outputField != "" {
			if v, ok := data[outputField]; ok {
				fmt.Fprintln(out, v)
			}
		} else {
			for _, k := range sortedKeys(data) {
				fmt.Fprintf(out, "%s=%v\n", k, data[k])
			}
		}
	default: // table
		printTable(out, data)
	}
}

func printTable(out io.Writer, data map[string]any) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, k := range sortedKeys(data) {
		switch val := data[k].(type) {
		case map[string]any:
			fmt.Fprintf(w, "%s\t\n", strings.ToUpper(k))
			for _, kk := range sortedKeys(val) {
				fmt.Fprintf(w, "  %s\t%s\n", kk, formatValue(kk, val[kk]))
			}
		default:
			fmt.Fprintf(w, "%s\t%s\n", k, formatValue(k, val))
		}
	}
	w.Flush()
}

func formatValue(key string, v any) string {
	switch val := v.(type) {
	case nil:
		return "-"
	case []any:
		if len(val) == 0 {
			return "-"
		}
		return joinAny(val)
	case float64:
		if secondsFields[key] {
			return (time.Duration(val) * time.Second).String()
		}
		return fmt.Sprintf("%v", val)
	}
	return fmt.Sprintf("%v", v)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func joinAny(vals []any) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = fmt.Sprintf("%v", v)
	}
	return strings.Join(parts, ", ")
}

func printError(msg string) {
	fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
}

func printSuccess(msg string) {
	fmt.Println(msg)
}
