package commands

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ldp-project/ldpd/internal/control"
)

var errUnsupportedFormat = errors.New("unsupported output format")

// printResponse renders a control.Response's Data payload as an indented
// JSON document for both the "json" and "table" formats (most control
// responses are unstructured key/value maps, so there is no separate table
// layout). A response with no Data prints "OK", and Data that is not valid
// JSON is printed as-is.
func printResponse(resp control.Response, format string) error {
	if !resp.OK {
		return fmt.Errorf("ldpd: %s", resp.Error)
	}
	switch format {
	case "json", "table":
		if len(resp.Data) == 0 {
			fmt.Println("OK")
			return nil
		}
		var v any
		if err := json.Unmarshal(resp.Data, &v); err != nil {
			fmt.Println(string(resp.Data))
			return nil
		}
		pretty, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("format response: %w", err)
		}
		fmt.Println(string(pretty))
		return nil
	default:
		return fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}
