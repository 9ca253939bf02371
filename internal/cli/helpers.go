package cli

import (
	"encoding/json"
	"fmt"

	"sigs.k8s.io/yaml"
)

// Result is the uniform outcome object every action prints, on success and
// on failure alike. The exit code is the only other signal.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// finish renders the action's outcome in the requested format and passes the
// original error through unchanged for the exit code.
func finish(output string, message string, err error) error {
	res := Result{Success: err == nil, Message: message}
	if err != nil {
		res.Message = err.Error()
	}
	printErr := printAs(res, output, func() {
		if res.Success {
			fmt.Println(res.Message)
		} else {
			fmt.Printf("Error: %s\n", res.Message)
		}
	})
	if err != nil {
		return err
	}
	return printErr
}

// printAs writes v to stdout in the requested format. An empty format falls
// back to the printer fn, which renders the human-readable default.
func printAs(v interface{}, output string, fn func()) error {
	switch output {
	case jsonFormat:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding output: %w", err)
		}
		fmt.Println(string(data))
	case yamlFormat:
		data, err := yaml.Marshal(v)
		if err != nil {
			return fmt.Errorf("encoding output: %w", err)
		}
		fmt.Print(string(data))
	default:
		fn()
	}
	return nil
}
