package cli

import (
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"

	"github.com/forgemove/ghmigrate/pkg/console"
	"github.com/forgemove/ghmigrate/pkg/pipeline/plan"
)

// promptForUserInputs interactively collects required plan inputs that were
// not supplied via --input or the inputs file. Secrets use a masked field.
// In non-interactive sessions required inputs stay unresolved and the
// affected actions fail with a suggestion, which is the honest outcome.
func promptForUserInputs(required []plan.UserInput, have map[string]string) error {
	if !isatty.IsTerminal(os.Stdin.Fd()) {
		return nil
	}

	var fields []huh.Field
	values := map[string]*string{}
	for _, input := range required {
		if _, ok := have[input.Key]; ok {
			continue
		}
		if !input.Required {
			continue
		}
		value := new(string)
		values[input.Key] = value

		title := input.Key
		if input.Environment != "" {
			title = fmt.Sprintf("%s (environment %s)", input.Key, input.Environment)
		}
		fields = append(fields, huh.NewInput().
			Title(title).
			Description(input.Reason).
			EchoMode(huh.EchoModePassword).
			Value(value))
	}
	if len(fields) == 0 {
		return nil
	}

	fmt.Fprintln(os.Stderr, console.FormatPromptMessage(
		fmt.Sprintf("%d required values could not be read from the source; enter them now", len(fields))))

	form := huh.NewForm(huh.NewGroup(fields...))
	if err := form.Run(); err != nil {
		return err
	}
	for key, value := range values {
		if *value != "" {
			have[key] = *value
		}
	}
	return nil
}
