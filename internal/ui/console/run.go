package console

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"tradedash-client/internal/config"
	"tradedash-client/internal/logging"
	"tradedash-client/internal/runtime"
)

// Run shows the status view until the user quits or rootCtx ends. The error
// is the one the session stopped with, if any.
func Run(rootCtx context.Context, buildVersion string, opts config.Options, logger *logging.Logger) error {
	if logger == nil {
		panic("console.Run: logger must not be nil")
	}
	logger.SetTerminalOutputEnabled(false)
	defer logger.SetTerminalOutputEnabled(true)

	controller := runtime.NewController(rootCtx)
	m := newConsoleModel(buildVersion, opts, controller, logger)
	program := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(rootCtx))
	result, runErr := program.Run()
	if model, ok := result.(*consoleModel); ok && model != nil {
		model.cleanup()
	}
	controller.Stop()
	controller.Wait(0)
	if runErr != nil && rootCtx.Err() == nil {
		return fmt.Errorf("status view: %w", runErr)
	}
	return m.exitErr
}
