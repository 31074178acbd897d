package console

import (
	"tradedash-client/internal/config"
	"tradedash-client/internal/logging"
	"tradedash-client/internal/realtime"
	"tradedash-client/internal/runtime"

	"github.com/charmbracelet/bubbles/spinner"
)

const (
	logChannelBufferSize     = 512
	messageChannelBufferSize = 256
	statusChannelBufferSize  = 16

	logLineLimit    = 200
	messageRowLimit = 100
)

type logMsg string
type statusMsg string
type envelopeMsg realtime.Envelope

type runDoneMsg struct {
	err error
}

type startResultMsg struct {
	err error
}

type statusKind int

const (
	statusPending statusKind = iota
	statusHealthy
	statusTerminal
)

// runner is the part of the runtime controller the view drives.
type runner interface {
	Start(opts config.Options, logger *logging.Logger, hooks runtime.StartHooks) error
	Stop()
}

type messageRow struct {
	timestamp string
	kind      string
	payload   string
}

type consoleModel struct {
	buildVersion string
	opts         config.Options
	runner       runner
	logger       *logging.Logger
	unsubscribe  func()

	logCh    chan string
	statusCh chan string
	msgCh    chan realtime.Envelope
	exitCh   chan error

	spinner  spinner.Model
	status   string
	kind     statusKind
	running  bool
	quitting bool
	exitErr  error

	messages []messageRow
	logs     []string
	received int
	width    int
	height   int
}
