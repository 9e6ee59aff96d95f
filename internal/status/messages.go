package status

import (
	"cncpanel/internal/linuxcnc"

	"go.uber.org/zap"
)

const unknownError = "Unknown error!"

// pollErrors drains the daemon error channel. Errors go to the error
// channel and operator text to the message channel; every entry notifies,
// even when the text repeats.
func (p *Plugin) pollErrors() int {
	if p.errSource == nil {
		return 0
	}

	updates := 0
	for _, e := range p.errSource.Errors() {
		text := e.Text
		if text == "" {
			text = unknownError
		}

		switch e.Kind {
		case linuxcnc.NMLError, linuxcnc.OperatorError:
			p.logger.Error("Machine error", zap.String("text", text))
			p.emit(p.errorCh, text)
			updates++
		case linuxcnc.NMLText, linuxcnc.OperatorText, linuxcnc.NMLDisplay, linuxcnc.OperatorDisplay:
			p.logger.Info("Machine message", zap.String("text", text))
			p.emit(p.messageCh, text)
			updates++
		default:
			p.logger.Error("Machine error of unknown kind",
				zap.Int("kind", e.Kind),
				zap.String("text", text))
		}
	}
	return updates
}
