package loop

import "go.uber.org/zap"

// printer routes script console output to the loop logger.
type printer struct {
	log *zap.Logger
}

func (p printer) Log(s string)   { p.log.Info(s) }
func (p printer) Warn(s string)  { p.log.Warn(s) }
func (p printer) Error(s string) { p.log.Error(s) }
